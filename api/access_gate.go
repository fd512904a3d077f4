package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeloft/codeloft/internal/slogging"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AccessGate answers whether a user may join a file's editing session.
// Implementations must fail closed: any ambiguity or lookup failure is a
// denial, never an allowance.
type AccessGate interface {
	CheckAccess(ctx context.Context, fileID, userID string) (bool, error)
}

// FileRecord is the persistence row for a file, owned by the platform's
// CRUD surface; the collaboration core only reads it.
type FileRecord struct {
	ID        string `gorm:"column:id;primaryKey"`
	ProjectID string `gorm:"column:project_id;index"`
	Name      string `gorm:"column:name"`
	Path      string `gorm:"column:path"`
}

// TableName returns the files table name
func (FileRecord) TableName() string { return "files" }

// ProjectRecord is the persistence row for a project
type ProjectRecord struct {
	ID          string `gorm:"column:id;primaryKey"`
	OwnerUserID string `gorm:"column:owner_user_id;index"`
	Name        string `gorm:"column:name"`
}

// TableName returns the projects table name
func (ProjectRecord) TableName() string { return "projects" }

// GormAccessGate checks file access against the ownership store: fetch the
// file, fetch its owning project, and allow iff the requesting user owns
// the project.
//
// TODO: extend to project collaborators once collaborator roles land in
// the projects schema; ownership-only is the current platform semantics.
type GormAccessGate struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewGormAccessGate creates a gate over the given database. The timeout
// bounds each lookup; an expired lookup is a denial.
func NewGormAccessGate(db *gorm.DB, timeout time.Duration) *GormAccessGate {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &GormAccessGate{db: db, timeout: timeout}
}

// CheckAccess returns (true, nil) only when userID owns the project that
// owns fileID. Missing rows are a plain denial; store errors are returned
// so callers can log them distinctly, but the decision is still denial.
func (g *GormAccessGate) CheckAccess(ctx context.Context, fileID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var file FileRecord
	if err := g.db.WithContext(ctx).Select("id", "project_id").First(&file, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("file lookup failed: %w", err)
	}

	var project ProjectRecord
	if err := g.db.WithContext(ctx).Select("id", "owner_user_id").First(&project, "id = ?", file.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("project lookup failed: %w", err)
	}

	return project.OwnerUserID == userID, nil
}

// CachedAccessGate decorates another gate with a Redis decision cache so
// repeated joins skip the database. Only allow decisions are cached;
// denials are always re-checked against the store.
type CachedAccessGate struct {
	next AccessGate
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedAccessGate wraps next with a Redis cache
func NewCachedAccessGate(next AccessGate, rdb *redis.Client, ttl time.Duration) *CachedAccessGate {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedAccessGate{next: next, rdb: rdb, ttl: ttl}
}

func accessCacheKey(fileID, userID string) string {
	return fmt.Sprintf("collab:access:%s:%s", fileID, userID)
}

// CheckAccess consults the cache before delegating. Redis failures fall
// through to the underlying gate rather than deciding either way.
func (g *CachedAccessGate) CheckAccess(ctx context.Context, fileID, userID string) (bool, error) {
	logger := slogging.Get()
	key := accessCacheKey(fileID, userID)

	val, err := g.rdb.Get(ctx, key).Result()
	if err == nil && val == "1" {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Debug("access cache read failed for %s: %v", key, err)
	}

	allowed, err := g.next.CheckAccess(ctx, fileID, userID)
	if err != nil {
		return false, err
	}

	if allowed {
		if err := g.rdb.Set(ctx, key, "1", g.ttl).Err(); err != nil {
			logger.Debug("access cache write failed for %s: %v", key, err)
		}
	}

	return allowed, nil
}

// InvalidateAccess drops any cached decision for (fileID, userID). Called
// by the ownership CRUD surface when project ownership changes.
func (g *CachedAccessGate) InvalidateAccess(ctx context.Context, fileID, userID string) error {
	return g.rdb.Del(ctx, accessCacheKey(fileID, userID)).Err()
}
