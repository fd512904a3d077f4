package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/codeloft/codeloft/internal/config"
	"github.com/codeloft/codeloft/internal/slogging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server assembles the collaboration core: registry, broadcaster, gateway,
// and reap sweeper, exposed over a gin router.
type Server struct {
	config      *config.Config
	router      *gin.Engine
	registry    *SessionRegistry
	broadcaster *Broadcaster
	hub         *WebSocketHub
	sweeper     *ReapSweeper
}

// NewServer wires the collaboration service over the given database and
// redis handles. The database backs the access gate's ownership lookups;
// redis caches its allow decisions.
func NewServer(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Server, error) {
	registry, err := NewSessionRegistry(cfg.Collab.SessionCapacity, cfg.Collab.OperationLogWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}

	var gate AccessGate = NewGormAccessGate(db, cfg.Collab.AccessCheckTimeout)
	if rdb != nil {
		gate = NewCachedAccessGate(gate, rdb, cfg.Collab.AccessCacheTTL)
	}

	broadcaster := NewBroadcaster(registry, gate, NewSlidingWindowRateLimiter(), BroadcasterConfig{
		CursorPolicy: RateLimitPolicy{
			MaxEvents: cfg.Collab.CursorEventLimit,
			Window:    cfg.Collab.RateWindow,
		},
		EditPolicy: RateLimitPolicy{
			MaxEvents: cfg.Collab.EditEventLimit,
			Window:    cfg.Collab.RateWindow,
		},
		ConnectionMembershipCapacity: cfg.Collab.ConnectionMembershipCapacity,
	})

	hub := NewWebSocketHub(broadcaster, GatewayConfig{
		SendQueueSize:  cfg.Collab.SendQueueSize,
		ReadLimitBytes: cfg.Collab.ReadLimitBytes,
	})

	sweeper := NewReapSweeper(registry, cfg.Collab.SweepInterval, cfg.Collab.InactivityThreshold)

	s := &Server{
		config:      cfg,
		registry:    registry,
		broadcaster: broadcaster,
		hub:         hub,
		sweeper:     sweeper,
	}
	s.router = s.buildRouter()

	return s, nil
}

// buildRouter registers the HTTP surface
func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"sessions":    s.registry.Len(),
			"connections": s.hub.ClientCount(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws/collab", s.jwtMiddleware(), s.hub.HandleWS)

	return router
}

// jwtMiddleware validates the bearer token and stores the authenticated
// identity in the request context for the websocket handler.
func (s *Server) jwtMiddleware() gin.HandlerFunc {
	secret := []byte(s.config.Auth.JWT.Secret)

	return func(c *gin.Context) {
		tokenStr := ""

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid Authorization header format"})
				c.Abort()
				return
			}
			tokenStr = parts[1]
		} else {
			// Browsers cannot set headers on websocket upgrades; accept
			// the token as a query parameter there
			tokenStr = c.Query("token")
		}

		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing bearer token"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid or expired token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid token claims"})
			c.Abort()
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "token missing subject"})
			c.Abort()
			return
		}
		c.Set("userID", sub)
		if name, _ := claims["name"].(string); name != "" {
			c.Set("user_name", name)
		}

		c.Next()
	}
}

// Router returns the gin engine for mounting into an http.Server
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start launches the background workers
func (s *Server) Start(ctx context.Context) error {
	return s.sweeper.Start(ctx)
}

// Shutdown stops the workers and disconnects all clients
func (s *Server) Shutdown() {
	s.sweeper.Stop()
	s.hub.Shutdown()
	slogging.Get().Info("collaboration server shut down")
}
