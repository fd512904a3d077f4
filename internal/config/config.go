package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/codeloft/codeloft/internal/slogging"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Collab   CollabConfig   `yaml:"collab"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     string `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSL_MODE"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string `yaml:"secret" env:"JWT_SECRET"`
	ExpirationSeconds int    `yaml:"expiration_seconds" env:"JWT_EXPIRATION_SECONDS"`
	SigningMethod     string `yaml:"signing_method" env:"JWT_SIGNING_METHOD"`
}

// CollabConfig holds collaborative editing session configuration
type CollabConfig struct {
	// SessionCapacity bounds the number of distinct files with live sessions (LRU)
	SessionCapacity int `yaml:"session_capacity" env:"COLLAB_SESSION_CAPACITY"`
	// ConnectionMembershipCapacity bounds file memberships per connection
	ConnectionMembershipCapacity int `yaml:"connection_membership_capacity" env:"COLLAB_CONNECTION_MEMBERSHIP_CAPACITY"`
	// InactivityThreshold is how long a member may be idle before the sweeper removes them
	InactivityThreshold time.Duration `yaml:"inactivity_threshold" env:"COLLAB_INACTIVITY_THRESHOLD"`
	// SweepInterval is how often the reap sweeper runs
	SweepInterval time.Duration `yaml:"sweep_interval" env:"COLLAB_SWEEP_INTERVAL"`
	// CursorEventLimit is the max cursor updates per connection per rate window
	CursorEventLimit int `yaml:"cursor_event_limit" env:"COLLAB_CURSOR_EVENT_LIMIT"`
	// EditEventLimit is the max edit broadcasts per connection per rate window
	EditEventLimit int `yaml:"edit_event_limit" env:"COLLAB_EDIT_EVENT_LIMIT"`
	// RateWindow is the sliding window length for both rate limit policies
	RateWindow time.Duration `yaml:"rate_window" env:"COLLAB_RATE_WINDOW"`
	// OperationLogWindow is how many recent operations are retained per file
	OperationLogWindow int `yaml:"operation_log_window" env:"COLLAB_OPERATION_LOG_WINDOW"`
	// AccessCheckTimeout bounds the external ownership lookup during join
	AccessCheckTimeout time.Duration `yaml:"access_check_timeout" env:"COLLAB_ACCESS_CHECK_TIMEOUT"`
	// AccessCacheTTL is how long cached access decisions remain valid
	AccessCacheTTL time.Duration `yaml:"access_cache_ttl" env:"COLLAB_ACCESS_CACHE_TTL"`
	// SendQueueSize is the per-connection outbound message queue capacity
	SendQueueSize int `yaml:"send_queue_size" env:"COLLAB_SEND_QUEUE_SIZE"`
	// ReadLimitBytes caps the size of an inbound websocket message
	ReadLimitBytes int64 `yaml:"read_limit_bytes" env:"COLLAB_READ_LIMIT_BYTES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOG_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOG_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOG_ALSO_CONSOLE"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Interface:    "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "codeloft",
				Password: "",
				Database: "codeloft",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Host:     "localhost",
				Port:     "6379",
				Password: "",
				DB:       0,
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Secret:            "",
				ExpirationSeconds: 3600,
				SigningMethod:     "HS256",
			},
		},
		Collab: CollabConfig{
			SessionCapacity:              1000,
			ConnectionMembershipCapacity: 500,
			InactivityThreshold:          time.Hour,
			SweepInterval:                time.Hour,
			CursorEventLimit:             30,
			EditEventLimit:               10,
			RateWindow:                   time.Second,
			OperationLogWindow:           100,
			AccessCheckTimeout:           3 * time.Second,
			AccessCacheTTL:               15 * time.Minute,
			SendQueueSize:                256,
			ReadLimitBytes:               64 * 1024,
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            true,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
	}
}

// Load loads configuration from an optional YAML file and environment overrides
func Load(configFile string) (*Config, error) {
	config := Default()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, err
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		// Get environment variable name from tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		// Get environment variable value
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		// Set field value based on type
		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a struct field value from a string based on the field type
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	case reflect.Slice:
		// Handle string slices (comma-separated values)
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := make([]string, 0, len(parts))
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					slice = append(slice, trimmed)
				}
			}
			field.Set(reflect.ValueOf(slice))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	// Validate database configuration
	if c.Database.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if c.Database.Postgres.Port == "" {
		return fmt.Errorf("postgres port is required")
	}
	if c.Database.Postgres.User == "" {
		return fmt.Errorf("postgres user is required")
	}
	if c.Database.Postgres.Database == "" {
		return fmt.Errorf("postgres database is required")
	}

	if c.Database.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Database.Redis.Port == "" {
		return fmt.Errorf("redis port is required")
	}

	// Validate JWT configuration
	if c.Auth.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.Auth.JWT.ExpirationSeconds <= 0 {
		return fmt.Errorf("jwt expiration must be greater than 0")
	}

	// Validate collaboration configuration
	if c.Collab.SessionCapacity <= 0 {
		return fmt.Errorf("collab session capacity must be greater than 0")
	}
	if c.Collab.ConnectionMembershipCapacity <= 0 {
		return fmt.Errorf("collab connection membership capacity must be greater than 0")
	}
	if c.Collab.CursorEventLimit <= 0 || c.Collab.EditEventLimit <= 0 {
		return fmt.Errorf("collab rate limits must be greater than 0")
	}
	if c.Collab.RateWindow <= 0 {
		return fmt.Errorf("collab rate window must be greater than 0")
	}
	if c.Collab.OperationLogWindow <= 0 {
		return fmt.Errorf("collab operation log window must be greater than 0")
	}
	if c.Collab.InactivityThreshold < time.Minute {
		return fmt.Errorf("collab inactivity threshold must be at least 1 minute")
	}
	if c.Collab.SweepInterval < time.Second {
		return fmt.Errorf("collab sweep interval must be at least 1 second")
	}

	return nil
}

// IsTestMode returns true if running in test mode
func (c *Config) IsTestMode() bool {
	return isRunningInTest()
}

// isRunningInTest detects if we're running under 'go test'
func isRunningInTest() bool {
	return flag.Lookup("test.v") != nil
}

// GetJWTDuration returns the JWT expiration duration
func (c *Config) GetJWTDuration() time.Duration {
	return time.Duration(c.Auth.JWT.ExpirationSeconds) * time.Second
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// PostgresDSN builds the postgres connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Postgres.Host,
		c.Database.Postgres.Port,
		c.Database.Postgres.User,
		c.Database.Postgres.Password,
		c.Database.Postgres.Database,
		c.Database.Postgres.SSLMode,
	)
}

// RedisAddr builds the redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Database.Redis.Host, c.Database.Redis.Port)
}
