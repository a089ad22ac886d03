package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Log       LogConfig
	Cache     CacheConfig
	SMTP      SMTPConfig
	Storage   StorageConfig
	Reminders ReminderConfig
	Regions   RegionsConfig
	Privacy   PrivacyConfig
}

type ServerConfig struct {
	Port      int
	Env       string
	RateLimit float64
	RateBurst int
	// MaxBodyBytes caps JSON request bodies; photo uploads use Storage.MaxPhotoBytes.
	MaxBodyBytes int64
}

// IsProduction reports whether the service runs in production.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

type LogConfig struct {
	Level  string
	Format string // json or console
}

// CacheConfig selects the statistics cache backend.
type CacheConfig struct {
	Driver    string // memory or redis
	RedisAddr string
	RedisDB   int
	Password  string
	Prefix    string
	TTL       time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// Enabled false sends notifications to the log instead of a mail server.
	Enabled bool
}

// StorageConfig configures the S3 bucket for inspection photos. Endpoint is
// set for MinIO or other S3-compatible servers.
type StorageConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	MaxPhotoBytes int64
	PresignTTL    time.Duration
}

type ReminderConfig struct {
	Enabled  bool
	Schedule string
	LeadDays int
}

// RegionsConfig points at a region table override. Empty uses the built-in table.
type RegionsConfig struct {
	Path string
}

type PrivacyConfig struct {
	GuardEnabled   bool
	ExemptPrefixes []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			Env:          getEnv("ENV", "development"),
			RateLimit:    getEnvFloat("RATE_LIMIT_RPS", 20),
			RateBurst:    getEnvInt("RATE_LIMIT_BURST", 40),
			MaxBodyBytes: int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "aed"),
			Password: getEnv("DB_PASSWORD", "aed"),
			Database: getEnv("DB_NAME", "aed"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Cache: CacheConfig{
			Driver:    getEnv("CACHE_DRIVER", "memory"),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvInt("REDIS_DB", 0),
			Password:  getEnv("REDIS_PASSWORD", ""),
			Prefix:    getEnv("CACHE_PREFIX", "aed:"),
			TTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@aed.local"),
			FromName: getEnv("SMTP_FROM_NAME", "AED 점검 관리"),
			Enabled:  getEnvBool("SMTP_ENABLED", false),
		},
		Storage: StorageConfig{
			Bucket:        getEnv("S3_BUCKET", "aed-inspection-photos"),
			Region:        getEnv("S3_REGION", "ap-northeast-2"),
			Endpoint:      getEnv("S3_ENDPOINT", ""),
			AccessKey:     getEnv("S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("S3_SECRET_KEY", ""),
			UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE", false),
			MaxPhotoBytes: int64(getEnvInt("PHOTO_MAX_BYTES", 10<<20)),
			PresignTTL:    getEnvDuration("PHOTO_PRESIGN_TTL", 15*time.Minute),
		},
		Reminders: ReminderConfig{
			Enabled:  getEnvBool("REMINDERS_ENABLED", true),
			Schedule: getEnv("REMINDERS_SCHEDULE", "0 8 * * *"),
			LeadDays: getEnvInt("REMINDERS_LEAD_DAYS", 30),
		},
		Regions: RegionsConfig{
			Path: getEnv("REGIONS_FILE", ""),
		},
		Privacy: PrivacyConfig{
			GuardEnabled:   getEnvBool("PRIVACY_GUARD_ENABLED", true),
			ExemptPrefixes: getEnvSlice("PRIVACY_EXEMPT_PREFIXES", []string{"/api/v1/me", "/api/v1/users"}),
		},
	}
	return cfg, cfg.Validate()
}

// Validate reports inconsistent settings. Production additionally requires
// real secrets.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d out of range", c.Server.Port))
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("CACHE_DRIVER must be memory or redis, got %q", c.Cache.Driver))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format))
	}
	if c.Reminders.LeadDays < 0 {
		errs = append(errs, errors.New("REMINDERS_LEAD_DAYS must not be negative"))
	}
	if c.Storage.MaxPhotoBytes <= 0 {
		errs = append(errs, errors.New("PHOTO_MAX_BYTES must be positive"))
	}

	if c.Server.IsProduction() {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-secret-change-in-prod" {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
		if c.SMTP.Enabled && c.SMTP.Username == "" {
			errs = append(errs, errors.New("SMTP_USERNAME must be set when SMTP is enabled"))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
