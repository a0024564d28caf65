// Package config provides environment-based configuration management.
// Values come from the process environment; a local .env file is loaded
// first when present.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr string // Format: host:port. Empty selects the in-process dedup cache
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port             int
	OwnerScope       string // rule owner the webhook matches against, empty = all owners
	LogLevel         string // debug|info|warn|error
	LogFormat        string // json|text
	AutoReplyMessage string // used when a rule has no message text
	CatalogURL       string // DM auto-reply card link, empty disables DM replies
	CatalogImageURL  string // optional card image
	PrivacyContact   string // shown on /privacy-policy
}

// InstagramConfig holds webhook and Graph API credentials
type InstagramConfig struct {
	AppSecret       string // HMAC key for X-Hub-Signature(-256)
	VerifyToken     string // webhook verification handshake
	PageAccessToken string
	PageID          string // sender for DMs; resolved via /me when empty
	BusinessID      string // our own IG account, used to ignore self events
	Username        string
	APIVersion      string
	BaseURL         string
	Timeout         time.Duration
	RPS             float64 // outbound Graph calls per second, 0 = unlimited
}

// DedupConfig holds delivery de-duplication windows
type DedupConfig struct {
	BodyTTL   time.Duration // raw-body hash window
	EventTTL  time.Duration // comment/message id window
	MaxEvents int           // capacity of the in-process cache
}

// WatchdogConfig controls webhook audit log retention
type WatchdogConfig struct {
	Interval      time.Duration
	DiskThreshold float64 // percent
	Retention     time.Duration
}

// OTELConfig defines OpenTelemetry settings
type OTELConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// Config aggregates all configuration sections
type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	App       AppConfig
	Instagram InstagramConfig
	Dedup     DedupConfig
	Watchdog  WatchdogConfig
	OTEL      OTELConfig
}

// LoadConfig reads configuration from environment variables
// Returns error if critical variables are missing
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{}

	// Database Configuration
	cfg.DB.Host = getEnv("DB_HOST", "autoreply_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "ig_autoreply")

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.OwnerScope = getEnv("OWNER_SCOPE", "")
	cfg.App.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.App.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	cfg.App.AutoReplyMessage = getEnv("AUTO_REPLY_MESSAGE", "Thanks for your comment!")
	cfg.App.CatalogURL = strings.TrimSpace(getEnv("CATALOG_URL", ""))
	cfg.App.CatalogImageURL = strings.TrimSpace(getEnv("CAROUSEL_IMAGE_URL", ""))
	cfg.App.PrivacyContact = getEnv("PRIVACY_CONTACT", "contact@example.com")

	// Instagram Configuration
	cfg.Instagram.AppSecret = strings.TrimSpace(getEnv("APP_SECRET", ""))
	cfg.Instagram.VerifyToken = getEnv("VERIFY_TOKEN", "")
	cfg.Instagram.PageAccessToken = getEnv("PAGE_ACCESS_TOKEN", "")
	cfg.Instagram.PageID = getEnv("PAGE_ID", "")
	cfg.Instagram.BusinessID = getEnv("IG_BUSINESS_ID", "")
	cfg.Instagram.Username = getEnv("IG_USERNAME", "")
	cfg.Instagram.APIVersion = getEnv("GRAPH_API_VERSION", "v21.0")
	cfg.Instagram.BaseURL = strings.TrimRight(getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"), "/")
	cfg.Instagram.Timeout = getEnvAsDuration("GRAPH_TIMEOUT", 20*time.Second)
	cfg.Instagram.RPS = getEnvAsFloat("GRAPH_RPS", 10)

	// Dedup Configuration
	cfg.Dedup.BodyTTL = getEnvAsDuration("DEDUP_BODY_TTL", 10*time.Minute)
	cfg.Dedup.EventTTL = getEnvAsDuration("DEDUP_EVENT_TTL", 24*time.Hour)
	cfg.Dedup.MaxEvents = getEnvAsInt("DEDUP_MAX_EVENTS", 10000)

	// Watchdog Configuration
	cfg.Watchdog.Interval = getEnvAsDuration("WATCHDOG_INTERVAL", 10*time.Minute)
	cfg.Watchdog.DiskThreshold = getEnvAsFloat("WATCHDOG_DISK_THRESHOLD", 70)
	cfg.Watchdog.Retention = getEnvAsDuration("WEBHOOK_LOG_RETENTION", 7*24*time.Hour)

	// Observability
	cfg.OTEL.Enabled = getEnvAsBool("OTEL_ENABLED", false)
	cfg.OTEL.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	cfg.OTEL.Insecure = getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true)
	cfg.OTEL.ServiceName = getEnv("OTEL_SERVICE_NAME", "ig-autoreply")
	cfg.OTEL.SampleRatio = getEnvAsFloat("OTEL_TRACES_SAMPLER_ARG", 1.0)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DB.Password == "" {
		return fmt.Errorf("DB_PASS environment variable is required")
	}
	if c.Instagram.AppSecret == "" {
		return fmt.Errorf("APP_SECRET environment variable is required")
	}
	if c.Instagram.VerifyToken == "" {
		return fmt.Errorf("VERIFY_TOKEN environment variable is required")
	}
	if c.App.LogLevel == "warning" {
		c.App.LogLevel = "warn"
	}
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	if c.App.LogFormat != "json" && c.App.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	if c.Instagram.Timeout <= 0 {
		return fmt.Errorf("GRAPH_TIMEOUT must be a positive duration")
	}
	if c.Instagram.RPS < 0 {
		return fmt.Errorf("GRAPH_RPS must be >= 0")
	}
	if c.Dedup.BodyTTL <= 0 || c.Dedup.EventTTL <= 0 {
		return fmt.Errorf("DEDUP_BODY_TTL and DEDUP_EVENT_TTL must be positive durations")
	}
	if c.Dedup.MaxEvents < 1 {
		return fmt.Errorf("DEDUP_MAX_EVENTS must be >= 1")
	}
	if c.Watchdog.DiskThreshold <= 0 || c.Watchdog.DiskThreshold > 100 {
		return fmt.Errorf("WATCHDOG_DISK_THRESHOLD must be in (0,100]")
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.MultiStatements = true // required by the migration driver
	return mc.FormatDSN()
}

// SlogLevel maps LogLevel to a slog.Level
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
