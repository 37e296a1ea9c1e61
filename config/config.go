package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	AWS          AWSConfig
	Store        StoreConfig
	Broadcast    BroadcastConfig
	Ingest       IngestConfig
	Notification NotificationConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// StoreConfig selects where state is kept. The memory driver is for local
// development and loses everything on restart.
type StoreConfig struct {
	Driver string
}

// BroadcastConfig holds the timing of the background loops.
type BroadcastConfig struct {
	ReminderLead   time.Duration
	IdleTimeout    time.Duration
	ReapInterval   time.Duration
	SweepInterval  time.Duration
	SampleInterval time.Duration
}

// IngestConfig holds media server and pipeline settings.
type IngestConfig struct {
	RTMPBaseURL   string // publishers push to RTMPBaseURL/<ingest key>
	FFmpegPath    string
	OutputDir     string // HLS segments and local recordings; empty = os.TempDir()
	WebhookSecret string
}

// Notification delivery modes.
const (
	DeliveryQueue = "queue"
	DeliveryLog   = "log"
)

// NotificationConfig holds notification delivery settings.
type NotificationConfig struct {
	Delivery    string
	MaxAttempts int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livestream"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Broadcast: BroadcastConfig{
			ReminderLead:   getEnvDuration("REMINDER_LEAD", 30*time.Minute),
			IdleTimeout:    getEnvDuration("VIEWER_IDLE_TIMEOUT", 90*time.Second),
			ReapInterval:   getEnvDuration("VIEWER_REAP_INTERVAL", 30*time.Second),
			SweepInterval:  getEnvDuration("NOTIFICATION_SWEEP_INTERVAL", time.Minute),
			SampleInterval: getEnvDuration("ANALYTICS_SAMPLE_INTERVAL", time.Minute),
		},
		Ingest: IngestConfig{
			RTMPBaseURL:   getEnv("INGEST_RTMP_BASE_URL", "rtmp://localhost:1935/live"),
			FFmpegPath:    getEnv("FFMPEG_PATH", "ffmpeg"),
			OutputDir:     getEnv("MEDIA_OUTPUT_DIR", ""),
			WebhookSecret: getEnv("INGEST_WEBHOOK_SECRET", ""),
		},
		Notification: NotificationConfig{
			Delivery:    strings.ToLower(getEnv("NOTIFICATION_DELIVERY", DeliveryQueue)),
			MaxAttempts: getEnvInt("NOTIFICATION_MAX_ATTEMPTS", 5),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Notification.Delivery {
	case DeliveryQueue, DeliveryLog:
	default:
		return fmt.Errorf("config: unknown NOTIFICATION_DELIVERY %q", c.Notification.Delivery)
	}
	if c.Broadcast.IdleTimeout <= c.Broadcast.ReapInterval {
		return fmt.Errorf("config: VIEWER_IDLE_TIMEOUT (%s) must exceed VIEWER_REAP_INTERVAL (%s)",
			c.Broadcast.IdleTimeout, c.Broadcast.ReapInterval)
	}
	if c.Notification.MaxAttempts < 1 {
		return fmt.Errorf("config: NOTIFICATION_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
