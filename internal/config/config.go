package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Session      SessionConfig
	Broker       BrokerConfig
	Verification VerificationConfig
	Email        EmailConfig
	Operator     OperatorConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port           string
	Environment    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	FrontendOrigin string
}

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type SessionConfig struct {
	Backend     string // redis, sql or memory
	StorageKey  string
	StateSecret string
	StateExpiry time.Duration
	BrokerName  string
}

type BrokerConfig struct {
	APIBaseURL string
	LoginURL   string
	Timeout    time.Duration
}

type VerificationConfig struct {
	PlanPath         string
	BackendURL       string
	FrontendURL      string
	ProbeTimeout     time.Duration
	Deadline         time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	DegradedLatency  time.Duration
	Parallelism      int
	ScheduleInterval time.Duration
}

type EmailConfig struct {
	Enabled    bool
	APIKey     string // Resend; takes precedence over WebhookURL
	WebhookURL string
	FromEmail  string
	FromName   string
	To         []string
	Timeout    time.Duration
}

type OperatorConfig struct {
	TokenHash string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			FrontendOrigin: getEnv("FRONTEND_ORIGIN", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "broker"),
			Password:   getEnv("DB_PASSWORD", "broker"),
			DBName:     getEnv("DB_NAME", "brokerdb"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "verification.db"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Backend:     getEnv("SESSION_BACKEND", "redis"),
			StorageKey:  getEnv("SESSION_STORAGE_KEY", "active-broker-session"),
			StateSecret: getEnv("SESSION_STATE_SECRET", ""),
			StateExpiry: getDurationEnv("SESSION_STATE_EXPIRY", 10*time.Minute),
			BrokerName:  getEnv("BROKER_NAME", "zerodha"),
		},
		Broker: BrokerConfig{
			APIBaseURL: getEnv("BROKER_API_URL", "https://api.kite.trade"),
			LoginURL:   getEnv("BROKER_LOGIN_URL", "https://kite.trade/connect/login"),
			Timeout:    getDurationEnv("BROKER_TIMEOUT", 20*time.Second),
		},
		Verification: VerificationConfig{
			PlanPath:         getEnv("VERIFY_PLAN_PATH", ""),
			BackendURL:       getEnv("VERIFY_BACKEND_URL", "http://localhost:8080"),
			FrontendURL:      getEnv("VERIFY_FRONTEND_URL", "http://localhost:3000"),
			ProbeTimeout:     getDurationEnv("VERIFY_PROBE_TIMEOUT", 5*time.Second),
			Deadline:         getDurationEnv("VERIFY_DEADLINE", 60*time.Second),
			MaxRetries:       getIntEnv("VERIFY_MAX_RETRIES", 3),
			RetryBaseDelay:   getDurationEnv("VERIFY_RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:    getDurationEnv("VERIFY_RETRY_MAX_DELAY", 5*time.Second),
			DegradedLatency:  getDurationEnv("VERIFY_DEGRADED_LATENCY", time.Second),
			Parallelism:      getIntEnv("VERIFY_PARALLELISM", 0),
			ScheduleInterval: getDurationEnv("VERIFY_SCHEDULE_INTERVAL", 0),
		},
		Email: EmailConfig{
			Enabled:    getBoolEnv("EMAIL_ENABLED", false),
			APIKey:     getEnv("RESEND_API_KEY", ""),
			WebhookURL: getEnv("EMAIL_WEBHOOK_URL", ""),
			FromEmail:  getEnv("EMAIL_FROM", ""),
			FromName:   getEnv("EMAIL_FROM_NAME", "Broker Auth Verification"),
			To:         getListEnv("EMAIL_TO"),
			Timeout:    getDurationEnv("EMAIL_TIMEOUT", 10*time.Second),
		},
		Operator: OperatorConfig{
			TokenHash: getEnv("OPERATOR_TOKEN_HASH", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations the service cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Session.Backend {
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("SESSION_BACKEND=redis requires REDIS_ENABLED=true")
		}
	case "sql", "memory":
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND %q", c.Session.Backend)
	}

	if c.Verification.MaxRetries < 0 {
		return fmt.Errorf("VERIFY_MAX_RETRIES must not be negative")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
