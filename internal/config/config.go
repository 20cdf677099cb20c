package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database     DatabaseConfig
	JWT          JWTConfig
	App          AppConfig
	Redis        RedisConfig
	Notification NotificationConfig
	Client       ClientConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret           string
	AccessExpiration string
}

// AppConfig holds application configuration
type AppConfig struct {
	Port           int
	Env            string
	LogLevel       string
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client IP
	RateBurst      int
}

// RedisConfig is optional. An empty Addr disables the relay and fanout.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	RequestsChannel string
	EventsChannel   string
}

// NotificationConfig holds the gateway's notification pipeline settings
type NotificationConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	WorkerCount   int
	QueueSize     int
	Retention     time.Duration
	PurgeInterval time.Duration
	AuthTimeout   time.Duration
	PingInterval  time.Duration
}

// ClientConfig holds the dashboard client settings used by cmd/watch.
type ClientConfig struct {
	PushURL              string
	APIURL               string
	Role                 string
	Token                string
	ReconnectDelay       time.Duration
	ReconnectMaxFailures int
	PageSize             int
}

// Load reads the gateway configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	config, err := load()
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadClient reads only what the dashboard client needs.
func LoadClient() (*Config, error) {
	config, err := load()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateClient(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config := &Config{}
	var p parser

	// Database configuration
	config.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     p.int("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "dispatch_notify"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		MaxConns: p.int("DB_MAX_CONNS", 25),
	}

	// Application configuration
	config.App = AppConfig{
		Port:           p.int("APP_PORT", 8080),
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		RateLimit:      p.float("RATE_LIMIT_RPS", 20),
		RateBurst:      p.int("RATE_LIMIT_BURST", 40),
	}

	// JWT configuration
	config.JWT = JWTConfig{
		Secret:           getEnv("JWT_SECRET_KEY", ""),
		AccessExpiration: getEnv("JWT_ACCESS_EXPIRATION_TIME", "1h"),
	}

	// Redis configuration
	config.Redis = RedisConfig{
		Addr:            getEnv("REDIS_ADDR", ""),
		Password:        getEnv("REDIS_PASSWORD", ""),
		DB:              p.int("REDIS_DB", 0),
		RequestsChannel: getEnv("REDIS_REQUESTS_CHANNEL", "notify:requests"),
		EventsChannel:   getEnv("REDIS_EVENTS_CHANNEL", "notify:events"),
	}

	// Notification pipeline configuration
	config.Notification = NotificationConfig{
		BatchSize:     p.int("NOTIFICATION_BATCH_SIZE", 100),
		FlushInterval: p.duration("NOTIFICATION_FLUSH_INTERVAL", 2*time.Second),
		WorkerCount:   p.int("NOTIFICATION_WORKERS", 2),
		QueueSize:     p.int("NOTIFICATION_QUEUE_SIZE", 1000),
		Retention:     p.duration("NOTIFICATION_RETENTION", 720*time.Hour),
		PurgeInterval: p.duration("NOTIFICATION_PURGE_INTERVAL", time.Hour),
		AuthTimeout:   p.duration("PUSH_AUTH_TIMEOUT", 10*time.Second),
		PingInterval:  p.duration("PUSH_PING_INTERVAL", 30*time.Second),
	}

	// Client configuration. Endpoints default by environment.
	pushURL, apiURL := defaultClientURLs(config.App.Env)
	config.Client = ClientConfig{
		PushURL:              getEnv("PUSH_URL", pushURL),
		APIURL:               getEnv("API_URL", apiURL),
		Role:                 getEnv("CLIENT_ROLE", ""),
		Token:                getEnv("CLIENT_TOKEN", ""),
		ReconnectDelay:       p.duration("RECONNECT_DELAY", 3*time.Second),
		ReconnectMaxFailures: p.int("RECONNECT_MAX_FAILURES", 5),
		PageSize:             p.int("PAGE_SIZE", 10),
	}

	if p.err != nil {
		return nil, p.err
	}
	return config, nil
}

func defaultClientURLs(env string) (pushURL, apiURL string) {
	switch env {
	case "production":
		return "wss://notify.cabdesk.app/api/v1/ws", "https://notify.cabdesk.app/api/v1"
	case "staging":
		return "wss://notify.staging.cabdesk.app/api/v1/ws", "https://notify.staging.cabdesk.app/api/v1"
	default:
		return "ws://localhost:8080/api/v1/ws", "http://localhost:8080/api/v1"
	}
}

// Validate validates the gateway configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if _, err := time.ParseDuration(c.JWT.AccessExpiration); err != nil {
		return fmt.Errorf("invalid JWT_ACCESS_EXPIRATION_TIME: %w", err)
	}
	if c.Notification.BatchSize <= 0 || c.Notification.WorkerCount <= 0 || c.Notification.QueueSize <= 0 {
		return fmt.Errorf("notification batch size, workers and queue size must be positive")
	}
	return nil
}

// ValidateClient validates the dashboard client configuration
func (c *Config) ValidateClient() error {
	if c.Client.PushURL == "" || c.Client.APIURL == "" {
		return fmt.Errorf("PUSH_URL and API_URL are required")
	}
	if c.Client.ReconnectMaxFailures <= 0 {
		return fmt.Errorf("RECONNECT_MAX_FAILURES must be positive")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parser collects the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64)), 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
