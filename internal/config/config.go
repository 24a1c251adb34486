package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Mailbox      MailboxConfig
	Relay        RelayConfig
	Kafka        KafkaConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	PublicURL             string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	StoreTimeout   time.Duration
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	ProcessedTTL time.Duration
	OpTimeout    time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Format  string // json or console
	Service string
	Version string
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// MailboxConfig describes the support mailbox watched for admin replies.
type MailboxConfig struct {
	Enabled        bool
	Host           string
	Port           int
	Username       string
	Password       string
	Security       string // tls, starttls or none
	Folder         string
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	PollInterval   time.Duration
	IdleRefresh    time.Duration
	IdleTimeout    time.Duration
	ReconnectDelay time.Duration
	ReconnectMax   time.Duration
	ReconnectGrow  float64
	ReconnectJit   float64
	MaxBodyBytes   int64
}

// RelayConfig configures the transactional mail relay.
type RelayConfig struct {
	APIKey      string
	FromEmail   string
	FromName    string
	AdminEmail  string
	AdminName   string
	SendTimeout time.Duration
}

// KafkaConfig configures optional event publication.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NotificationConfig controls the notification reconciliation sweep.
type NotificationConfig struct {
	SweepSchedule string
	SweepMinAge   time.Duration
	SweepBatch    int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "consultation-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			PublicURL:             strings.TrimRight(getEnv("APP_PUBLIC_URL", "http://localhost:3000"), "/"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
			StoreTimeout:   getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           redisDB,
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "consultd"),
			ProcessedTTL: getEnvAsDuration("REDIS_PROCESSED_TTL", 7*24*time.Hour),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Mailbox: MailboxConfig{
			Enabled:        getEnvAsBool("MAILBOX_ENABLED", true),
			Host:           getEnv("MAILBOX_HOST", "imap.gmail.com"),
			Port:           getEnvAsInt("MAILBOX_PORT", 993),
			Username:       getEnv("MAILBOX_USER", os.Getenv("EMAIL_USER")),
			Password:       getEnv("MAILBOX_PASSWORD", os.Getenv("EMAIL_PASS")),
			Security:       strings.ToLower(getEnv("MAILBOX_SECURITY", "tls")),
			Folder:         getEnv("MAILBOX_FOLDER", "INBOX"),
			DialTimeout:    getEnvAsDuration("MAILBOX_DIAL_TIMEOUT", 15*time.Second),
			CommandTimeout: getEnvAsDuration("MAILBOX_COMMAND_TIMEOUT", time.Minute),
			PollInterval:   getEnvAsDuration("MAILBOX_POLL_INTERVAL", time.Minute),
			IdleRefresh:    getEnvAsDuration("MAILBOX_IDLE_REFRESH", 25*time.Minute),
			IdleTimeout:    getEnvAsDuration("MAILBOX_IDLE_TIMEOUT", 0),
			ReconnectDelay: getEnvAsDuration("MAILBOX_RECONNECT_DELAY", 10*time.Second),
			ReconnectMax:   getEnvAsDuration("MAILBOX_RECONNECT_MAX", 5*time.Minute),
			ReconnectGrow:  getEnvAsFloat("MAILBOX_RECONNECT_GROWTH", 1),
			ReconnectJit:   getEnvAsFloat("MAILBOX_RECONNECT_JITTER", 0.1),
			MaxBodyBytes:   int64(getEnvAsInt("MAILBOX_MAX_BODY_BYTES", 256*1024)),
		},
		Relay: RelayConfig{
			APIKey:      os.Getenv("SENDGRID_API_KEY"),
			FromEmail:   getEnv("MAIL_FROM_EMAIL", os.Getenv("EMAIL_USER")),
			FromName:    getEnv("MAIL_FROM_NAME", "Zacode Support"),
			AdminEmail:  os.Getenv("MAIL_ADMIN_EMAIL"),
			AdminName:   getEnv("MAIL_ADMIN_NAME", "Admin"),
			SendTimeout: getEnvAsDuration("MAIL_SEND_TIMEOUT", 15*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  getEnvAsSlice("KAFKA_BROKERS", ","),
			Topic:    getEnv("KAFKA_TOPIC", "consultations.events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "consultd"),
		},
		Notification: NotificationConfig{
			SweepSchedule: getEnv("NOTIFY_SWEEP_SCHEDULE", "@every 5m"),
			SweepMinAge:   getEnvAsDuration("NOTIFY_SWEEP_MIN_AGE", 2*time.Minute),
			SweepBatch:    getEnvAsInt("NOTIFY_SWEEP_BATCH", 50),
		},
	}

	cfg.Logger.Service = cfg.App.Name
	cfg.Logger.Version = cfg.App.Version

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the IMAP host:port pair.
func (m MailboxConfig) Addr() string {
	port := m.Port
	if port == 0 {
		if m.Security == "tls" {
			port = 993
		} else {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", m.Host, port)
}

// Validate reports missing mailbox credentials.
func (m MailboxConfig) Validate() error {
	if m.Host == "" {
		return fmt.Errorf("mailbox host is required")
	}
	if m.Username == "" || m.Password == "" {
		return fmt.Errorf("mailbox credentials are required")
	}
	switch m.Security {
	case "tls", "starttls", "none":
	default:
		return fmt.Errorf("unsupported MAILBOX_SECURITY %q", m.Security)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsSlice(key, sep string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
