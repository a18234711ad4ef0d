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
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Mail      MailConfig
	Shopify   ShopifyConfig
	AI        AIConfig
	Kafka     KafkaConfig
	Queue     QueueConfig
	Bootstrap BootstrapConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// MailConfig points at the mail provider REST API.
type MailConfig struct {
	BaseURL           string
	APIToken          string
	Mailboxes         []string
	RequestTimeoutSec int
	MaxAttempts       int
	RequestsPerSecond float64
	NotifyAssignee    bool
}

// ShopifyConfig is used by the order/customer lookup.
type ShopifyConfig struct {
	StoreDomain string
	AccessToken string
	APIVersion  string
}

// AIConfig configures the drafting model. Empty APIKey disables drafting.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// KafkaConfig enables the activity event stream when Brokers is non-empty.
type KafkaConfig struct {
	Brokers       []string
	ActivityTopic string
}

// QueueConfig tunes the job runtime and automation cadence.
type QueueConfig struct {
	MaxWorkers         int
	InboxPollInterval  time.Duration
	ReminderInterval   time.Duration
	EscalationInterval time.Duration
	SLAInterval        time.Duration
	RetagDelay         time.Duration
}

// BootstrapConfig seeds the first shop and its owner on an empty database.
// Empty AdminEmail disables seeding.
type BootstrapConfig struct {
	ShopName      string
	ShopDomain    string
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rps, err := strconv.ParseFloat(getEnv("MAIL_REQUESTS_PER_SECOND", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAIL_REQUESTS_PER_SECOND: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-inbox"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Mail: MailConfig{
			BaseURL:           getEnv("MAIL_API_BASE_URL", ""),
			APIToken:          os.Getenv("MAIL_API_TOKEN"),
			Mailboxes:         getEnvAsList("MAIL_SYSTEM_MAILBOXES", []string{"sales@example.com", "support@example.com"}),
			RequestTimeoutSec: getEnvAsInt("MAIL_REQUEST_TIMEOUT_SECONDS", 15),
			MaxAttempts:       getEnvAsInt("MAIL_MAX_ATTEMPTS", 3),
			RequestsPerSecond: rps,
			NotifyAssignee:    getEnvAsBool("MAIL_NOTIFY_ASSIGNEE", true),
		},
		Shopify: ShopifyConfig{
			StoreDomain: os.Getenv("SHOPIFY_STORE_DOMAIN"),
			AccessToken: os.Getenv("SHOPIFY_ACCESS_TOKEN"),
			APIVersion:  getEnv("SHOPIFY_API_VERSION", "2024-10"),
		},
		AI: AIConfig{
			BaseURL: os.Getenv("AI_BASE_URL"),
			APIKey:  os.Getenv("AI_API_KEY"),
			Model:   getEnv("AI_MODEL", "gpt-4o-mini"),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", nil),
			ActivityTopic: getEnv("KAFKA_ACTIVITY_TOPIC", "support.activities"),
		},
		Queue: QueueConfig{
			MaxWorkers:         getEnvAsInt("QUEUE_MAX_WORKERS", 5),
			InboxPollInterval:  getEnvAsDuration("INBOX_POLL_INTERVAL", 2*time.Minute),
			ReminderInterval:   getEnvAsDuration("AUTOMATION_REMINDER_INTERVAL", 24*time.Hour),
			EscalationInterval: getEnvAsDuration("AUTOMATION_ESCALATION_INTERVAL", 15*time.Minute),
			SLAInterval:        getEnvAsDuration("AUTOMATION_SLA_INTERVAL", 5*time.Minute),
			RetagDelay:         getEnvAsDuration("AUTOTAG_RETAG_DELAY", 500*time.Millisecond),
		},
		Bootstrap: BootstrapConfig{
			ShopName:      getEnv("BOOTSTRAP_SHOP_NAME", "My Shop"),
			ShopDomain:    getEnv("BOOTSTRAP_SHOP_DOMAIN", "example.com"),
			AdminName:     getEnv("BOOTSTRAP_ADMIN_NAME", "Owner"),
			AdminEmail:    os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
			AdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		},
	}

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

// RequestTimeout bounds a single provider call.
func (m MailConfig) RequestTimeout() time.Duration {
	if m.RequestTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(m.RequestTimeoutSec) * time.Second
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
