package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	App         AppConfig
	Cache       CacheConfig
	Store       StoreConfig
	AllowList   AllowListConfig
	Anomaly     AnomalyConfig
	Webhook     WebhookConfig
	Pipeline    PipelineConfig
	Reservation ReservationConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"purchase-settlement-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	AdminKey    string `envconfig:"ADMIN_KEY" default:""` // X-Admin-Key for /api/v1/admin
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Type      string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL       time.Duration `envconfig:"CACHE_TTL" default:"24h"`
	KeyPrefix string        `envconfig:"CACHE_KEY_PREFIX" default:"settlement"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// StoreConfig holds settings for the settlement store.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite or postgres
	Path string `envconfig:"STORE_PATH" default:"./data/settlement.db"`
	// PostgreSQL settings
	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"5432"`
	Name     string `envconfig:"STORE_DB_NAME" default:"settlement"`
	User     string `envconfig:"STORE_DB_USER" default:"postgres"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`
}

// AllowListConfig holds eligibility allow-list settings.
// With Source "mysql" the allow-list is read from an external MySQL table,
// with "store" it is read from the settlement store.
type AllowListConfig struct {
	Enabled  bool   `envconfig:"ALLOWLIST_ENABLED" default:"false"`
	Source   string `envconfig:"ALLOWLIST_SOURCE" default:"store"`
	Host     string `envconfig:"ALLOWLIST_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"ALLOWLIST_DB_PORT" default:"3306"`
	Name     string `envconfig:"ALLOWLIST_DB_NAME" default:"campaigns"`
	User     string `envconfig:"ALLOWLIST_DB_USER" default:"root"`
	Password string `envconfig:"ALLOWLIST_DB_PASS" default:""`
}

// AnomalyConfig holds settings for the anomaly sink. Empty MongoURI keeps
// anomalies in the settlement store.
type AnomalyConfig struct {
	MongoURI        string `envconfig:"ANOMALY_MONGODB_URI" default:""`
	MongoDatabase   string `envconfig:"ANOMALY_MONGODB_DATABASE" default:"settlement"`
	MongoCollection string `envconfig:"ANOMALY_MONGODB_COLLECTION" default:"settlement_anomalies"`
}

// WebhookConfig holds provider notification settings.
type WebhookConfig struct {
	Secret           string `envconfig:"WEBHOOK_SECRET" default:""`
	RequireSignature bool   `envconfig:"WEBHOOK_REQUIRE_SIGNATURE" default:"false"`
	SignatureParam   string `envconfig:"WEBHOOK_SIGNATURE_PARAM" default:"payloadHash"`
	ProjectUID       string `envconfig:"WEBHOOK_PROJECT_UID" default:""`
	MaxBodyBytes     int64  `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

// PipelineConfig holds settlement pipeline settings.
type PipelineConfig struct {
	Workers             int           `envconfig:"PIPELINE_WORKERS" default:"16"`
	StepTimeout         time.Duration `envconfig:"PIPELINE_STEP_TIMEOUT" default:"10s"`
	EligibilityTimeout  time.Duration `envconfig:"ELIGIBILITY_TIMEOUT" default:"3s"`
	EligibilityCacheTTL time.Duration `envconfig:"ELIGIBILITY_CACHE_TTL" default:"5m"`
	AmountDecimals      int32         `envconfig:"AMOUNT_DECIMALS" default:"6"` // lovelace -> ADA
	// Deliveries waiting for a worker beyond those running; excess is dropped
	QueueSize int `envconfig:"PIPELINE_QUEUE_SIZE" default:"1024"`
}

// ReservationConfig holds reservation lifecycle settings.
type ReservationConfig struct {
	TTL           time.Duration `envconfig:"RESERVATION_TTL" default:"10m"`
	Grace         time.Duration `envconfig:"RESERVATION_GRACE" default:"30s"`
	SweepInterval time.Duration `envconfig:"RESERVATION_SWEEP_INTERVAL" default:"1m"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// UsesMySQL reports whether the allow-list lives in MySQL.
func (a *AllowListConfig) UsesMySQL() bool {
	return a.Enabled && strings.EqualFold(a.Source, "mysql")
}

// DSN returns the MySQL data source name.
func (a *AllowListConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		a.User, a.Password, a.Host, a.Port, a.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate checks settings that envconfig cannot express.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Webhook.RequireSignature && c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_REQUIRE_SIGNATURE is set but WEBHOOK_SECRET is empty")
	}
	if c.Pipeline.QueueSize < 0 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must not be negative, got %d", c.Pipeline.QueueSize)
	}
	switch c.Store.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported STORE_TYPE %q", c.Store.Type)
	}
	if c.IsProductionWithoutSecret() {
		return fmt.Errorf("WEBHOOK_SECRET is required in production")
	}
	return nil
}

// normalize folds backend selectors to the lowercase names the rest of the
// program switches on.
func (c *Config) normalize() {
	c.Store.Type = strings.ToLower(strings.TrimSpace(c.Store.Type))
	if c.Store.Type == "postgresql" {
		c.Store.Type = "postgres"
	}
	c.Cache.Type = strings.ToLower(strings.TrimSpace(c.Cache.Type))
	c.AllowList.Source = strings.ToLower(strings.TrimSpace(c.AllowList.Source))
	c.App.Environment = strings.ToLower(strings.TrimSpace(c.App.Environment))
}

// IsProductionWithoutSecret reports a production deployment that would accept unsigned notifications.
func (c *Config) IsProductionWithoutSecret() bool {
	return c.App.IsProduction() && c.Webhook.Secret == ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
