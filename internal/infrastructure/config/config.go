package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Transaction   TransactionConfig   `mapstructure:"transaction"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	AI            AIConfig            `mapstructure:"ai"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type RateLimitConfig struct {
	CheckoutPerMinute int `mapstructure:"checkout_per_minute"`
	WebhookPerMinute  int `mapstructure:"webhook_per_minute"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	WebhookLockTTL    time.Duration `mapstructure:"webhook_lock_ttl"`
}

// ResilienceConfig holds one executor/breaker profile per downstream.
type ResilienceConfig struct {
	AI        ExecutorConfig `mapstructure:"ai"`
	Processor ExecutorConfig `mapstructure:"processor"`
}

type ExecutorConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	Multiplier       float64       `mapstructure:"multiplier"`
	Timeout          time.Duration `mapstructure:"timeout"`
	VisionTimeout    time.Duration `mapstructure:"vision_timeout"`
	HonorRetryAfter  bool          `mapstructure:"honor_retry_after"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type TransactionConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	BatchSize  int           `mapstructure:"batch_size"`
}

type PaymentConfig struct {
	// Provider selects the processor adapter: "stripe" or "mock".
	Provider         string        `mapstructure:"provider"`
	Currency         string        `mapstructure:"currency"`
	SuccessURL       string        `mapstructure:"success_url"`
	CancelURL        string        `mapstructure:"cancel_url"`
	StripeSecretKey  string        `mapstructure:"stripe_secret_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
	EventRetention   time.Duration `mapstructure:"event_retention"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
}

type AIConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	VisionModel       string  `mapstructure:"vision_model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type WorkerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxClaimLease   time.Duration `mapstructure:"outbox_claim_lease"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	EventStream        string        `mapstructure:"event_stream"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. LEADFLOW_PAYMENT_PROVIDER
	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/leadflow")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	errs = append(errs, c.Resilience.AI.validate("resilience.ai")...)
	errs = append(errs, c.Resilience.Processor.validate("resilience.processor")...)

	if c.Transaction.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("transaction.timeout must be positive"))
	}
	if c.Transaction.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("transaction.max_retries must be at least 1, got %d", c.Transaction.MaxRetries))
	}
	if c.Transaction.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("transaction.batch_size must be positive"))
	}

	switch c.Payment.Provider {
	case "mock":
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			errs = append(errs, fmt.Errorf("payment.stripe_secret_key is required for the stripe provider"))
		}
		if c.Payment.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("payment.webhook_secret is required for the stripe provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("payment.provider must be one of stripe, mock, got %q", c.Payment.Provider))
	}
	if len(c.Payment.Currency) != 3 {
		errs = append(errs, fmt.Errorf("payment.currency must be a 3-letter ISO code, got %q", c.Payment.Currency))
	}
	if c.Payment.SuccessURL == "" || c.Payment.CancelURL == "" {
		errs = append(errs, fmt.Errorf("payment.success_url and payment.cancel_url are required"))
	}

	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.OutboxClaimLease > 0 && c.Worker.OutboxClaimLease <= c.Worker.OutboxPollInterval {
		errs = append(errs, fmt.Errorf("worker.outbox_claim_lease must exceed worker.outbox_poll_interval"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Payment.Provider == "mock" {
			errs = append(errs, fmt.Errorf("payment.provider mock is not allowed in production"))
		}
	}

	// JWT secret length validation
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (c ExecutorConfig) validate(prefix string) []error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s.max_attempts must be at least 1, got %d", prefix, c.MaxAttempts))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", prefix))
	}
	if c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("%s.multiplier must be >= 1, got %g", prefix, c.Multiplier))
	}
	if c.MaxDelay < c.InitialDelay {
		errs = append(errs, fmt.Errorf("%s.max_delay must not be below initial_delay", prefix))
	}
	if c.BreakerThreshold == 0 {
		errs = append(errs, fmt.Errorf("%s.breaker_threshold must be positive", prefix))
	}
	if c.BreakerCooldown <= 0 {
		errs = append(errs, fmt.Errorf("%s.breaker_cooldown must be positive", prefix))
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "leadflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "leadflow")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")
	v.SetDefault("redis.webhook_lock_ttl", "30s")

	// Resilience defaults
	v.SetDefault("resilience.ai.max_attempts", 3)
	v.SetDefault("resilience.ai.initial_delay", "1s")
	v.SetDefault("resilience.ai.max_delay", "10s")
	v.SetDefault("resilience.ai.multiplier", 2.0)
	v.SetDefault("resilience.ai.timeout", "30s")
	v.SetDefault("resilience.ai.vision_timeout", "90s")
	v.SetDefault("resilience.ai.honor_retry_after", false)
	v.SetDefault("resilience.ai.breaker_threshold", 5)
	v.SetDefault("resilience.ai.breaker_cooldown", "60s")
	v.SetDefault("resilience.processor.max_attempts", 1)
	v.SetDefault("resilience.processor.initial_delay", "0s")
	v.SetDefault("resilience.processor.max_delay", "0s")
	v.SetDefault("resilience.processor.multiplier", 1.0)
	v.SetDefault("resilience.processor.timeout", "15s")
	v.SetDefault("resilience.processor.breaker_threshold", 5)
	v.SetDefault("resilience.processor.breaker_cooldown", "30s")

	// Transaction defaults
	v.SetDefault("transaction.timeout", "10s")
	v.SetDefault("transaction.max_retries", 3)
	v.SetDefault("transaction.batch_size", 100)

	// Payment defaults
	v.SetDefault("payment.provider", "mock")
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.success_url", "http://localhost:3000/estimates/payment/success")
	v.SetDefault("payment.cancel_url", "http://localhost:3000/estimates/payment/cancel")
	v.SetDefault("payment.stripe_secret_key", "")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.webhook_tolerance", "5m")
	v.SetDefault("payment.event_retention", "720h")
	v.SetDefault("payment.session_ttl", "24h")

	// AI defaults
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.vision_model", "gpt-4o")
	v.SetDefault("ai.requests_per_second", 5.0)
	v.SetDefault("ai.burst", 5)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.outbox_claim_lease", "30s")
	v.SetDefault("worker.cleanup_interval", "1h")
	v.SetDefault("worker.event_stream", "leadflow:events")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "24h")

	// Rate limit defaults
	v.SetDefault("ratelimit.checkout_per_minute", 30)
	v.SetDefault("ratelimit.webhook_per_minute", 600)

	// Instance ID
	v.SetDefault("instance_id", "leadflow-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrationURL is the pgx5:// form golang-migrate's pgx driver expects.
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
