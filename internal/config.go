package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Mpesa         MpesaConfig         `mapstructure:"mpesa"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Env               string        `mapstructure:"env"`
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret" validate:"required,min=32"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m,max=24h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"required,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
}

// MpesaConfig holds the Daraja credentials and the business shortcode shown as the paybill fallback.
type MpesaConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	ConsumerKey     string        `mapstructure:"consumer_key" validate:"required"`
	ConsumerSecret  string        `mapstructure:"consumer_secret" validate:"required"`
	ShortCode       string        `mapstructure:"shortcode" validate:"required"`
	PassKey         string        `mapstructure:"passkey" validate:"required"`
	CallbackURL     string        `mapstructure:"callback_url" validate:"required,url"`
	TransactionType string        `mapstructure:"transaction_type"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	Currency        string        `mapstructure:"currency"`
	MaxSTKAttempts  int           `mapstructure:"max_stk_attempts"`
	QueryCooldown   time.Duration `mapstructure:"query_cooldown"`
	RetryCooldown   time.Duration `mapstructure:"retry_cooldown"`
	FallbackAfter   time.Duration `mapstructure:"fallback_after"`
	MinAmount       int64         `mapstructure:"min_amount"`
	MaxAmount       int64         `mapstructure:"max_amount"`
	ReferencePrefix string        `mapstructure:"reference_prefix"`
}

type RealtimeConfig struct {
	RedisURL      string `mapstructure:"redis_url"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type ReconcileConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	BatchSize  int           `mapstructure:"batch_size"`
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// LoadConfigFromEnv builds the configuration for container deployments where no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Env:               getEnv("APP_ENV", "production"),
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			OpenAPIPath:       getEnv("OPENAPI_PATH", "./api/openapi.yml"),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			AccessTokenSecret:    getEnv("JWT_ACCESS_SECRET", ""),
			RefreshTokenSecret:   getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("JWT_ACCESS_TTL", time.Hour),
			RefreshTokenDuration: getEnvAsDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Mpesa: MpesaConfig{
			BaseURL:         getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:     getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:  getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:       getEnv("MPESA_SHORTCODE", ""),
			PassKey:         getEnv("MPESA_PASSKEY", ""),
			CallbackURL:     getEnv("MPESA_CALLBACK_URL", ""),
			TransactionType: getEnv("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
			Timeout:         getEnvAsDuration("MPESA_TIMEOUT", 30*time.Second),
		},
		Payment: PaymentConfig{
			Currency:        getEnv("PAYMENT_CURRENCY", "KES"),
			MaxSTKAttempts:  getEnvAsInt("PAYMENT_MAX_STK_ATTEMPTS", 3),
			QueryCooldown:   getEnvAsDuration("PAYMENT_QUERY_COOLDOWN", 30*time.Second),
			RetryCooldown:   getEnvAsDuration("PAYMENT_RETRY_COOLDOWN", 2*time.Minute),
			FallbackAfter:   getEnvAsDuration("PAYMENT_FALLBACK_AFTER", 40*time.Second),
			MinAmount:       int64(getEnvAsInt("PAYMENT_MIN_AMOUNT", 1)),
			MaxAmount:       int64(getEnvAsInt("PAYMENT_MAX_AMOUNT", 250000)),
			ReferencePrefix: getEnv("PAYMENT_REFERENCE_PREFIX", "AD"),
		},
		Realtime: RealtimeConfig{
			RedisURL:      getEnv("REDIS_URL", ""),
			ChannelPrefix: getEnv("REALTIME_CHANNEL_PREFIX", "payment"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "payments.events"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Reconcile: ReconcileConfig{
			Interval:   getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
			StaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 2*time.Minute),
			MaxAge:     getEnvAsDuration("RECONCILE_MAX_AGE", 24*time.Hour),
			BatchSize:  getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
			Workers:    getEnvAsInt("RECONCILE_WORKERS", 4),
			QueueSize:  getEnvAsInt("RECONCILE_QUEUE_SIZE", 100),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills the payment policy knobs that must never be zero.
func (c *Config) ApplyDefaults() {
	if c.Payment.Currency == "" {
		c.Payment.Currency = "KES"
	}
	if c.Payment.MaxSTKAttempts <= 0 {
		c.Payment.MaxSTKAttempts = 3
	}
	if c.Payment.QueryCooldown <= 0 {
		c.Payment.QueryCooldown = 30 * time.Second
	}
	if c.Payment.RetryCooldown <= 0 {
		c.Payment.RetryCooldown = 2 * time.Minute
	}
	if c.Payment.FallbackAfter <= 0 {
		c.Payment.FallbackAfter = 40 * time.Second
	}
	if c.Payment.MinAmount <= 0 {
		c.Payment.MinAmount = 1
	}
	if c.Payment.MaxAmount <= 0 {
		c.Payment.MaxAmount = 250000
	}
	if c.Payment.ReferencePrefix == "" {
		c.Payment.ReferencePrefix = "AD"
	}
	if c.Mpesa.TransactionType == "" {
		c.Mpesa.TransactionType = "CustomerPayBillOnline"
	}
	if c.Mpesa.Timeout <= 0 {
		c.Mpesa.Timeout = 30 * time.Second
	}
	if c.Realtime.ChannelPrefix == "" {
		c.Realtime.ChannelPrefix = "payment"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "payments.events"
	}
	if c.Server.OpenAPIPath == "" {
		c.Server.OpenAPIPath = "./api/openapi.yml"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Mpesa.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("mpesa config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	if len(c.AccessTokenSecret) < 32 {
		return errors.New("access_token_secret must be at least 32 characters")
	}
	if len(c.RefreshTokenSecret) < 32 {
		return errors.New("refresh_token_secret must be at least 32 characters")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("access and refresh token secrets must differ")
	}
	return nil
}

func (c *MpesaConfig) Validate() error {
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return errors.New("consumer_key and consumer_secret are required")
	}
	if c.ShortCode == "" {
		return errors.New("shortcode is required")
	}
	if c.PassKey == "" {
		return errors.New("passkey is required")
	}
	if _, err := url.ParseRequestURI(c.CallbackURL); err != nil {
		return fmt.Errorf("invalid callback_url: %w", err)
	}
	return nil
}

func (c *PaymentConfig) Validate() error {
	if c.MaxSTKAttempts > 3 {
		return errors.New("max_stk_attempts cannot exceed 3")
	}
	if c.MinAmount > c.MaxAmount {
		return errors.New("min_amount cannot be greater than max_amount")
	}
	if len(c.ReferencePrefix) > 2 {
		return errors.New("reference_prefix must be at most 2 characters")
	}
	return nil
}
