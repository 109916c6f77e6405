package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/auth"
	authpg "github.com/frahmantamala/adride-payments/internal/auth/postgres"
	campaignpg "github.com/frahmantamala/adride-payments/internal/campaign/postgres"
	"github.com/frahmantamala/adride-payments/internal/core/events"
	"github.com/frahmantamala/adride-payments/internal/mpesa"
	"github.com/frahmantamala/adride-payments/internal/notifier"
	"github.com/frahmantamala/adride-payments/internal/payment"
	paymentpg "github.com/frahmantamala/adride-payments/internal/payment/postgres"
	"github.com/frahmantamala/adride-payments/internal/realtime"
	"github.com/frahmantamala/adride-payments/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Core is what both the API server and the workers need to run payment operations.
type Core struct {
	Config   *internal.Config
	Logger   *slog.Logger
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Gateway  *mpesa.Client
	Events   *events.EventBus
	Hub      *realtime.Hub
	Redis    *redis.Client
	Payments *payment.Service
	Auth     *auth.Service

	kafka *kafka.Writer
}

func setupLogger(cfg *internal.Config) *slog.Logger {
	return logger.Setup(logger.Options{
		Env:    cfg.Server.Env,
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
}

func buildCore(ctx context.Context, cfg *internal.Config) (*Core, error) {
	lg := setupLogger(cfg)

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	c := &Core{
		Config: cfg,
		Logger: lg,
		DB:     db,
		Gorm:   gormDB,
		Hub:    realtime.NewHub(),
		Events: events.NewEventBus(lg),
	}

	events.RegisterAuditLogger(c.Events, lg)
	if len(cfg.Kafka.Brokers) > 0 {
		c.kafka = events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		events.NewKafkaSink(c.kafka, lg).Register(c.Events, events.PaymentEventTypes...)
		lg.Info("payment events forwarded to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	var publisher notifier.Publisher = c.Hub
	if cfg.Realtime.RedisURL != "" {
		rdb, err := realtime.NewRedisClient(ctx, cfg.Realtime.RedisURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = rdb
		publisher = realtime.NewRedisPublisher(rdb)
	}

	c.Gateway = mpesa.NewClient(mpesa.Config{
		BaseURL:         cfg.Mpesa.BaseURL,
		ConsumerKey:     cfg.Mpesa.ConsumerKey,
		ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
		ShortCode:       cfg.Mpesa.ShortCode,
		PassKey:         cfg.Mpesa.PassKey,
		CallbackURL:     cfg.Mpesa.CallbackURL,
		TransactionType: cfg.Mpesa.TransactionType,
		Timeout:         cfg.Mpesa.Timeout,
	}, lg)

	paymentCfg := paymentConfig(cfg)
	c.Payments = payment.NewService(
		paymentCfg,
		paymentpg.NewPaymentRepository(gormDB),
		c.Gateway,
		lg,
		payment.WithReceiptVerifier(c.Gateway),
		payment.WithNotifier(notifier.New(paymentCfg, publisher, cfg.Realtime.ChannelPrefix, lg)),
		payment.WithCampaigns(campaignpg.NewCampaignRepository(gormDB)),
		payment.WithEventPublisher(c.Events),
	)

	c.Auth = auth.NewService(
		authpg.NewRepository(gormDB),
		auth.NewJWTTokenGenerator(
			cfg.Security.AccessTokenSecret,
			cfg.Security.RefreshTokenSecret,
			cfg.Security.AccessTokenDuration,
			cfg.Security.RefreshTokenDuration,
		),
		cfg.Security.BCryptCost,
		lg,
	)

	return c, nil
}

// Close waits for in-flight event handlers and releases connections.
func (c *Core) Close() {
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Events.Drain(drainCtx); err != nil {
		c.Logger.Warn("event handlers still running at shutdown", "error", err)
	}
	if c.kafka != nil {
		if err := c.kafka.Close(); err != nil {
			c.Logger.Error("kafka writer close error", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Error("redis close error", "error", err)
		}
	}
	if err := c.DB.Close(); err != nil {
		c.Logger.Error("database close error", "error", err)
	}
}

func paymentConfig(cfg *internal.Config) payment.Config {
	return payment.Config{
		ShortCode:       cfg.Mpesa.ShortCode,
		Currency:        cfg.Payment.Currency,
		ReferencePrefix: cfg.Payment.ReferencePrefix,
		MaxSTKAttempts:  cfg.Payment.MaxSTKAttempts,
		QueryCooldown:   cfg.Payment.QueryCooldown,
		RetryCooldown:   cfg.Payment.RetryCooldown,
		FallbackAfter:   cfg.Payment.FallbackAfter,
		MinAmount:       cfg.Payment.MinAmount,
		MaxAmount:       cfg.Payment.MaxAmount,
		GatewayTimeout:  cfg.Mpesa.Timeout,
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both see the same connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
	})
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
