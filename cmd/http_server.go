package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/adride-payments/internal/auth"
	"github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/frahmantamala/adride-payments/internal/realtime"
	"github.com/frahmantamala/adride-payments/internal/transport/middleware"
	"github.com/frahmantamala/adride-payments/internal/transport/rest"
	"github.com/frahmantamala/adride-payments/internal/user"
	userpg "github.com/frahmantamala/adride-payments/internal/user/postgres"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests, M-Pesa callbacks and websocket subscribers`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := buildCore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer core.Close()

	if core.Redis != nil {
		relay := realtime.NewRelay(core.Redis, core.Hub, cfg.Realtime.ChannelPrefix, core.Logger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				core.Logger.Error("realtime relay stopped", "error", err)
			}
		}()
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, buildHandlers(ctx, core), core.Logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		core.Logger.Info("Starting HTTP server", "address", addr)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		core.Logger.Info("Received signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			core.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.Logger.Error("Server failed to start", "error", err)
			core.Close()
			os.Exit(1)
		}
	}

	core.Logger.Info("Server stopped")
}

func buildHandlers(ctx context.Context, core *Core) rest.Handlers {
	cfg := core.Config
	origins := splitOrigins(cfg.Server.AllowedOrigins)

	h := rest.Handlers{
		Auth:           auth.NewHandler(core.Auth),
		RBAC:           auth.NewRBACAuthorization(core.Logger),
		User:           user.NewHandler(user.NewService(userpg.NewRepository(core.Gorm))),
		Payment:        payment.NewHandler(core.Payments, core.Logger),
		Webhook:        payment.NewWebhookHandler(core.Payments, core.Logger),
		Realtime:       realtime.NewHandler(core.Hub, core.Auth, cfg.Realtime.ChannelPrefix, origins, core.Logger),
		Limiter:        middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, 10*time.Minute, core.Logger),
		AllowedOrigins: origins,
		OpenAPIPath:    cfg.Server.OpenAPIPath,
	}

	if core.Redis != nil {
		h.Health = rest.NewHealthHandler(core.DB, core.Redis)
	} else {
		h.Health = rest.NewHealthHandler(core.DB, nil)
	}

	h.Validator = loadValidator(ctx, cfg.Server.OpenAPIPath, core.Logger)
	return h
}

// loadValidator returns nil when the document cannot be loaded; requests are then served unvalidated.
func loadValidator(ctx context.Context, path string, lg *slog.Logger) *middleware.RequestValidator {
	doc, err := middleware.LoadOpenAPI(ctx, path)
	if err != nil {
		lg.Warn("openapi request validation disabled", "path", path, "error", err)
		return nil
	}
	v, err := middleware.NewRequestValidator(doc, rest.APIPrefix, lg)
	if err != nil {
		lg.Warn("openapi request validation disabled", "path", path, "error", err)
		return nil
	}
	return v
}
