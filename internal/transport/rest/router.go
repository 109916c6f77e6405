package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/adride-payments/internal/auth"
	"github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/frahmantamala/adride-payments/internal/realtime"
	"github.com/frahmantamala/adride-payments/internal/transport/middleware"
	"github.com/frahmantamala/adride-payments/internal/transport/swagger"
	"github.com/frahmantamala/adride-payments/internal/user"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

const APIPrefix = "/api/v1"

// Handlers groups everything the router mounts. Nil handlers leave their routes out.
type Handlers struct {
	Health    *HealthHandler
	Auth      *auth.Handler
	RBAC      *auth.RBACAuthorization
	User      *user.Handler
	Payment   *payment.Handler
	Webhook   *payment.WebhookHandler
	Realtime  *realtime.Handler
	Validator *middleware.RequestValidator
	Limiter   *middleware.RateLimiter

	AllowedOrigins []string
	OpenAPIPath    string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, logger *slog.Logger) {
	router.Use(middleware.CORS(h.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	if h.OpenAPIPath != "" {
		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, h.OpenAPIPath)
		})
		router.Handle("/swagger/*", swagger.Handler())
	}

	validate := passthrough
	if h.Validator != nil {
		validate = h.Validator.Middleware
	}
	limit := passthrough
	if h.Limiter != nil {
		limit = h.Limiter.Middleware
	}

	router.Route(APIPrefix, func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		// Provider callbacks are never rate limited.
		if h.Webhook != nil {
			r.Post("/payments/mpesa/callback", h.Webhook.HandleMpesaCallback)
		}

		if h.Realtime != nil {
			r.Get("/ws/payments", h.Realtime.ServeWS)
		}

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(ar chi.Router) {
			ar.Use(validate)
			ar.Post("/login", h.Auth.Login)
			ar.Post("/refresh", h.Auth.RefreshToken)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)
			pr.Use(validate)

			if h.User != nil {
				pr.Get("/users/me", h.User.GetCurrentUser)
			}

			if h.Payment == nil {
				return
			}

			pr.Route("/payments", func(pmr chi.Router) {
				pmr.With(limit).Post("/stk-push", h.Payment.InitiateSTKPush)
				pmr.With(limit).Post("/verify-receipt", h.Payment.VerifyReceipt)
				pmr.Get("/", h.Payment.ListPayments)
				pmr.Get("/{id}", h.Payment.GetPayment)
				pmr.With(limit).Post("/{id}/retry", h.Payment.RetrySTKPush)
				pmr.Post("/{id}/query", h.Payment.QueryStatus)
			})

			rbac := h.RBAC
			if rbac == nil {
				rbac = auth.NewRBACAuthorization(logger)
			}
			pr.Route("/admin/payments", func(adr chi.Router) {
				adr.Group(func(ar chi.Router) {
					ar.Use(rbac.RequireApprover())
					ar.Get("/pending-verification", h.Payment.ListAwaitingApproval)
					ar.Post("/{id}/approve", h.Payment.ApprovePayment)
					ar.Post("/{id}/reject", h.Payment.RejectPayment)
				})
				adr.Group(func(mr chi.Router) {
					mr.Use(rbac.RequirePaymentManager())
					mr.Post("/{id}/cancel", h.Payment.CancelPayment)
					mr.Post("/{id}/refund", h.Payment.RefundPayment)
				})
			})
		})
	})
}

func passthrough(next http.Handler) http.Handler {
	return next
}
