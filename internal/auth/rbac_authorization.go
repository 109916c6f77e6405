package auth

import (
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/transport"
)

type RBACAuthorization struct {
	*transport.BaseHandler
}

func NewRBACAuthorization(logger *slog.Logger) *RBACAuthorization {
	if logger == nil {
		logger = slog.Default()
	}
	return &RBACAuthorization{BaseHandler: transport.NewBaseHandler(logger)}
}

// RequireAny lets the request through when the context user holds at least one of the permissions.
func (ra *RBACAuthorization) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok || user == nil {
				ra.Logger.WarnContext(r.Context(), "authorization check failed: user not found in context")
				ra.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
				return
			}

			if !user.HasAnyPermission(permissions...) {
				ra.Logger.WarnContext(r.Context(), "access denied: insufficient permissions",
					"user_id", user.ID,
					"required_permissions", permissions,
					"user_permissions", user.Permissions)
				ra.HandleError(w, errors.NewForbiddenError("insufficient permissions", errors.ErrCodeInsufficientRights))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (ra *RBACAuthorization) RequireApprover() func(http.Handler) http.Handler {
	return ra.RequireAny(PermissionApprovePayments)
}

func (ra *RBACAuthorization) RequirePaymentManager() func(http.Handler) http.Handler {
	return ra.RequireAny(PermissionManagePayments)
}
