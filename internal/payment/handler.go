package payment

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/auth"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
	now            func() time.Time
}

func NewHandler(paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.NewBaseHandler(logger),
		PaymentService: paymentService,
		now:            time.Now,
	}
}

type ListPaymentsResponse struct {
	Payments []*PaymentView `json:"payments"`
	Count    int            `json:"count"`
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return nil, false
	}
	return user, true
}

func viewerFor(user *auth.User) Viewer {
	return Viewer{UserID: user.ID, ViewAll: user.CanViewAllPayments()}
}

// writePushResult answers 502 when the gateway refused the push; the body still carries the paybill fallback.
func (h *Handler) writePushResult(w http.ResponseWriter, okStatus int, result *STKPushResult) {
	if !result.Success {
		h.WriteJSON(w, http.StatusBadGateway, result)
		return
	}
	h.WriteJSON(w, okStatus, result)
}

// InitiateSTKPush handles POST /api/v1/payments/stk-push
func (h *Handler) InitiateSTKPush(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req InitiateSTKPushRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	req.AdvertiserID = user.ID

	result, err := h.PaymentService.InitiateSTKPush(r.Context(), &req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.writePushResult(w, http.StatusCreated, result)
}

// RetrySTKPush handles POST /api/v1/payments/{id}/retry
func (h *Handler) RetrySTKPush(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	paymentID, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}

	result, err := h.PaymentService.RetrySTKPush(r.Context(), user.ID, paymentID)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.writePushResult(w, http.StatusOK, result)
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	paymentID, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}

	p, err := h.PaymentService.GetPayment(r.Context(), viewerFor(user), paymentID)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewPaymentView(p, h.PaymentService.Config(), h.now()))
}

// ListPayments handles GET /api/v1/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	payments, err := h.PaymentService.ListPayments(r.Context(), user.ID, h.QueryInt(r, "limit", 0))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, h.listResponse(payments))
}

// QueryStatus handles POST /api/v1/payments/{id}/query
func (h *Handler) QueryStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	paymentID, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}

	var req QueryStatusRequest
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &req); err != nil {
			h.HandleError(w, err)
			return
		}
	}
	req.PaymentID = paymentID
	req.Viewer = viewerFor(user)

	result, err := h.PaymentService.QueryStatus(r.Context(), &req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// VerifyReceipt handles POST /api/v1/payments/verify-receipt
func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req VerifyReceiptRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	req.AdvertiserID = user.ID

	result, err := h.PaymentService.VerifyReceipt(r.Context(), &req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	status := http.StatusOK
	if result.RequiresApproval {
		status = http.StatusAccepted
	}
	h.WriteJSON(w, status, result)
}

// ListAwaitingApproval handles GET /api/v1/admin/payments/pending-verification
func (h *Handler) ListAwaitingApproval(w http.ResponseWriter, r *http.Request) {
	payments, err := h.PaymentService.ListAwaitingApproval(r.Context(), h.QueryInt(r, "limit", 0))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, h.listResponse(payments))
}

// ApprovePayment handles POST /api/v1/admin/payments/{id}/approve
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "approve", h.PaymentService.ApprovePayment)
}

// RejectPayment handles POST /api/v1/admin/payments/{id}/reject
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "reject", h.PaymentService.RejectPayment)
}

// CancelPayment handles POST /api/v1/admin/payments/{id}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "cancel", h.PaymentService.CancelPayment)
}

// RefundPayment handles POST /api/v1/admin/payments/{id}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "refund", h.PaymentService.RefundPayment)
}

type adminOperation func(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error)

func (h *Handler) adminAction(w http.ResponseWriter, r *http.Request, action string, op adminOperation) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	paymentID, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}

	var req AdminActionRequest
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &req); err != nil {
			h.HandleError(w, err)
			return
		}
	}
	req.PaymentID = paymentID
	req.AdminID = user.ID

	p, err := op(r.Context(), &req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.Logger.InfoContext(r.Context(), "admin payment action", "action", action, "payment_id", p.ID, "admin_id", user.ID, "status", p.Status)
	h.WriteJSON(w, http.StatusOK, NewPaymentView(p, h.PaymentService.Config(), h.now()))
}

func (h *Handler) listResponse(payments []*payment.Payment) ListPaymentsResponse {
	cfg := h.PaymentService.Config()
	now := h.now()
	views := make([]*PaymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, NewPaymentView(p, cfg, now))
	}
	return ListPaymentsResponse{Payments: views, Count: len(views)}
}
