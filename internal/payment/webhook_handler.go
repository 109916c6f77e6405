package payment

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/adride-payments/internal/transport"
)

// maxCallbackBody caps what we read from Daraja; real callbacks are a few hundred bytes.
const maxCallbackBody = 64 << 10

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
}

func NewWebhookHandler(paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    transport.NewBaseHandler(logger),
		paymentService: paymentService,
	}
}

type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// HandleMpesaCallback handles POST /api/v1/payments/mpesa/callback. Daraja retries on anything but a 200,
// so processing errors are logged and the callback is always accepted.
func (h *WebhookHandler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to read mpesa callback body", "error", err)
	} else if err := h.paymentService.ReceiveCallback(r.Context(), body); err != nil {
		h.Logger.WarnContext(r.Context(), "mpesa callback not applied", "error", err)
	}

	h.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}
