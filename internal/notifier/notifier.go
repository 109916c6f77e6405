package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/shopspring/decimal"
)

const (
	EventStatusUpdated = "payment.status.updated"
	DefaultPrefix      = "payment"
)

// Publisher delivers an encoded message to every subscriber of channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// StatusUpdate is what a browser tab receives when one of its payments changes.
type StatusUpdate struct {
	PaymentID           int64                      `json:"payment_id"`
	Reference           string                     `json:"reference"`
	Amount              decimal.Decimal            `json:"amount"`
	Currency            string                     `json:"currency"`
	Status              payment.Status             `json:"status"`
	Message             string                     `json:"message"`
	MpesaReceipt        *string                    `json:"mpesa_receipt"`
	Timestamp           time.Time                  `json:"timestamp"`
	ShowFallbackOptions bool                       `json:"show_fallback_options"`
	CanRetrySTK         bool                       `json:"can_retry_stk"`
	PaybillDetails      *paymentpkg.PaybillDetails `json:"paybill_details"`
}

type Envelope struct {
	Event string       `json:"event"`
	Data  StatusUpdate `json:"data"`
}

type Notifier struct {
	cfg       paymentpkg.Config
	publisher Publisher
	prefix    string
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg paymentpkg.Config, publisher Publisher, prefix string, logger *slog.Logger) *Notifier {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:       cfg,
		publisher: publisher,
		prefix:    prefix,
		logger:    logger,
		now:       time.Now,
	}
}

// Channel is the private channel of one advertiser.
func Channel(prefix string, advertiserID int64) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s.%d", prefix, advertiserID)
}

func (n *Notifier) Build(p *payment.Payment, message string) StatusUpdate {
	now := n.now().UTC()
	update := StatusUpdate{
		PaymentID:           p.ID,
		Reference:           p.Reference,
		Amount:              p.Amount,
		Currency:            p.Currency,
		Status:              p.Status,
		Message:             message,
		MpesaReceipt:        p.MpesaReceiptNumber,
		Timestamp:           now,
		ShowFallbackOptions: p.ShowFallbackOptions(now, n.cfg.FallbackAfter),
		CanRetrySTK:         p.CanRetrySTK(now, n.cfg.MaxSTKAttempts, n.cfg.RetryCooldown),
	}
	if p.Status == payment.StatusFailed {
		update.PaybillDetails = paymentpkg.NewPaybillDetails(n.cfg, p)
	}
	return update
}

// Notify never fails the caller: a lost update only costs the client a status query.
func (n *Notifier) Notify(ctx context.Context, p *payment.Payment, message string) {
	if n.publisher == nil || p == nil {
		return
	}

	payload, err := json.Marshal(Envelope{Event: EventStatusUpdated, Data: n.Build(p, message)})
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to encode status update", "payment_id", p.ID, "error", err)
		return
	}

	channel := Channel(n.prefix, p.AdvertiserID)
	if err := n.publisher.Publish(ctx, channel, payload); err != nil {
		n.logger.WarnContext(ctx, "status update not delivered",
			"payment_id", p.ID,
			"channel", channel,
			"status", p.Status,
			"error", err)
		return
	}

	n.logger.DebugContext(ctx, "status update published", "payment_id", p.ID, "channel", channel, "status", p.Status)
}
