package events

import (
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/google/uuid"
)

const (
	EventTypePaymentInitiated           = "payment.initiated"
	EventTypePaymentCompleted           = "payment.completed"
	EventTypePaymentFailed              = "payment.failed"
	EventTypePaymentPendingVerification = "payment.pending_verification"
	EventTypePaymentCancelled           = "payment.cancelled"
	EventTypePaymentRefunded            = "payment.refunded"
)

var PaymentEventTypes = []string{
	EventTypePaymentInitiated,
	EventTypePaymentCompleted,
	EventTypePaymentFailed,
	EventTypePaymentPendingVerification,
	EventTypePaymentCancelled,
	EventTypePaymentRefunded,
}

// EventTypeForStatus maps the status a payment just entered to its lifecycle event.
func EventTypeForStatus(status payment.Status) (string, bool) {
	switch status {
	case payment.StatusPending:
		return EventTypePaymentInitiated, true
	case payment.StatusCompleted:
		return EventTypePaymentCompleted, true
	case payment.StatusFailed:
		return EventTypePaymentFailed, true
	case payment.StatusPendingVerification:
		return EventTypePaymentPendingVerification, true
	case payment.StatusCancelled:
		return EventTypePaymentCancelled, true
	case payment.StatusRefunded:
		return EventTypePaymentRefunded, true
	}
	return "", false
}

type PaymentEvent struct {
	BaseEvent
	PaymentID          int64   `json:"payment_id"`
	Reference          string  `json:"reference"`
	AdvertiserID       int64   `json:"advertiser_id"`
	CampaignID         *int64  `json:"campaign_id,omitempty"`
	Amount             string  `json:"amount"`
	Currency           string  `json:"currency"`
	Status             string  `json:"status"`
	VerificationMethod string  `json:"verification_method,omitempty"`
	ReceiptNumber      string  `json:"mpesa_receipt_number,omitempty"`
	ActorID            *int64  `json:"actor_id,omitempty"`
	StatusMessage      *string `json:"status_message,omitempty"`
}

func NewPaymentEvent(eventType string, p *payment.Payment, actorID *int64) *PaymentEvent {
	var method, receipt string
	if p.VerificationMethod != nil {
		method = string(*p.VerificationMethod)
	}
	if p.MpesaReceiptNumber != nil {
		receipt = *p.MpesaReceiptNumber
	}

	return &PaymentEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":           p.ID,
				"reference":            p.Reference,
				"advertiser_id":        p.AdvertiserID,
				"campaign_id":          p.CampaignID,
				"amount":               p.Amount.String(),
				"currency":             p.Currency,
				"status":               string(p.Status),
				"verification_method":  method,
				"mpesa_receipt_number": receipt,
				"actor_id":             actorID,
				"status_message":       p.StatusMessage,
			},
		},
		PaymentID:          p.ID,
		Reference:          p.Reference,
		AdvertiserID:       p.AdvertiserID,
		CampaignID:         p.CampaignID,
		Amount:             p.Amount.String(),
		Currency:           p.Currency,
		Status:             string(p.Status),
		VerificationMethod: method,
		ReceiptNumber:      receipt,
		ActorID:            actorID,
		StatusMessage:      p.StatusMessage,
	}
}

// PartitionKey keeps every event of one payment on the same partition.
func (e *PaymentEvent) PartitionKey() string {
	return e.Reference
}
