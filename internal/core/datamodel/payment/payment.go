package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending             Status = "pending"
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
	StatusRefunded            Status = "refunded"
	StatusPendingVerification Status = "pending_verification"
)

type VerificationMethod string

const (
	VerificationAutoCallback  VerificationMethod = "auto_callback"
	VerificationManualReceipt VerificationMethod = "manual_receipt"
	VerificationQueryAPI      VerificationMethod = "query_api"
	VerificationAdminApproval VerificationMethod = "admin_approval"
	VerificationPaybillManual VerificationMethod = "paybill_manual"
)

type Method string

const (
	MethodMpesa  Method = "mpesa"
	MethodBank   Method = "bank"
	MethodCard   Method = "card"
	MethodCash   Method = "cash"
	MethodCheque Method = "cheque"
)

const GatewayMpesa = "mpesa"

// Payment is one payment attempt. Rows are never deleted.
type Payment struct {
	ID                    int64               `gorm:"primaryKey"`
	CampaignID            *int64              `gorm:"column:campaign_id;index"`
	AdvertiserID          int64               `gorm:"column:advertiser_id;not null;index"`
	Reference             string              `gorm:"column:reference;not null;uniqueIndex"`
	Amount                decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency              string              `gorm:"column:currency;size:3;not null"`
	PaymentMethod         Method              `gorm:"column:payment_method;not null"`
	Gateway               string              `gorm:"column:gateway"`
	GatewayTransactionID  *string             `gorm:"column:gateway_transaction_id"`
	GatewayReference      *string             `gorm:"column:gateway_reference;index"`
	MpesaReceiptNumber    *string             `gorm:"column:mpesa_receipt_number;uniqueIndex"`
	PhoneNumber           string              `gorm:"column:phone_number"`
	PaybillAccountNumber  string              `gorm:"column:paybill_account_number"`
	Status                Status              `gorm:"column:status;not null;index"`
	StatusMessage         *string             `gorm:"column:status_message"`
	VerificationMethod    *VerificationMethod `gorm:"column:verification_method"`
	RequiresAdminApproval bool                `gorm:"column:requires_admin_approval;not null"`
	AdminApprovedAt       *time.Time          `gorm:"column:admin_approved_at"`
	AdminApprovedBy       *int64              `gorm:"column:admin_approved_by"`
	STKPushAttempts       int                 `gorm:"column:stk_push_attempts;not null"`
	LastSTKPushAt         *time.Time          `gorm:"column:last_stk_push_at"`
	LastQueryAt           *time.Time          `gorm:"column:last_query_at"`
	PaymentDetails        json.RawMessage     `gorm:"column:payment_details;type:jsonb"`
	Metadata              json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	InitiatedAt           *time.Time          `gorm:"column:initiated_at"`
	ProcessedAt           *time.Time          `gorm:"column:processed_at"`
	CompletedAt           *time.Time          `gorm:"column:completed_at"`
	FailedAt              *time.Time          `gorm:"column:failed_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }

var TerminalStatuses = []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded}

// OpenStatuses are the states an automated handler (callback, status query) may still resolve.
var OpenStatuses = []Status{StatusPending, StatusProcessing}

// QueryableStatuses are the states where a status query can still learn something new. A processing
// payment is already confirmed and the query API never returns its receipt.
var QueryableStatuses = []Status{StatusPending}

var transitions = map[Status][]Status{
	StatusPending:             {StatusProcessing, StatusCompleted, StatusFailed, StatusPendingVerification, StatusCancelled},
	StatusProcessing:          {StatusCompleted, StatusFailed, StatusPendingVerification, StatusCancelled},
	StatusPendingVerification: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:           {StatusRefunded},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

func (p *Payment) IsTerminal() bool {
	return p.Status.IsTerminal()
}

func (p *Payment) IsAwaitingApproval() bool {
	return p.RequiresAdminApproval && p.Status == StatusPendingVerification
}

// IsGatewayConfirmed is true when M-Pesa reported success but no receipt has been recorded yet.
func (p *Payment) IsGatewayConfirmed() bool {
	return p.Status == StatusProcessing
}

// IsAdminRejected is true for a payment an approver turned down. Those can only be restarted as a new payment.
func (p *Payment) IsAdminRejected() bool {
	return p.Status == StatusFailed && p.AdminApprovedBy != nil
}

// CanRetrySTK reports whether one more STK push may be sent for this payment at now.
func (p *Payment) CanRetrySTK(now time.Time, maxAttempts int, cooldown time.Duration) bool {
	if p.PaymentMethod != MethodMpesa {
		return false
	}
	if p.Status != StatusPending && p.Status != StatusFailed {
		return false
	}
	if p.IsAdminRejected() || p.STKPushAttempts >= maxAttempts {
		return false
	}
	return p.RetryAvailableIn(now, cooldown) == 0
}

// RetryAvailableIn returns how long until the STK retry cooldown elapses, zero when already elapsed.
func (p *Payment) RetryAvailableIn(now time.Time, cooldown time.Duration) time.Duration {
	return remaining(p.LastSTKPushAt, now, cooldown)
}

// QueryAvailableIn returns how long until the status query cooldown elapses, zero when already elapsed.
func (p *Payment) QueryAvailableIn(now time.Time, cooldown time.Duration) time.Duration {
	return remaining(p.LastQueryAt, now, cooldown)
}

// ShowFallbackOptions is true when the browser should offer retry, paybill or manual receipt entry.
// An open push prompt only gets them once it has been quiet for wait.
func (p *Payment) ShowFallbackOptions(now time.Time, wait time.Duration) bool {
	switch p.Status {
	case StatusFailed:
		return !p.IsAdminRejected()
	case StatusPending, StatusProcessing:
		return p.STKPushAttempts > 0 && remaining(p.LastSTKPushAt, now, wait) == 0
	}
	return false
}

func remaining(last *time.Time, now time.Time, cooldown time.Duration) time.Duration {
	if last == nil {
		return 0
	}
	wait := last.Add(cooldown).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
