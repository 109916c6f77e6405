package payment

import (
	"math"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/common/validation"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/shopspring/decimal"
)

type InitiateSTKPushRequest struct {
	AdvertiserID int64                  `json:"-"`
	PhoneNumber  string                 `json:"phone_number"`
	Amount       decimal.Decimal        `json:"amount"`
	CampaignID   *int64                 `json:"campaign_id,omitempty"`
	CampaignData map[string]interface{} `json:"campaign_data,omitempty"`
	Description  string                 `json:"description,omitempty"`
}

// Validate normalises the phone number in place before checking it.
func (r *InitiateSTKPushRequest) Validate(cfg Config) error {
	r.PhoneNumber = validation.NormalizePhoneNumber(r.PhoneNumber)

	validator := validation.NewValidator()
	validator.Field("advertiser_id", r.AdvertiserID).Required().Positive()
	validator.Field("phone_number", r.PhoneNumber).
		Required().
		Matches(validation.KenyanPhonePattern, "phone_number must be a Safaricom number in the format 2547XXXXXXXX", errors.ErrCodeInvalidPhone)
	validator.Field("amount", r.Amount).
		Required().
		WholeShillings().
		MinAmount(cfg.MinAmount, errors.ErrCodeAmountTooLow).
		MaxAmount(cfg.MaxAmount, errors.ErrCodeAmountTooHigh)
	validator.Field("description", r.Description).MaxLength(255)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type STKPushResult struct {
	Success           bool            `json:"success"`
	PaymentID         int64           `json:"payment_id"`
	Reference         string          `json:"reference"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	Status            payment.Status  `json:"status"`
	Message           string          `json:"message"`
	CustomerMessage   string          `json:"customer_message,omitempty"`
	STKPushAttempts   int             `json:"stk_push_attempts"`
	CanRetrySTK       bool            `json:"can_retry_stk"`
	PaybillDetails    *PaybillDetails `json:"paybill_details,omitempty"`
}

// PaybillDetails is what an advertiser needs to pay manually from the M-Pesa menu.
type PaybillDetails struct {
	BusinessNumber string          `json:"business_number"`
	AccountNumber  string          `json:"account_number"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

type QueryStatusRequest struct {
	PaymentID         int64  `json:"-"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Viewer            Viewer `json:"-"`
}

type StatusResult struct {
	PaymentID           int64           `json:"payment_id"`
	Reference           string          `json:"reference"`
	Status              payment.Status  `json:"status"`
	MpesaReceipt        *string         `json:"mpesa_receipt,omitempty"`
	Message             string          `json:"message"`
	ShowFallbackOptions bool            `json:"show_fallback_options"`
	CanRetrySTK         bool            `json:"can_retry_stk"`
	PaybillDetails      *PaybillDetails `json:"paybill_details,omitempty"`
}

type VerifyReceiptRequest struct {
	AdvertiserID  int64                  `json:"-"`
	ReceiptNumber string                 `json:"receipt_number"`
	Amount        decimal.Decimal        `json:"amount"`
	PhoneNumber   string                 `json:"phone_number"`
	PaymentID     *int64                 `json:"payment_id,omitempty"`
	CampaignID    *int64                 `json:"campaign_id,omitempty"`
	CampaignData  map[string]interface{} `json:"campaign_data,omitempty"`
}

func (r *VerifyReceiptRequest) Validate(cfg Config) error {
	r.ReceiptNumber = validation.NormalizeReceiptNumber(r.ReceiptNumber)
	r.PhoneNumber = validation.NormalizePhoneNumber(r.PhoneNumber)

	validator := validation.NewValidator()
	validator.Field("advertiser_id", r.AdvertiserID).Required().Positive()
	validator.Field("receipt_number", r.ReceiptNumber).
		Required().
		Matches(validation.ReceiptPattern, "receipt_number must be 8 to 12 letters or digits", errors.ErrCodeInvalidReceipt)
	validator.Field("phone_number", r.PhoneNumber).
		Required().
		Matches(validation.KenyanPhonePattern, "phone_number must be a Safaricom number in the format 2547XXXXXXXX", errors.ErrCodeInvalidPhone)
	validator.Field("amount", r.Amount).
		Required().
		WholeShillings().
		MinAmount(cfg.MinAmount, errors.ErrCodeAmountTooLow).
		MaxAmount(cfg.MaxAmount, errors.ErrCodeAmountTooHigh)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type VerifyReceiptResult struct {
	Success          bool           `json:"success"`
	PaymentID        int64          `json:"payment_id"`
	Reference        string         `json:"reference"`
	ReceiptNumber    string         `json:"receipt_number"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           payment.Status `json:"status"`
	Message          string         `json:"message"`
}

type AdminActionRequest struct {
	PaymentID int64  `json:"-"`
	AdminID   int64  `json:"-"`
	Note      string `json:"note,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (r *AdminActionRequest) ValidateReason() error {
	validator := validation.NewValidator()
	validator.Field("reason", r.Reason).Required().MaxLength(500)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// PaymentView is a payment as shown to its advertiser or an admin, with the derived flags filled in.
type PaymentView struct {
	ID                      int64                       `json:"id"`
	CampaignID              *int64                      `json:"campaign_id,omitempty"`
	AdvertiserID            int64                       `json:"advertiser_id"`
	Reference               string                      `json:"reference"`
	Amount                  decimal.Decimal             `json:"amount"`
	Currency                string                      `json:"currency"`
	PaymentMethod           payment.Method              `json:"payment_method"`
	CheckoutRequestID       *string                     `json:"checkout_request_id,omitempty"`
	MpesaReceiptNumber      *string                     `json:"mpesa_receipt_number,omitempty"`
	PhoneNumber             string                      `json:"phone_number"`
	Status                  payment.Status              `json:"status"`
	StatusMessage           *string                     `json:"status_message,omitempty"`
	VerificationMethod      *payment.VerificationMethod `json:"verification_method,omitempty"`
	RequiresAdminApproval   bool                        `json:"requires_admin_approval"`
	AdminApprovedAt         *time.Time                  `json:"admin_approved_at,omitempty"`
	AdminApprovedBy         *int64                      `json:"admin_approved_by,omitempty"`
	STKPushAttempts         int                         `json:"stk_push_attempts"`
	CanRetrySTK             bool                        `json:"can_retry_stk"`
	RetryAvailableInSeconds int                         `json:"retry_available_in_seconds"`
	IsAwaitingApproval      bool                        `json:"is_awaiting_approval"`
	ShowFallbackOptions     bool                        `json:"show_fallback_options"`
	PaybillDetails          *PaybillDetails             `json:"paybill_details,omitempty"`
	InitiatedAt             *time.Time                  `json:"initiated_at,omitempty"`
	CompletedAt             *time.Time                  `json:"completed_at,omitempty"`
	FailedAt                *time.Time                  `json:"failed_at,omitempty"`
	CreatedAt               time.Time                   `json:"created_at"`
	UpdatedAt               time.Time                   `json:"updated_at"`
}

func NewPaymentView(p *payment.Payment, cfg Config, now time.Time) *PaymentView {
	view := &PaymentView{
		ID:                      p.ID,
		CampaignID:              p.CampaignID,
		AdvertiserID:            p.AdvertiserID,
		Reference:               p.Reference,
		Amount:                  p.Amount,
		Currency:                p.Currency,
		PaymentMethod:           p.PaymentMethod,
		CheckoutRequestID:       p.GatewayReference,
		MpesaReceiptNumber:      p.MpesaReceiptNumber,
		PhoneNumber:             p.PhoneNumber,
		Status:                  p.Status,
		StatusMessage:           p.StatusMessage,
		VerificationMethod:      p.VerificationMethod,
		RequiresAdminApproval:   p.RequiresAdminApproval,
		AdminApprovedAt:         p.AdminApprovedAt,
		AdminApprovedBy:         p.AdminApprovedBy,
		STKPushAttempts:         p.STKPushAttempts,
		CanRetrySTK:             p.CanRetrySTK(now, cfg.MaxSTKAttempts, cfg.RetryCooldown),
		RetryAvailableInSeconds: ceilSeconds(p.RetryAvailableIn(now, cfg.RetryCooldown)),
		IsAwaitingApproval:      p.IsAwaitingApproval(),
		ShowFallbackOptions:     p.ShowFallbackOptions(now, cfg.FallbackAfter),
		InitiatedAt:             p.InitiatedAt,
		CompletedAt:             p.CompletedAt,
		FailedAt:                p.FailedAt,
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
	}
	if view.ShowFallbackOptions {
		view.PaybillDetails = NewPaybillDetails(cfg, p)
	}
	return view
}

func NewPaybillDetails(cfg Config, p *payment.Payment) *PaybillDetails {
	account := p.PaybillAccountNumber
	if account == "" {
		account = p.PhoneNumber
	}
	return &PaybillDetails{
		BusinessNumber: cfg.ShortCode,
		AccountNumber:  account,
		Amount:         p.Amount,
		Currency:       p.Currency,
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
