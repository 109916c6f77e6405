package paymentgateway

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ResultStatus is the gateway's verdict on a push prompt.
type ResultStatus string

const (
	ResultPending ResultStatus = "PENDING"
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
)

var (
	ErrMalformedCallback       = errors.New("malformed callback payload")
	ErrVerificationUnsupported = errors.New("receipt verification not supported by gateway")
)

type PushRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

func (r *PushRequest) Validate() error {
	if r.PhoneNumber == "" {
		return errors.New("phone_number is required")
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	return nil
}

type PushResponse struct {
	MerchantRequestID string          `json:"merchant_request_id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	ResponseCode      string          `json:"response_code"`
	Description       string          `json:"description"`
	CustomerMessage   string          `json:"customer_message"`
	Raw               json.RawMessage `json:"-"`
}

// QueryResult is the gateway's answer to a status query for one checkout request.
type QueryResult struct {
	CheckoutRequestID string
	Status            ResultStatus
	ResultCode        string
	ResultDesc        string
	ReceiptNumber     string
	Raw               json.RawMessage
}

// CallbackResult is a parsed asynchronous notification for one checkout request.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Amount            decimal.Decimal
	PhoneNumber       string
	TransactionDate   *time.Time
	Raw               json.RawMessage
}

func (c *CallbackResult) Succeeded() bool {
	return c.ResultCode == 0
}

type ReceiptCheck struct {
	ReceiptNumber string
	Amount        decimal.Decimal
	PhoneNumber   string
}

type ReceiptVerification struct {
	Verified bool
	Reason   string
	Raw      json.RawMessage
}
