package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
	"github.com/shopspring/decimal"
)

const receiptItemName = "MpesaReceiptNumber"

type callbackEnvelope struct {
	Body struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID  string            `json:"MerchantRequestID"`
	CheckoutRequestID  string            `json:"CheckoutRequestID"`
	ResultCode         *flexCode         `json:"ResultCode"`
	ResultDesc         string            `json:"ResultDesc"`
	MpesaReceiptNumber string            `json:"MpesaReceiptNumber,omitempty"`
	CallbackMetadata   *callbackMetadata `json:"CallbackMetadata,omitempty"`
}

type callbackMetadata struct {
	Item []metadataItem `json:"Item"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// flexCode accepts result codes sent either as JSON numbers or strings.
type flexCode string

func (f *flexCode) UnmarshalJSON(b []byte) error {
	*f = flexCode(scalarString(b))
	return nil
}

// ParseCallback decodes a Daraja STK callback body.
// The receipt comes from the dedicated field when present, otherwise from the first
// CallbackMetadata item named MpesaReceiptNumber.
func ParseCallback(body []byte) (*paymentgateway.CallbackResult, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentgateway.ErrMalformedCallback, err)
	}

	cb := env.Body.STKCallback
	if cb == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", paymentgateway.ErrMalformedCallback)
	}
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", paymentgateway.ErrMalformedCallback)
	}
	if cb.ResultCode == nil || *cb.ResultCode == "" {
		return nil, fmt.Errorf("%w: missing ResultCode", paymentgateway.ErrMalformedCallback)
	}
	code, err := strconv.Atoi(string(*cb.ResultCode))
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric ResultCode %q", paymentgateway.ErrMalformedCallback, *cb.ResultCode)
	}

	result := &paymentgateway.CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
		ReceiptNumber:     strings.TrimSpace(cb.MpesaReceiptNumber),
		Raw:               json.RawMessage(body),
	}

	if cb.CallbackMetadata == nil {
		return result, nil
	}

	for _, item := range cb.CallbackMetadata.Item {
		value := scalarString(item.Value)
		switch item.Name {
		case receiptItemName:
			if result.ReceiptNumber == "" {
				result.ReceiptNumber = value
			}
		case "Amount":
			if amount, err := decimal.NewFromString(value); err == nil {
				result.Amount = amount
			}
		case "PhoneNumber":
			result.PhoneNumber = value
		case "TransactionDate":
			if t, err := time.ParseInLocation(timestampLayout, value, nairobi); err == nil {
				result.TransactionDate = &t
			}
		}
	}

	return result, nil
}

// scalarString renders a JSON string or number as plain text without float formatting.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(raw)
}
