package payment

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/adride-payments/internal/core/events"
	"github.com/shopspring/decimal"
)

const (
	messageReceiptVerified = "Receipt verified, payment completed"
	messageAwaitingAdmin   = "Receipt submitted, awaiting admin verification"

	reasonGatewayConfirmed = "payment already confirmed by M-Pesa"
)

// UnsupportedVerifier is used when the gateway cannot confirm receipts on demand.
type UnsupportedVerifier struct{}

func (UnsupportedVerifier) VerifyReceipt(context.Context, paymentgateway.ReceiptCheck) (*paymentgateway.ReceiptVerification, error) {
	return nil, paymentgateway.ErrVerificationUnsupported
}

type manualReceipt struct {
	ReceiptNumber string          `json:"receipt_number"`
	Amount        decimal.Decimal `json:"amount"`
	PhoneNumber   string          `json:"phone_number"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	Verified      bool            `json:"verified"`
	Reason        string          `json:"reason,omitempty"`
	Gateway       json.RawMessage `json:"gateway,omitempty"`
}

type receiptMetadata struct {
	CampaignData        map[string]interface{} `json:"campaign_data,omitempty"`
	SupersedesPaymentID *int64                 `json:"supersedes_payment_id,omitempty"`
}

// VerifyReceipt records a receipt the advertiser copied from their M-Pesa SMS.
// Receipts that cannot be confirmed automatically wait for an approver.
func (s *Service) VerifyReceipt(ctx context.Context, req *VerifyReceiptRequest) (*VerifyReceiptResult, error) {
	if err := req.Validate(s.cfg); err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetByReceipt(ctx, req.ReceiptNumber); err == nil {
		s.logger.Warn("receipt already used",
			"mpesa_receipt", req.ReceiptNumber,
			"payment_id", existing.ID,
			"advertiser_id", req.AdvertiserID)
		return nil, errors.ErrDuplicateReceipt
	} else if !stderrors.Is(err, errors.ErrPaymentNotFound) {
		return nil, errors.NewInternalError("failed to check receipt", err)
	}

	var target *payment.Payment
	if req.PaymentID != nil {
		p, err := s.repo.GetByID(ctx, *req.PaymentID)
		if err != nil {
			return nil, err
		}
		if p.AdvertiserID != req.AdvertiserID {
			return nil, errors.ErrUnauthorizedAccess
		}
		target = p
	}

	now := s.clock()
	verification := s.verifyReceipt(ctx, req, target)
	receipt := manualReceipt{
		ReceiptNumber: req.ReceiptNumber,
		Amount:        req.Amount,
		PhoneNumber:   req.PhoneNumber,
		SubmittedAt:   now,
		Verified:      verification.Verified,
		Reason:        verification.Reason,
		Gateway:       verification.Raw,
	}

	var (
		p   *payment.Payment
		err error
	)
	if target != nil && !target.IsTerminal() {
		p, err = s.attachReceipt(ctx, target, receipt, now)
	} else {
		var supersedes *int64
		if target != nil {
			supersedes = &target.ID
		}
		p, err = s.createFromReceipt(ctx, req, receipt, supersedes, now)
	}
	if err != nil {
		return nil, err
	}

	message := messageAwaitingAdmin
	eventType := events.EventTypePaymentPendingVerification
	if p.Status == payment.StatusCompleted {
		message = messageReceiptVerified
		eventType = events.EventTypePaymentCompleted
		s.markCampaignPaid(ctx, p)
	}

	s.logger.Info("manual receipt recorded",
		"payment_id", p.ID,
		"reference", p.Reference,
		"mpesa_receipt", req.ReceiptNumber,
		"status", p.Status)
	s.notifier.Notify(ctx, p, message)
	s.publish(ctx, eventType, p, nil)

	return &VerifyReceiptResult{
		Success:          true,
		PaymentID:        p.ID,
		Reference:        p.Reference,
		ReceiptNumber:    req.ReceiptNumber,
		RequiresApproval: p.RequiresAdminApproval,
		Status:           p.Status,
		Message:          message,
	}, nil
}

// verifyReceipt never fails the submission; anything short of a positive answer means admin review.
func (s *Service) verifyReceipt(ctx context.Context, req *VerifyReceiptRequest, target *payment.Payment) paymentgateway.ReceiptVerification {
	if target != nil && !target.Amount.Equal(req.Amount) {
		return paymentgateway.ReceiptVerification{Reason: "amount differs from payment amount"}
	}
	if target != nil && target.IsGatewayConfirmed() {
		return paymentgateway.ReceiptVerification{Verified: true, Reason: reasonGatewayConfirmed}
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	result, err := s.verifier.VerifyReceipt(vctx, paymentgateway.ReceiptCheck{
		ReceiptNumber: req.ReceiptNumber,
		Amount:        req.Amount,
		PhoneNumber:   req.PhoneNumber,
	})
	switch {
	case stderrors.Is(err, paymentgateway.ErrVerificationUnsupported):
		return paymentgateway.ReceiptVerification{Reason: "automatic verification unavailable"}
	case err != nil:
		s.logger.Warn("receipt verification failed", "error", err, "mpesa_receipt", req.ReceiptNumber)
		return paymentgateway.ReceiptVerification{Reason: "automatic verification failed"}
	case result == nil:
		return paymentgateway.ReceiptVerification{}
	}
	return *result
}

// attachReceipt puts the receipt on a payment that is still open or under review. A payment the gateway
// already confirmed completes with a matching receipt and goes to review otherwise.
func (s *Service) attachReceipt(ctx context.Context, p *payment.Payment, receipt manualReceipt, now time.Time) (*payment.Payment, error) {
	details, err := mergeJSON(p.PaymentDetails, "manual_receipt", receipt)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode receipt details", err)
	}

	updates := Updates{
		"mpesa_receipt_number": receipt.ReceiptNumber,
		"verification_method":  payment.VerificationManualReceipt,
		"payment_details":      details,
	}
	if receipt.Verified {
		updates["status"] = payment.StatusCompleted
		updates["completed_at"] = now
		updates["processed_at"] = now
		updates["requires_admin_approval"] = false
		updates["status_message"] = messageReceiptVerified
	} else {
		updates["status"] = payment.StatusPendingVerification
		updates["requires_admin_approval"] = true
		updates["status_message"] = messageAwaitingAdmin
	}

	won, err := s.repo.Transition(ctx, p.ID, []payment.Status{p.Status}, updates)
	if err != nil {
		if stderrors.Is(err, ErrDuplicateRecord) {
			return nil, errors.ErrDuplicateReceipt
		}
		return nil, errors.NewInternalError("failed to attach receipt", err)
	}
	if !won {
		return nil, errors.ErrInvalidPaymentStatus
	}
	return s.reload(ctx, p), nil
}

func (s *Service) createFromReceipt(ctx context.Context, req *VerifyReceiptRequest, receipt manualReceipt, supersedes *int64, now time.Time) (*payment.Payment, error) {
	details, err := mergeJSON(nil, "manual_receipt", receipt)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode receipt details", err)
	}
	metadata, err := json.Marshal(receiptMetadata{CampaignData: req.CampaignData, SupersedesPaymentID: supersedes})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode payment metadata", err)
	}

	method := payment.VerificationManualReceipt
	p := &payment.Payment{
		CampaignID:           req.CampaignID,
		AdvertiserID:         req.AdvertiserID,
		Amount:               req.Amount,
		Currency:             s.cfg.Currency,
		PaymentMethod:        payment.MethodMpesa,
		Gateway:              payment.GatewayMpesa,
		MpesaReceiptNumber:   strPtr(receipt.ReceiptNumber),
		PhoneNumber:          req.PhoneNumber,
		PaybillAccountNumber: req.PhoneNumber,
		VerificationMethod:   &method,
		PaymentDetails:       details,
		Metadata:             metadata,
		InitiatedAt:          &now,
	}
	if receipt.Verified {
		p.Status = payment.StatusCompleted
		p.CompletedAt = &now
		p.ProcessedAt = &now
		p.StatusMessage = strPtr(messageReceiptVerified)
	} else {
		p.Status = payment.StatusPendingVerification
		p.RequiresAdminApproval = true
		p.StatusMessage = strPtr(messageAwaitingAdmin)
	}

	if err := s.create(ctx, p, now); err != nil {
		return nil, err
	}
	return p, nil
}
