package payment

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/events"
)

const (
	messageCompleted        = "Payment completed successfully"
	messageAwaitingReceipt  = "Payment confirmed, awaiting receipt"
	messageAlreadyFinalized = "payment already finalized"
)

// ReceiveCallback applies an asynchronous gateway notification. Errors are for logging only;
// the provider is always acknowledged.
func (s *Service) ReceiveCallback(ctx context.Context, body []byte) error {
	result, err := s.parseCallback(body)
	if err != nil {
		s.logger.Error("malformed payment callback", "error", err, "body_size", len(body))
		return err
	}

	log := s.logger.With("checkout_request_id", result.CheckoutRequestID, "result_code", result.ResultCode)

	p, err := s.repo.GetByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if err != nil {
		if stderrors.Is(err, errors.ErrPaymentNotFound) {
			log.Warn("callback for unknown checkout request")
		} else {
			log.Error("failed to load payment for callback", "error", err)
		}
		return err
	}
	log = log.With("payment_id", p.ID, "reference", p.Reference)

	if p.IsTerminal() {
		log.Info(messageAlreadyFinalized, "status", p.Status)
		return nil
	}

	now := s.clock()
	if !result.Succeeded() {
		message := result.ResultDesc
		if message == "" {
			message = fmt.Sprintf("M-Pesa payment failed with code %d", result.ResultCode)
		}
		won, err := s.fail(ctx, p, message, "callback", result.Raw, now)
		if err != nil {
			log.Error("failed to record callback failure", "error", err)
			return err
		}
		log.Info("callback recorded failure", "applied", won, "result_desc", result.ResultDesc)
		return nil
	}

	if result.ReceiptNumber == "" {
		won, err := s.markProcessing(ctx, p, "callback", result.Raw, now)
		if err != nil {
			log.Error("failed to record callback without receipt", "error", err)
			return err
		}
		log.Warn("callback succeeded without receipt", "applied", won)
		return nil
	}

	won, err := s.complete(ctx, p, result.ReceiptNumber, payment.VerificationAutoCallback, "callback", result.Raw, now)
	if err != nil {
		if stderrors.Is(err, errors.ErrDuplicateReceipt) {
			log.Error("callback receipt already used by another payment", "mpesa_receipt", result.ReceiptNumber)
		} else {
			log.Error("failed to complete payment from callback", "error", err)
		}
		return err
	}
	log.Info("callback completed payment", "applied", won, "mpesa_receipt", result.ReceiptNumber)
	return nil
}

// complete moves an open payment to completed. It reports false when another writer got there first.
func (s *Service) complete(ctx context.Context, p *payment.Payment, receipt string, method payment.VerificationMethod, source string, raw []byte, now time.Time) (bool, error) {
	details, err := mergeJSON(p.PaymentDetails, source, raw)
	if err != nil {
		return false, errors.NewInternalError("failed to encode gateway payload", err)
	}

	won, err := s.repo.Transition(ctx, p.ID, payment.OpenStatuses, Updates{
		"status":                  payment.StatusCompleted,
		"completed_at":            now,
		"processed_at":            now,
		"mpesa_receipt_number":    receipt,
		"verification_method":     method,
		"requires_admin_approval": false,
		"status_message":          messageCompleted,
		"payment_details":         details,
	})
	if err != nil {
		if stderrors.Is(err, ErrDuplicateRecord) {
			return false, errors.ErrDuplicateReceipt
		}
		return false, errors.NewInternalError("failed to complete payment", err)
	}
	if !won {
		return false, nil
	}

	current := s.reload(ctx, p)
	s.markCampaignPaid(ctx, current)
	s.notifier.Notify(ctx, current, messageCompleted)
	s.publish(ctx, events.EventTypePaymentCompleted, current, nil)
	return true, nil
}

func (s *Service) fail(ctx context.Context, p *payment.Payment, message, source string, raw []byte, now time.Time) (bool, error) {
	details, err := mergeJSON(p.PaymentDetails, source, raw)
	if err != nil {
		return false, errors.NewInternalError("failed to encode gateway payload", err)
	}

	won, err := s.repo.Transition(ctx, p.ID, payment.OpenStatuses, Updates{
		"status":          payment.StatusFailed,
		"failed_at":       now,
		"processed_at":    now,
		"status_message":  message,
		"payment_details": details,
	})
	if err != nil {
		return false, errors.NewInternalError("failed to mark payment failed", err)
	}
	if !won {
		return false, nil
	}

	current := s.reload(ctx, p)
	s.notifier.Notify(ctx, current, message)
	s.publish(ctx, events.EventTypePaymentFailed, current, nil)
	return true, nil
}

func (s *Service) markProcessing(ctx context.Context, p *payment.Payment, source string, raw []byte, now time.Time) (bool, error) {
	if p.Status == payment.StatusProcessing {
		return false, nil
	}
	details, err := mergeJSON(p.PaymentDetails, source, raw)
	if err != nil {
		return false, errors.NewInternalError("failed to encode gateway payload", err)
	}

	won, err := s.repo.Transition(ctx, p.ID, []payment.Status{payment.StatusPending}, Updates{
		"status":          payment.StatusProcessing,
		"processed_at":    now,
		"status_message":  messageAwaitingReceipt,
		"payment_details": details,
	})
	if err != nil {
		return false, errors.NewInternalError("failed to mark payment processing", err)
	}
	if won {
		s.notifier.Notify(ctx, s.reload(ctx, p), messageAwaitingReceipt)
	}
	return won, nil
}
