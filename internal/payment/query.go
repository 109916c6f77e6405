package payment

import (
	"context"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
)

// QueryStatus asks the gateway for the outcome of a payment's push prompt, at most once per query cooldown.
func (s *Service) QueryStatus(ctx context.Context, req *QueryStatusRequest) (*StatusResult, error) {
	p, err := s.repo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !req.Viewer.owns(p) {
		return nil, errors.ErrUnauthorizedAccess
	}
	if p.GatewayReference == nil || *p.GatewayReference == "" {
		return nil, errors.NewValidationError("payment has no STK push to query", errors.ErrCodeCheckoutMismatch)
	}
	checkoutID := *p.GatewayReference
	if req.CheckoutRequestID != "" && req.CheckoutRequestID != checkoutID {
		return nil, errors.ErrCheckoutMismatch
	}

	now := s.clock()
	allowed, err := s.repo.TouchQuery(ctx, p.ID, now, s.cfg.QueryCooldown)
	if err != nil {
		return nil, errors.NewInternalError("failed to record status query", err)
	}
	if !allowed {
		wait := ceilSeconds(p.QueryAvailableIn(now, s.cfg.QueryCooldown))
		if wait < 1 {
			wait = 1
		}
		return nil, errors.NewQueryThrottledError(wait)
	}

	if p.IsTerminal() {
		return s.statusResult(p, statusMessage(p), now), nil
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	result, err := s.gateway.QuerySTK(gwCtx, checkoutID)
	cancel()
	if err != nil {
		s.logger.Error("STK status query failed", "error", err, "payment_id", p.ID, "checkout_request_id", checkoutID)
		return nil, errors.NewExternalError("M-Pesa status query failed, try again shortly", errors.ErrCodeGatewayUnavailable, err)
	}

	log := s.logger.With("payment_id", p.ID, "checkout_request_id", checkoutID, "result_code", result.ResultCode)

	switch result.Status {
	case paymentgateway.ResultSuccess:
		if result.ReceiptNumber == "" {
			if _, err := s.markProcessing(ctx, p, "query", result.Raw, now); err != nil {
				return nil, err
			}
			log.Info("status query confirmed payment without receipt")
			break
		}
		won, err := s.complete(ctx, p, result.ReceiptNumber, payment.VerificationQueryAPI, "query", result.Raw, now)
		if err != nil {
			log.Error("failed to complete payment from status query", "error", err)
			return nil, err
		}
		log.Info("status query completed payment", "applied", won)
	case paymentgateway.ResultFailed:
		message := result.ResultDesc
		if message == "" {
			message = "M-Pesa payment failed"
		}
		won, err := s.fail(ctx, p, message, "query", result.Raw, now)
		if err != nil {
			return nil, err
		}
		log.Info("status query recorded failure", "applied", won, "result_desc", result.ResultDesc)
	default:
		log.Debug("payment still pending at gateway")
		return s.statusResult(p, "Payment is still being processed", now), nil
	}

	current := s.reload(ctx, p)
	return s.statusResult(current, statusMessage(current), now), nil
}

func (s *Service) statusResult(p *payment.Payment, message string, now time.Time) *StatusResult {
	result := &StatusResult{
		PaymentID:           p.ID,
		Reference:           p.Reference,
		Status:              p.Status,
		MpesaReceipt:        p.MpesaReceiptNumber,
		Message:             message,
		ShowFallbackOptions: p.ShowFallbackOptions(now, s.cfg.FallbackAfter),
		CanRetrySTK:         p.CanRetrySTK(now, s.cfg.MaxSTKAttempts, s.cfg.RetryCooldown),
	}
	if result.ShowFallbackOptions {
		result.PaybillDetails = NewPaybillDetails(s.cfg, p)
	}
	return result
}

func statusMessage(p *payment.Payment) string {
	if p.StatusMessage != nil && *p.StatusMessage != "" {
		return *p.StatusMessage
	}
	switch p.Status {
	case payment.StatusCompleted:
		return messageCompleted
	case payment.StatusPendingVerification:
		return "Receipt submitted, awaiting admin verification"
	case payment.StatusProcessing:
		return messageAwaitingReceipt
	}
	return string(p.Status)
}
