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

type adminAction struct {
	Action  string    `json:"action"`
	AdminID int64     `json:"admin_id"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// ApprovePayment completes a payment whose receipt an approver has checked by hand, or one M-Pesa
// confirmed without ever sending the receipt.
func (s *Service) ApprovePayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error) {
	p, err := s.repo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsAwaitingApproval() && !p.IsGatewayConfirmed() {
		return nil, errors.ErrInvalidPaymentStatus
	}

	now := s.clock()
	message := "Payment approved by admin"
	if req.Note != "" {
		message = fmt.Sprintf("%s: %s", message, req.Note)
	}
	updates := Updates{
		"status":                  payment.StatusCompleted,
		"completed_at":            now,
		"processed_at":            now,
		"admin_approved_at":       now,
		"admin_approved_by":       req.AdminID,
		"requires_admin_approval": false,
		"status_message":          message,
	}
	if p.VerificationMethod == nil {
		updates["verification_method"] = payment.VerificationAdminApproval
	}

	current, err := s.adminTransition(ctx, p, []payment.Status{p.Status}, updates, adminAction{Action: "approve", AdminID: req.AdminID, Note: req.Note, At: now})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment approved", "payment_id", current.ID, "reference", current.Reference, "admin_id", req.AdminID)
	s.markCampaignPaid(ctx, current)
	s.notifier.Notify(ctx, current, message)
	s.publish(ctx, events.EventTypePaymentCompleted, current, &req.AdminID)
	return current, nil
}

// RejectPayment fails a payment under review. The advertiser has to start a new payment.
func (s *Service) RejectPayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error) {
	if err := req.ValidateReason(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsAwaitingApproval() {
		return nil, errors.ErrInvalidPaymentStatus
	}

	now := s.clock()
	message := "Rejected: " + req.Reason
	current, err := s.adminTransition(ctx, p, []payment.Status{payment.StatusPendingVerification}, Updates{
		"status":                  payment.StatusFailed,
		"failed_at":               now,
		"admin_approved_by":       req.AdminID,
		"requires_admin_approval": false,
		"status_message":          message,
	}, adminAction{Action: "reject", AdminID: req.AdminID, Note: req.Reason, At: now})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment rejected", "payment_id", current.ID, "reference", current.Reference, "admin_id", req.AdminID)
	s.notifier.Notify(ctx, current, message)
	s.publish(ctx, events.EventTypePaymentFailed, current, &req.AdminID)
	return current, nil
}

func (s *Service) CancelPayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error) {
	if err := req.ValidateReason(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !payment.CanTransition(p.Status, payment.StatusCancelled) {
		return nil, errors.ErrInvalidPaymentStatus
	}

	now := s.clock()
	message := "Cancelled: " + req.Reason
	from := []payment.Status{payment.StatusPending, payment.StatusProcessing, payment.StatusPendingVerification}
	current, err := s.adminTransition(ctx, p, from, Updates{
		"status":                  payment.StatusCancelled,
		"requires_admin_approval": false,
		"status_message":          message,
	}, adminAction{Action: "cancel", AdminID: req.AdminID, Note: req.Reason, At: now})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment cancelled", "payment_id", current.ID, "reference", current.Reference, "admin_id", req.AdminID)
	s.notifier.Notify(ctx, current, message)
	s.publish(ctx, events.EventTypePaymentCancelled, current, &req.AdminID)
	return current, nil
}

func (s *Service) RefundPayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error) {
	if err := req.ValidateReason(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusCompleted {
		return nil, errors.ErrInvalidPaymentStatus
	}

	now := s.clock()
	message := "Refunded: " + req.Reason
	current, err := s.adminTransition(ctx, p, []payment.Status{payment.StatusCompleted}, Updates{
		"status":         payment.StatusRefunded,
		"status_message": message,
	}, adminAction{Action: "refund", AdminID: req.AdminID, Note: req.Reason, At: now})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment refunded", "payment_id", current.ID, "reference", current.Reference, "admin_id", req.AdminID)
	s.notifier.Notify(ctx, current, message)
	s.publish(ctx, events.EventTypePaymentRefunded, current, &req.AdminID)
	return current, nil
}

func (s *Service) ListAwaitingApproval(ctx context.Context, limit int) ([]*payment.Payment, error) {
	payments, err := s.repo.ListAwaitingApproval(ctx, clampLimit(limit))
	if err != nil {
		return nil, errors.NewInternalError("failed to list payments awaiting approval", err)
	}
	return payments, nil
}

// adminTransition stores the action under metadata.admin_action and applies updates if p is still in from.
func (s *Service) adminTransition(ctx context.Context, p *payment.Payment, from []payment.Status, updates Updates, action adminAction) (*payment.Payment, error) {
	metadata, err := mergeJSON(p.Metadata, "admin_action", action)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode admin action", err)
	}
	updates["metadata"] = metadata

	won, err := s.repo.Transition(ctx, p.ID, from, updates)
	if err != nil {
		if stderrors.Is(err, ErrDuplicateRecord) {
			return nil, errors.ErrDuplicateReceipt
		}
		return nil, errors.NewInternalError("failed to update payment", err)
	}
	if !won {
		s.logger.Warn("admin action lost race", "payment_id", p.ID, "action", action.Action)
		return nil, errors.ErrInvalidPaymentStatus
	}
	return s.reload(ctx, p), nil
}
