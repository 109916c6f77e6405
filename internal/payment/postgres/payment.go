package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
	"gorm.io/gorm"
)

// PaymentRepository expects a *gorm.DB opened with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*payment.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*payment.Payment, error) {
	return r.first(ctx, "reference = ?", reference)
}

func (r *PaymentRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*payment.Payment, error) {
	return r.first(ctx, "gateway_reference = ?", checkoutRequestID)
}

func (r *PaymentRepository) GetByReceipt(ctx context.Context, receipt string) (*payment.Payment, error) {
	return r.first(ctx, "mpesa_receipt_number = ?", receipt)
}

func (r *PaymentRepository) RecordSTKAttempt(ctx context.Context, id int64, at time.Time, maxAttempts int, cooldown time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ?", id).
		Where("payment_method = ?", payment.MethodMpesa).
		Where("status IN ?", []payment.Status{payment.StatusPending, payment.StatusFailed}).
		Where("admin_approved_by IS NULL").
		Where("stk_push_attempts < ?", maxAttempts).
		Where("(last_stk_push_at IS NULL OR last_stk_push_at <= ?)", at.Add(-cooldown)).
		Updates(map[string]interface{}{
			"stk_push_attempts": gorm.Expr("stk_push_attempts + 1"),
			"last_stk_push_at":  at,
			"status":            payment.StatusPending,
			"failed_at":         nil,
			"status_message":    nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentRepository) SaveCheckout(ctx context.Context, id int64, checkoutRequestID, merchantRequestID string, details []byte) error {
	result := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway_reference":      checkoutRequestID,
			"gateway_transaction_id": merchantRequestID,
			"payment_details":        details,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) TouchQuery(ctx context.Context, id int64, at time.Time, cooldown time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ?", id).
		Where("(last_query_at IS NULL OR last_query_at <= ?)", at.Add(-cooldown)).
		UpdateColumn("last_query_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentRepository) Transition(ctx context.Context, id int64, from []payment.Status, updates paymentpkg.Updates) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition of payment %d needs at least one source status", id)
	}
	if to, ok := updates["status"].(payment.Status); ok {
		for _, status := range from {
			if status != to && !payment.CanTransition(status, to) {
				return false, fmt.Errorf("illegal payment transition %s -> %s", status, to)
			}
		}
	}

	result := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}(updates))
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentRepository) ListByAdvertiser(ctx context.Context, advertiserID int64, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).
		Where("advertiser_id = ?", advertiserID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListAwaitingApproval(ctx context.Context, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND requires_admin_approval = ?", payment.StatusPendingVerification, true).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) first(ctx context.Context, query string, args ...interface{}) (*payment.Payment, error) {
	var p payment.Payment
	if err := r.db.WithContext(ctx).Where(query, args...).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", paymentpkg.ErrDuplicateRecord, err)
	}
	return err
}
