package campaign

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusDraft          = "draft"
	StatusPendingPayment = "pending_payment"
	StatusPaid           = "paid"

	VerificationPending  = "pending"
	VerificationVerified = "verified"
)

// Campaign is owned by the marketplace. This service only touches Status and PaymentVerificationStatus.
type Campaign struct {
	ID                        int64           `gorm:"primaryKey"`
	AdvertiserID              int64           `gorm:"column:advertiser_id;not null;index"`
	Name                      string          `gorm:"column:name;not null"`
	Budget                    decimal.Decimal `gorm:"column:budget;type:numeric(14,2)"`
	Status                    string          `gorm:"column:status;not null"`
	PaymentVerificationStatus string          `gorm:"column:payment_verification_status;not null"`
	CreatedAt                 time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "campaigns" }
