package postgres

import (
	"context"
	"errors"

	apperrors "github.com/frahmantamala/adride-payments/internal"
	campaignpkg "github.com/frahmantamala/adride-payments/internal/campaign"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/campaign"
	"gorm.io/gorm"
)

type CampaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) campaignpkg.RepositoryAPI {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*campaign.Campaign, error) {
	var c campaign.Campaign
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) MarkPaid(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Model(&campaign.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":                      campaign.StatusPaid,
			"payment_verification_status": campaign.VerificationVerified,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrCampaignNotFound
	}
	return nil
}
