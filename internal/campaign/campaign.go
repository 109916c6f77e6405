package campaign

import (
	"context"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/campaign"
)

// RepositoryAPI is the slice of the marketplace campaign table the payment flow reads and writes.
type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*campaign.Campaign, error)
	// MarkPaid sets status=paid and payment_verification_status=verified.
	MarkPaid(ctx context.Context, id int64) error
}
