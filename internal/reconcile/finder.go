package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/jmoiron/sqlx"
)

// Candidate is a pending payment whose push prompt has gone quiet.
type Candidate struct {
	ID                int64     `db:"id"`
	AdvertiserID      int64     `db:"advertiser_id"`
	Reference         string    `db:"reference"`
	Status            string    `db:"status"`
	CheckoutRequestID string    `db:"gateway_reference"`
	LastSTKPushAt     time.Time `db:"last_stk_push_at"`
}

// Finder lists candidates pushed between notBefore and olderThan. Payments pushed before notBefore
// are left to the advertiser and the approvers.
type Finder interface {
	FindStale(ctx context.Context, olderThan, notBefore time.Time, limit int) ([]Candidate, error)
}

type SQLFinder struct {
	db *sqlx.DB
}

func NewSQLFinder(db *sqlx.DB) *SQLFinder {
	return &SQLFinder{db: db}
}

const staleQuery = `
SELECT id, advertiser_id, reference, status, gateway_reference, last_stk_push_at
FROM payments
WHERE status IN (?)
  AND gateway_reference IS NOT NULL
  AND last_stk_push_at IS NOT NULL
  AND last_stk_push_at <= ?
  AND last_stk_push_at >= ?
ORDER BY last_stk_push_at ASC
LIMIT ?`

func (f *SQLFinder) FindStale(ctx context.Context, olderThan, notBefore time.Time, limit int) ([]Candidate, error) {
	statuses := make([]string, 0, len(payment.QueryableStatuses))
	for _, s := range payment.QueryableStatuses {
		statuses = append(statuses, string(s))
	}

	query, args, err := sqlx.In(staleQuery, statuses, olderThan.UTC(), notBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("build stale payment query: %w", err)
	}

	var candidates []Candidate
	if err := f.db.SelectContext(ctx, &candidates, f.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select stale payments: %w", err)
	}
	return candidates, nil
}
