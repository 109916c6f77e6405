package reconcile

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
)

type StatusQuerier interface {
	QueryStatus(ctx context.Context, req *paymentpkg.QueryStatusRequest) (*paymentpkg.StatusResult, error)
}

type Config struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	MaxAge       time.Duration
	BatchSize    int
	Workers      int
	QueueSize    int
	QueryTimeout time.Duration
}

// Reconciler periodically asks the gateway about payments whose callback never arrived.
type Reconciler struct {
	cfg     Config
	finder  Finder
	querier StatusQuerier
	pool    *Pool
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config, finder Finder, querier StatusQuerier, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		cfg:     cfg,
		finder:  finder,
		querier: querier,
		logger:  logger,
		now:     time.Now,
	}
	r.pool = NewPool(cfg.Workers, cfg.QueueSize, r.process, logger)
	return r
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.pool.Start()
	defer r.pool.Shutdown()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reconcile sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep queues every stale candidate and returns how many were accepted.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	candidates, err := r.finder.FindStale(ctx, now.Add(-r.cfg.StaleAfter), now.Add(-r.cfg.MaxAge), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, c := range candidates {
		if err := r.pool.Submit(Job{PaymentID: c.ID, CheckoutRequestID: c.CheckoutRequestID}); err != nil {
			r.logger.Warn("reconcile queue full, deferring to next sweep", "payment_id", c.ID, "pending", r.pool.Pending())
			break
		}
		queued++
	}

	if len(candidates) > 0 {
		r.logger.Info("reconcile sweep", "candidates", len(candidates), "queued", queued)
	}
	return queued, nil
}

func (r *Reconciler) process(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	result, err := r.querier.QueryStatus(ctx, &paymentpkg.QueryStatusRequest{
		PaymentID:         job.PaymentID,
		CheckoutRequestID: job.CheckoutRequestID,
		Viewer:            paymentpkg.Viewer{ViewAll: true},
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeQueryThrottled) || stderrors.Is(err, context.Canceled) {
			r.logger.Debug("reconcile query skipped", "payment_id", job.PaymentID, "error", err)
			return
		}
		r.logger.Warn("reconcile query failed", "payment_id", job.PaymentID, "error", err)
		return
	}

	r.logger.Info("reconciled payment",
		"payment_id", result.PaymentID,
		"reference", result.Reference,
		"status", result.Status)
}
