package payment

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/adride-payments/internal/core/events"
	"github.com/frahmantamala/adride-payments/internal/mpesa"
)

const (
	referenceAttempts     = 3
	defaultGatewayTimeout = 30 * time.Second
	defaultListLimit      = 50
	maxListLimit          = 200
)

type Service struct {
	cfg           Config
	repo          RepositoryAPI
	gateway       Gateway
	verifier      ReceiptVerifier
	parseCallback CallbackParser
	notifier      StatusNotifier
	campaigns     CampaignUpdater
	events        EventPublisher
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Service)

func WithReceiptVerifier(v ReceiptVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

func WithCallbackParser(p CallbackParser) Option {
	return func(s *Service) { s.parseCallback = p }
}

func WithNotifier(n StatusNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithCampaigns(c CampaignUpdater) Option {
	return func(s *Service) { s.campaigns = c }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg Config, repo RepositoryAPI, gateway Gateway, logger *slog.Logger, opts ...Option) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}

	s := &Service{
		cfg:           cfg,
		repo:          repo,
		gateway:       gateway,
		verifier:      UnsupportedVerifier{},
		parseCallback: mpesa.ParseCallback,
		notifier:      noopNotifier{},
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) PaybillDetailsFor(p *payment.Payment) *PaybillDetails {
	return NewPaybillDetails(s.cfg, p)
}

type initiationMetadata struct {
	CampaignData map[string]interface{} `json:"campaign_data,omitempty"`
	Description  string                 `json:"description,omitempty"`
}

// InitiateSTKPush records a new pending payment and sends the first push prompt.
// A gateway failure is not an error: the result carries Success=false and paybill details.
func (s *Service) InitiateSTKPush(ctx context.Context, req *InitiateSTKPushRequest) (*STKPushResult, error) {
	if err := req.Validate(s.cfg); err != nil {
		return nil, err
	}

	now := s.clock()
	metadata, err := json.Marshal(initiationMetadata{CampaignData: req.CampaignData, Description: req.Description})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode payment metadata", err)
	}

	p := &payment.Payment{
		CampaignID:           req.CampaignID,
		AdvertiserID:         req.AdvertiserID,
		Amount:               req.Amount,
		Currency:             s.cfg.Currency,
		PaymentMethod:        payment.MethodMpesa,
		Gateway:              payment.GatewayMpesa,
		PhoneNumber:          req.PhoneNumber,
		PaybillAccountNumber: req.PhoneNumber,
		Status:               payment.StatusPending,
		PaymentDetails:       json.RawMessage(`{}`),
		Metadata:             metadata,
		InitiatedAt:          &now,
	}
	if err := s.create(ctx, p, now); err != nil {
		s.logger.Error("failed to create payment", "error", err, "advertiser_id", req.AdvertiserID)
		return nil, err
	}

	s.logger.Info("payment created",
		"payment_id", p.ID,
		"reference", p.Reference,
		"advertiser_id", p.AdvertiserID,
		"amount", p.Amount.String())
	s.publish(ctx, events.EventTypePaymentInitiated, p, nil)

	return s.push(ctx, p, now)
}

// RetrySTKPush sends another prompt for an existing payment, reusing its reference.
func (s *Service) RetrySTKPush(ctx context.Context, advertiserID, paymentID int64) (*STKPushResult, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.AdvertiserID != advertiserID {
		s.logger.Warn("retry denied for foreign payment", "payment_id", paymentID, "advertiser_id", advertiserID)
		return nil, errors.ErrUnauthorizedAccess
	}

	now := s.clock()
	if !p.CanRetrySTK(now, s.cfg.MaxSTKAttempts, s.cfg.RetryCooldown) {
		return nil, s.retryRefusal(p, now)
	}

	s.logger.Info("retrying STK push", "payment_id", p.ID, "reference", p.Reference, "attempt", p.STKPushAttempts+1)
	return s.push(ctx, p, now)
}

func (s *Service) push(ctx context.Context, p *payment.Payment, now time.Time) (*STKPushResult, error) {
	allowed, err := s.repo.RecordSTKAttempt(ctx, p.ID, now, s.cfg.MaxSTKAttempts, s.cfg.RetryCooldown)
	if err != nil {
		return nil, errors.NewInternalError("failed to record STK push attempt", err)
	}
	if !allowed {
		current, err := s.repo.GetByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return nil, s.retryRefusal(current, now)
	}
	p.STKPushAttempts++
	p.LastSTKPushAt = &now
	p.Status = payment.StatusPending
	p.FailedAt = nil

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	resp, gwErr := s.gateway.STKPush(gwCtx, &paymentgateway.PushRequest{
		PhoneNumber: p.PhoneNumber,
		Amount:      p.Amount,
		Reference:   p.Reference,
		Description: s.pushDescription(p),
	})
	cancel()
	if gwErr != nil {
		return s.pushFailed(ctx, p, gwErr, now)
	}

	raw := resp.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(resp)
	}
	details, err := mergeJSON(p.PaymentDetails, "stk_push", raw)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode gateway response", err)
	}
	if err := s.repo.SaveCheckout(ctx, p.ID, resp.CheckoutRequestID, resp.MerchantRequestID, details); err != nil {
		s.logger.Error("failed to store checkout request",
			"error", err,
			"payment_id", p.ID,
			"checkout_request_id", resp.CheckoutRequestID)
		return nil, errors.NewInternalError("failed to store checkout request", err)
	}
	p.GatewayReference = &resp.CheckoutRequestID
	p.GatewayTransactionID = &resp.MerchantRequestID
	p.PaymentDetails = details

	s.logger.Info("STK push sent",
		"payment_id", p.ID,
		"reference", p.Reference,
		"checkout_request_id", resp.CheckoutRequestID,
		"attempt", p.STKPushAttempts)

	message := "STK push sent. Enter your M-Pesa PIN on your phone to complete payment"
	s.notifier.Notify(ctx, p, message)

	return &STKPushResult{
		Success:           true,
		PaymentID:         p.ID,
		Reference:         p.Reference,
		CheckoutRequestID: resp.CheckoutRequestID,
		Status:            p.Status,
		Message:           message,
		CustomerMessage:   resp.CustomerMessage,
		STKPushAttempts:   p.STKPushAttempts,
		CanRetrySTK:       p.CanRetrySTK(now, s.cfg.MaxSTKAttempts, s.cfg.RetryCooldown),
	}, nil
}

func (s *Service) pushFailed(ctx context.Context, p *payment.Payment, gwErr error, now time.Time) (*STKPushResult, error) {
	message := gatewayFailureMessage(gwErr)
	s.logger.Error("STK push failed",
		"error", gwErr,
		"payment_id", p.ID,
		"reference", p.Reference,
		"attempt", p.STKPushAttempts)

	won, err := s.repo.Transition(ctx, p.ID, []payment.Status{payment.StatusPending}, Updates{
		"status":         payment.StatusFailed,
		"failed_at":      now,
		"status_message": message,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to record STK push failure", err)
	}

	current := s.reload(ctx, p)
	if won {
		s.notifier.Notify(ctx, current, message)
		s.publish(ctx, events.EventTypePaymentFailed, current, nil)
	}

	return &STKPushResult{
		Success:         false,
		PaymentID:       current.ID,
		Reference:       current.Reference,
		Status:          current.Status,
		Message:         message,
		STKPushAttempts: current.STKPushAttempts,
		CanRetrySTK:     current.CanRetrySTK(now, s.cfg.MaxSTKAttempts, s.cfg.RetryCooldown),
		PaybillDetails:  NewPaybillDetails(s.cfg, current),
	}, nil
}

// retryRefusal explains why no further push may be sent for p right now.
func (s *Service) retryRefusal(p *payment.Payment, now time.Time) error {
	switch {
	case p.PaymentMethod != payment.MethodMpesa,
		p.IsAdminRejected(),
		p.Status != payment.StatusPending && p.Status != payment.StatusFailed:
		return errors.ErrInvalidPaymentStatus
	case p.STKPushAttempts >= s.cfg.MaxSTKAttempts:
		return errors.ErrRetryLimitReached
	}
	wait := ceilSeconds(p.RetryAvailableIn(now, s.cfg.RetryCooldown))
	if wait < 1 {
		wait = 1
	}
	return errors.NewRetryCooldownError(wait)
}

func (s *Service) GetPayment(ctx context.Context, viewer Viewer, paymentID int64) (*payment.Payment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !viewer.owns(p) {
		return nil, errors.ErrUnauthorizedAccess
	}
	return p, nil
}

func (s *Service) ListPayments(ctx context.Context, advertiserID int64, limit int) ([]*payment.Payment, error) {
	payments, err := s.repo.ListByAdvertiser(ctx, advertiserID, clampLimit(limit))
	if err != nil {
		return nil, errors.NewInternalError("failed to list payments", err)
	}
	return payments, nil
}

// create inserts p under a fresh reference, moving the reference clock forward on a collision.
func (s *Service) create(ctx context.Context, p *payment.Payment, now time.Time) error {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		p.Reference = GenerateReference(s.cfg.ReferencePrefix, p.PhoneNumber, now.Add(time.Duration(attempt)*time.Second))
		err := s.repo.Create(ctx, p)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, ErrDuplicateRecord) {
			return errors.NewInternalError("failed to create payment", err)
		}
		if p.MpesaReceiptNumber != nil {
			if _, lookupErr := s.repo.GetByReceipt(ctx, *p.MpesaReceiptNumber); lookupErr == nil {
				return errors.ErrDuplicateReceipt
			}
		}
		p.ID = 0
	}
	return errors.NewInternalError("could not allocate a unique payment reference", nil)
}

// reload returns the stored payment, falling back to p when the read fails.
func (s *Service) reload(ctx context.Context, p *payment.Payment) *payment.Payment {
	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		s.logger.Error("failed to reload payment", "error", err, "payment_id", p.ID)
		return p
	}
	return current
}

func (s *Service) markCampaignPaid(ctx context.Context, p *payment.Payment) {
	if s.campaigns == nil || p.CampaignID == nil {
		return
	}
	if err := s.campaigns.MarkPaid(ctx, *p.CampaignID); err != nil {
		s.logger.Error("failed to mark campaign paid",
			"error", err,
			"payment_id", p.ID,
			"campaign_id", *p.CampaignID)
		return
	}
	s.logger.Info("campaign marked paid", "payment_id", p.ID, "campaign_id", *p.CampaignID)
}

func (s *Service) publish(ctx context.Context, eventType string, p *payment.Payment, actorID *int64) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, events.NewPaymentEvent(eventType, p, actorID)); err != nil {
		s.logger.Error("failed to publish payment event", "error", err, "event_type", eventType, "payment_id", p.ID)
	}
}

func (s *Service) pushDescription(p *payment.Payment) string {
	var meta initiationMetadata
	if len(p.Metadata) > 0 && json.Unmarshal(p.Metadata, &meta) == nil && meta.Description != "" {
		return meta.Description
	}
	return "Campaign"
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func gatewayFailureMessage(err error) string {
	var apiErr *mpesa.APIError
	if stderrors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Sprintf("M-Pesa could not send the prompt: %s. Pay via paybill or submit your receipt", apiErr.Message)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "M-Pesa did not respond in time. Pay via paybill or submit your receipt"
	}
	return "M-Pesa is unavailable right now. Pay via paybill or submit your receipt"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func strPtr(s string) *string {
	return &s
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *payment.Payment, string) {}
