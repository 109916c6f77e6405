package payment

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/adride-payments/internal/core/events"
)

// ErrDuplicateRecord is returned by a repository when a write hits a unique index.
var ErrDuplicateRecord = errors.New("duplicate payment record")

// Updates is a column -> value set applied by a conditional transition.
type Updates map[string]interface{}

type RepositoryAPI interface {
	Create(ctx context.Context, p *payment.Payment) error
	GetByID(ctx context.Context, id int64) (*payment.Payment, error)
	GetByReference(ctx context.Context, reference string) (*payment.Payment, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*payment.Payment, error)
	GetByReceipt(ctx context.Context, receipt string) (*payment.Payment, error)
	// RecordSTKAttempt bumps the attempt counter and re-arms the payment to pending,
	// only while attempts are below max and the last push is older than cooldown.
	RecordSTKAttempt(ctx context.Context, id int64, at time.Time, maxAttempts int, cooldown time.Duration) (bool, error)
	SaveCheckout(ctx context.Context, id int64, checkoutRequestID, merchantRequestID string, details []byte) error
	// TouchQuery stamps last_query_at unless a query ran within cooldown.
	TouchQuery(ctx context.Context, id int64, at time.Time, cooldown time.Duration) (bool, error)
	// Transition applies updates only while the payment is in one of from.
	Transition(ctx context.Context, id int64, from []payment.Status, updates Updates) (bool, error)
	ListByAdvertiser(ctx context.Context, advertiserID int64, limit int) ([]*payment.Payment, error)
	ListAwaitingApproval(ctx context.Context, limit int) ([]*payment.Payment, error)
}

// Gateway is the mobile-money provider used for push prompts and status queries.
type Gateway interface {
	STKPush(ctx context.Context, req *paymentgateway.PushRequest) (*paymentgateway.PushResponse, error)
	QuerySTK(ctx context.Context, checkoutRequestID string) (*paymentgateway.QueryResult, error)
}

type ReceiptVerifier interface {
	VerifyReceipt(ctx context.Context, check paymentgateway.ReceiptCheck) (*paymentgateway.ReceiptVerification, error)
}

// CallbackParser turns a raw provider notification into a CallbackResult.
type CallbackParser func(body []byte) (*paymentgateway.CallbackResult, error)

// StatusNotifier pushes a payment's current state to the advertiser's browser.
// Implementations must not block on or report delivery failures.
type StatusNotifier interface {
	Notify(ctx context.Context, p *payment.Payment, message string)
}

type CampaignUpdater interface {
	MarkPaid(ctx context.Context, id int64) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ServiceAPI interface {
	InitiateSTKPush(ctx context.Context, req *InitiateSTKPushRequest) (*STKPushResult, error)
	RetrySTKPush(ctx context.Context, advertiserID, paymentID int64) (*STKPushResult, error)
	ReceiveCallback(ctx context.Context, body []byte) error
	QueryStatus(ctx context.Context, req *QueryStatusRequest) (*StatusResult, error)
	VerifyReceipt(ctx context.Context, req *VerifyReceiptRequest) (*VerifyReceiptResult, error)
	ApprovePayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error)
	RejectPayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error)
	CancelPayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error)
	RefundPayment(ctx context.Context, req *AdminActionRequest) (*payment.Payment, error)
	GetPayment(ctx context.Context, viewer Viewer, paymentID int64) (*payment.Payment, error)
	ListPayments(ctx context.Context, advertiserID int64, limit int) ([]*payment.Payment, error)
	ListAwaitingApproval(ctx context.Context, limit int) ([]*payment.Payment, error)
	PaybillDetailsFor(p *payment.Payment) *PaybillDetails
	Config() Config
}

// Config is the tunable behaviour of the payment service.
type Config struct {
	ShortCode       string
	Currency        string
	ReferencePrefix string
	MaxSTKAttempts  int
	QueryCooldown   time.Duration
	RetryCooldown   time.Duration
	FallbackAfter   time.Duration
	MinAmount       int64
	MaxAmount       int64
	GatewayTimeout  time.Duration
}

// Viewer identifies who is reading or querying a payment.
type Viewer struct {
	UserID int64
	// ViewAll lets admins and the reconciliation worker act on any advertiser's payment.
	ViewAll bool
}

func (v Viewer) owns(p *payment.Payment) bool {
	return v.ViewAll || p.AdvertiserID == v.UserID
}
