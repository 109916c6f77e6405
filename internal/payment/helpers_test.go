package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/adride-payments/internal/core/events"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/frahmantamala/adride-payments/internal/payment/postgres"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testConfig = paymentpkg.Config{
	ShortCode:       "174379",
	Currency:        "KES",
	ReferencePrefix: "AD",
	MaxSTKAttempts:  3,
	QueryCooldown:   30 * time.Second,
	RetryCooldown:   2 * time.Minute,
	FallbackAfter:   40 * time.Second,
	MinAmount:       1,
	MaxAmount:       250000,
	GatewayTimeout:  5 * time.Second,
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGateway struct {
	mu          sync.Mutex
	pushErr     error
	queryResult *paymentgateway.QueryResult
	queryErr    error
	pushCalls   int
	queryCalls  int
	lastPush    *paymentgateway.PushRequest
}

func (g *fakeGateway) STKPush(_ context.Context, req *paymentgateway.PushRequest) (*paymentgateway.PushResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushCalls++
	g.lastPush = req
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	checkoutID := fmt.Sprintf("ws_CO_%d", g.pushCalls)
	merchantID := fmt.Sprintf("29115-%d", g.pushCalls)
	raw, _ := json.Marshal(map[string]string{
		"MerchantRequestID": merchantID,
		"CheckoutRequestID": checkoutID,
		"ResponseCode":      "0",
	})
	return &paymentgateway.PushResponse{
		MerchantRequestID: merchantID,
		CheckoutRequestID: checkoutID,
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
		Raw:               raw,
	}, nil
}

func (g *fakeGateway) QuerySTK(_ context.Context, checkoutRequestID string) (*paymentgateway.QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if g.queryResult == nil {
		return &paymentgateway.QueryResult{CheckoutRequestID: checkoutRequestID, Status: paymentgateway.ResultPending}, nil
	}
	result := *g.queryResult
	result.CheckoutRequestID = checkoutRequestID
	return &result, nil
}

func (g *fakeGateway) PushCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pushCalls
}

func (g *fakeGateway) QueryCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

type notification struct {
	PaymentID int64
	Status    payment.Status
	Message   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, p *payment.Payment, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{PaymentID: p.ID, Status: p.Status, Message: message})
}

func (n *recordingNotifier) Statuses() []payment.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	statuses := make([]payment.Status, 0, len(n.sent))
	for _, s := range n.sent {
		statuses = append(statuses, s.Status)
	}
	return statuses
}

func (n *recordingNotifier) Last() notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return notification{}
	}
	return n.sent[len(n.sent)-1]
}

type fakeCampaigns struct {
	mu   sync.Mutex
	paid []int64
	err  error
}

func (c *fakeCampaigns) MarkPaid(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.paid = append(c.paid, id)
	return nil
}

func (c *fakeCampaigns) Paid() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.paid...)
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType())
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type fixedVerifier struct {
	verified bool
	err      error
}

func (v fixedVerifier) VerifyReceipt(context.Context, paymentgateway.ReceiptCheck) (*paymentgateway.ReceiptVerification, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &paymentgateway.ReceiptVerification{Verified: v.verified}, nil
}

type harness struct {
	db        *gorm.DB
	repo      paymentpkg.RepositoryAPI
	gateway   *fakeGateway
	notifier  *recordingNotifier
	campaigns *fakeCampaigns
	events    *recordingPublisher
	clock     *testClock
	svc       *paymentpkg.Service
}

func newHarness(opts ...paymentpkg.Option) *harness {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	gomega.Expect(err).ToNot(gomega.HaveOccurred())
	sqlDB, err := db.DB()
	gomega.Expect(err).ToNot(gomega.HaveOccurred())
	sqlDB.SetMaxOpenConns(1)
	gomega.Expect(db.AutoMigrate(&payment.Payment{})).To(gomega.Succeed())

	h := &harness{
		db:        db,
		repo:      postgres.NewPaymentRepository(db),
		gateway:   &fakeGateway{},
		notifier:  &recordingNotifier{},
		campaigns: &fakeCampaigns{},
		events:    &recordingPublisher{},
		clock:     &testClock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)},
	}
	base := []paymentpkg.Option{
		paymentpkg.WithNotifier(h.notifier),
		paymentpkg.WithCampaigns(h.campaigns),
		paymentpkg.WithEventPublisher(h.events),
		paymentpkg.WithClock(h.clock.Now),
	}
	h.svc = paymentpkg.NewService(testConfig, h.repo, h.gateway, discardLogger(), append(base, opts...)...)
	return h
}

func (h *harness) initiate(campaignID *int64) *paymentpkg.STKPushResult {
	result, err := h.svc.InitiateSTKPush(context.Background(), &paymentpkg.InitiateSTKPushRequest{
		AdvertiserID: 7,
		PhoneNumber:  "0712345678",
		Amount:       decimal.NewFromInt(1500),
		CampaignID:   campaignID,
		Description:  "Helmet ads",
	})
	gomega.Expect(err).ToNot(gomega.HaveOccurred())
	return result
}

func (h *harness) load(id int64) *payment.Payment {
	p, err := h.repo.GetByID(context.Background(), id)
	gomega.Expect(err).ToNot(gomega.HaveOccurred())
	return p
}

func successCallback(checkoutID, receipt string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1500},{"Name":"MpesaReceiptNumber","Value":%q},{"Name":"TransactionDate","Value":20260302100115},{"Name":"PhoneNumber","Value":254712345678}]}}}}`, checkoutID, receipt))
}

func failureCallback(checkoutID string, code int, desc string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":%q}}}`, checkoutID, code, desc))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 {
	return &v
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
