package payment_test

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/events"
	"github.com/frahmantamala/adride-payments/internal/mpesa"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = ginkgo.Describe("GenerateReference", func() {
	ginkgo.It("should combine the prefix, phone tail and unix time tail", func() {
		at := time.Unix(1767123456, 0)

		ref := paymentpkg.GenerateReference("AD", "254712345678", at)

		gomega.Expect(ref).To(gomega.Equal("AD5678123456"))
		gomega.Expect(ref).To(gomega.HaveLen(12))
		gomega.Expect(paymentpkg.GenerateReference("AD", "254712345678", at)).To(gomega.Equal(ref))
	})
})

var _ = ginkgo.Describe("PaymentService STK push", func() {
	var (
		h   *harness
		ctx context.Context
	)

	ginkgo.BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
	})

	ginkgo.Context("InitiateSTKPush", func() {
		ginkgo.It("should create a pending payment and send the prompt", func() {
			// When
			result := h.initiate(int64Ptr(11))

			// Then
			gomega.Expect(result.Success).To(gomega.BeTrue())
			gomega.Expect(result.CheckoutRequestID).To(gomega.Equal("ws_CO_1"))
			gomega.Expect(result.Reference).To(gomega.HavePrefix("AD5678"))
			gomega.Expect(result.STKPushAttempts).To(gomega.Equal(1))
			gomega.Expect(result.CanRetrySTK).To(gomega.BeFalse())

			stored := h.load(result.PaymentID)
			gomega.Expect(stored.Status).To(gomega.Equal(payment.StatusPending))
			gomega.Expect(stored.PhoneNumber).To(gomega.Equal("254712345678"))
			gomega.Expect(stored.PaybillAccountNumber).To(gomega.Equal("254712345678"))
			gomega.Expect(*stored.GatewayReference).To(gomega.Equal("ws_CO_1"))
			gomega.Expect(*stored.GatewayTransactionID).To(gomega.Equal("29115-1"))
			gomega.Expect(stored.VerificationMethod).To(gomega.BeNil())
			gomega.Expect(stored.STKPushAttempts).To(gomega.Equal(1))
			gomega.Expect(string(stored.PaymentDetails)).To(gomega.ContainSubstring(`"stk_push"`))
			gomega.Expect(string(stored.Metadata)).To(gomega.ContainSubstring("Helmet ads"))

			gomega.Expect(h.gateway.lastPush.Reference).To(gomega.Equal(result.Reference))
			gomega.Expect(h.gateway.lastPush.Amount.Equal(decimal.NewFromInt(1500))).To(gomega.BeTrue())
			gomega.Expect(h.events.Types()).To(gomega.ContainElement(events.EventTypePaymentInitiated))
		})

		ginkgo.It("should give two payments started in the same second distinct references", func() {
			first := h.initiate(nil)
			second := h.initiate(nil)

			gomega.Expect(second.Reference).ToNot(gomega.Equal(first.Reference))
		})

		ginkgo.DescribeTable("should reject invalid input without touching the gateway",
			func(phone string, amount decimal.Decimal, code apperrors.ErrorCode) {
				_, err := h.svc.InitiateSTKPush(ctx, &paymentpkg.InitiateSTKPushRequest{
					AdvertiserID: 7,
					PhoneNumber:  phone,
					Amount:       amount,
				})

				appErr, ok := apperrors.IsAppError(err)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(appErr.StatusCode).To(gomega.Equal(400))
				details, ok := appErr.Details.(apperrors.ValidationErrors)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(details.Errors[0].Code).To(gomega.Equal(string(code)))
				gomega.Expect(h.gateway.PushCalls()).To(gomega.Equal(0))
			},
			ginkgo.Entry("landline number", "0201234567", decimal.NewFromInt(100), apperrors.ErrCodeInvalidPhone),
			ginkgo.Entry("zero amount", "0712345678", decimal.Zero, apperrors.ErrCodeValidationFailed),
			ginkgo.Entry("fractional amount", "0712345678", decimal.RequireFromString("10.50"), apperrors.ErrCodeInvalidAmount),
			ginkgo.Entry("amount above limit", "0712345678", decimal.NewFromInt(250001), apperrors.ErrCodeAmountTooHigh),
		)

		ginkgo.It("should fail the payment and offer paybill details when the gateway is down", func() {
			// Given
			h.gateway.pushErr = errors.New("dial tcp: connection refused")

			// When
			result, err := h.svc.InitiateSTKPush(ctx, &paymentpkg.InitiateSTKPushRequest{
				AdvertiserID: 7,
				PhoneNumber:  "254712345678",
				Amount:       decimal.NewFromInt(1500),
			})

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.Success).To(gomega.BeFalse())
			gomega.Expect(result.Status).To(gomega.Equal(payment.StatusFailed))
			gomega.Expect(result.PaybillDetails).ToNot(gomega.BeNil())
			gomega.Expect(result.PaybillDetails.BusinessNumber).To(gomega.Equal("174379"))
			gomega.Expect(result.PaybillDetails.AccountNumber).To(gomega.Equal("254712345678"))
			gomega.Expect(result.PaybillDetails.Amount.Equal(decimal.NewFromInt(1500))).To(gomega.BeTrue())

			stored := h.load(result.PaymentID)
			gomega.Expect(stored.Status).To(gomega.Equal(payment.StatusFailed))
			gomega.Expect(stored.FailedAt).ToNot(gomega.BeNil())
			gomega.Expect(stored.ShowFallbackOptions(h.clock.Now(), testConfig.FallbackAfter)).To(gomega.BeTrue())
			gomega.Expect(h.notifier.Last().Status).To(gomega.Equal(payment.StatusFailed))
			gomega.Expect(h.events.Types()).To(gomega.ContainElement(events.EventTypePaymentFailed))
		})

		ginkgo.It("should pass the gateway's rejection reason to the advertiser", func() {
			h.gateway.pushErr = &mpesa.APIError{StatusCode: 400, Code: "400.002.02", Message: "Invalid PhoneNumber"}

			result := h.initiate(nil)

			gomega.Expect(result.Success).To(gomega.BeFalse())
			gomega.Expect(result.Message).To(gomega.ContainSubstring("Invalid PhoneNumber"))
		})
	})

	ginkgo.Context("RetrySTKPush", func() {
		var first *paymentpkg.STKPushResult

		ginkgo.BeforeEach(func() {
			first = h.initiate(nil)
		})

		ginkgo.It("should refuse a retry inside the cooldown with the remaining wait", func() {
			h.clock.Advance(30 * time.Second)

			_, err := h.svc.RetrySTKPush(ctx, 7, first.PaymentID)

			gomega.Expect(apperrors.IsCode(err, apperrors.ErrCodeRetryCooldown)).To(gomega.BeTrue())
			appErr, _ := apperrors.IsAppError(err)
			gomega.Expect(appErr.Details).To(gomega.HaveKeyWithValue("retry_after_seconds", 90))
			gomega.Expect(h.gateway.PushCalls()).To(gomega.Equal(1))
		})

		ginkgo.It("should send a fresh prompt under the same reference after the cooldown", func() {
			h.clock.Advance(2 * time.Minute)

			result, err := h.svc.RetrySTKPush(ctx, 7, first.PaymentID)

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.Success).To(gomega.BeTrue())
			gomega.Expect(result.Reference).To(gomega.Equal(first.Reference))
			gomega.Expect(result.CheckoutRequestID).To(gomega.Equal("ws_CO_2"))
			gomega.Expect(result.STKPushAttempts).To(gomega.Equal(2))
			gomega.Expect(*h.load(first.PaymentID).GatewayReference).To(gomega.Equal("ws_CO_2"))
		})

		ginkgo.It("should stop after three attempts", func() {
			for i := 0; i < 2; i++ {
				h.clock.Advance(2 * time.Minute)
				_, err := h.svc.RetrySTKPush(ctx, 7, first.PaymentID)
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
			}
			h.clock.Advance(2 * time.Minute)

			_, err := h.svc.RetrySTKPush(ctx, 7, first.PaymentID)

			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrRetryLimitReached))
			gomega.Expect(h.gateway.PushCalls()).To(gomega.Equal(3))
			gomega.Expect(h.load(first.PaymentID).STKPushAttempts).To(gomega.Equal(3))
		})

		ginkgo.It("should re-arm a failed payment to pending", func() {
			// Given
			gomega.Expect(h.svc.ReceiveCallback(ctx, failureCallback("ws_CO_1", 1032, "Request cancelled by user"))).To(gomega.Succeed())
			h.clock.Advance(2 * time.Minute)

			// When
			result, err := h.svc.RetrySTKPush(ctx, 7, first.PaymentID)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.Status).To(gomega.Equal(payment.StatusPending))
			stored := h.load(first.PaymentID)
			gomega.Expect(stored.Status).To(gomega.Equal(payment.StatusPending))
			gomega.Expect(stored.FailedAt).To(gomega.BeNil())
		})

		ginkgo.It("should refuse another advertiser's payment", func() {
			h.clock.Advance(2 * time.Minute)

			_, err := h.svc.RetrySTKPush(ctx, 8, first.PaymentID)

			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrUnauthorizedAccess))
		})

		ginkgo.It("should refuse a completed payment", func() {
			gomega.Expect(h.svc.ReceiveCallback(ctx, successCallback("ws_CO_1", "QBC1234567"))).To(gomega.Succeed())
			h.clock.Advance(2 * time.Minute)

			_, err := h.svc.RetrySTKPush(ctx, 7, first.PaymentID)

			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrInvalidPaymentStatus))
		})
	})

	ginkgo.Context("GetPayment", func() {
		ginkgo.It("should hide a payment from other advertisers but not from admins", func() {
			result := h.initiate(nil)

			_, err := h.svc.GetPayment(ctx, paymentpkg.Viewer{UserID: 8}, result.PaymentID)
			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrUnauthorizedAccess))

			p, err := h.svc.GetPayment(ctx, paymentpkg.Viewer{UserID: 1, ViewAll: true}, result.PaymentID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(p.ID).To(gomega.Equal(result.PaymentID))

			mine, err := h.svc.ListPayments(ctx, 7, 0)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(mine).To(gomega.HaveLen(1))
		})
	})
})
