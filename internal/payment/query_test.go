package payment_test

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = ginkgo.Describe("PaymentService QueryStatus", func() {
	var (
		h       *harness
		ctx     context.Context
		started *paymentpkg.STKPushResult
		owner   paymentpkg.Viewer
	)

	query := func() (*paymentpkg.StatusResult, error) {
		return h.svc.QueryStatus(ctx, &paymentpkg.QueryStatusRequest{
			PaymentID:         started.PaymentID,
			CheckoutRequestID: started.CheckoutRequestID,
			Viewer:            owner,
		})
	}

	ginkgo.BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
		started = h.initiate(int64Ptr(11))
		owner = paymentpkg.Viewer{UserID: 7}
	})

	ginkgo.It("should leave a pending payment untouched", func() {
		result, err := query()

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(result.Status).To(gomega.Equal(payment.StatusPending))
		gomega.Expect(h.load(started.PaymentID).LastQueryAt).ToNot(gomega.BeNil())
	})

	ginkgo.It("should throttle a second query inside thirty seconds without calling the gateway", func() {
		// Given
		_, err := query()
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		h.clock.Advance(10 * time.Second)

		// When
		_, err = query()

		// Then
		gomega.Expect(apperrors.IsCode(err, apperrors.ErrCodeQueryThrottled)).To(gomega.BeTrue())
		appErr, _ := apperrors.IsAppError(err)
		gomega.Expect(appErr.StatusCode).To(gomega.Equal(429))
		gomega.Expect(appErr.Details).To(gomega.HaveKeyWithValue("retry_after_seconds", 20))
		gomega.Expect(h.gateway.QueryCalls()).To(gomega.Equal(1))

		h.clock.Advance(20 * time.Second)
		_, err = query()
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(h.gateway.QueryCalls()).To(gomega.Equal(2))
	})

	ginkgo.It("should complete the payment when the gateway reports success with a receipt", func() {
		h.gateway.queryResult = &paymentgateway.QueryResult{Status: paymentgateway.ResultSuccess, ResultCode: "0", ReceiptNumber: "QBC7654321", ResultDesc: "ok"}

		result, err := query()

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(result.Status).To(gomega.Equal(payment.StatusCompleted))
		gomega.Expect(*result.MpesaReceipt).To(gomega.Equal("QBC7654321"))
		stored := h.load(started.PaymentID)
		gomega.Expect(*stored.VerificationMethod).To(gomega.Equal(payment.VerificationQueryAPI))
		gomega.Expect(h.campaigns.Paid()).To(gomega.Equal([]int64{11}))
	})

	ginkgo.It("should move to processing when the gateway reports success without a receipt", func() {
		h.gateway.queryResult = &paymentgateway.QueryResult{Status: paymentgateway.ResultSuccess, ResultCode: "0"}

		result, err := query()

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(result.Status).To(gomega.Equal(payment.StatusProcessing))
	})

	ginkgo.Context("when the gateway confirmed the payment without a receipt", func() {
		ginkgo.BeforeEach(func() {
			h.gateway.queryResult = &paymentgateway.QueryResult{Status: paymentgateway.ResultSuccess, ResultCode: "0", ResultDesc: "The service request is processed successfully."}
			result, err := query()
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.Status).To(gomega.Equal(payment.StatusProcessing))
			gomega.Expect(h.campaigns.Paid()).To(gomega.BeEmpty())
		})

		ginkgo.It("should complete the payment with the receipt from the advertiser's SMS", func() {
			// When
			result, err := h.svc.VerifyReceipt(ctx, &paymentpkg.VerifyReceiptRequest{
				AdvertiserID:  7,
				ReceiptNumber: "QBC7654321",
				Amount:        decimal.NewFromInt(1500),
				PhoneNumber:   "254712345678",
				PaymentID:     &started.PaymentID,
			})

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.Status).To(gomega.Equal(payment.StatusCompleted))
			gomega.Expect(result.RequiresApproval).To(gomega.BeFalse())
			stored := h.load(started.PaymentID)
			gomega.Expect(*stored.MpesaReceiptNumber).To(gomega.Equal("QBC7654321"))
			gomega.Expect(*stored.VerificationMethod).To(gomega.Equal(payment.VerificationManualReceipt))
			gomega.Expect(stored.CompletedAt).ToNot(gomega.BeNil())
			gomega.Expect(h.campaigns.Paid()).To(gomega.Equal([]int64{11}))
		})

		ginkgo.It("should send a receipt with a different amount to the approvers", func() {
			// When
			result, err := h.svc.VerifyReceipt(ctx, &paymentpkg.VerifyReceiptRequest{
				AdvertiserID:  7,
				ReceiptNumber: "QBC7654321",
				Amount:        decimal.NewFromInt(1501),
				PhoneNumber:   "254712345678",
				PaymentID:     &started.PaymentID,
			})

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.Status).To(gomega.Equal(payment.StatusPendingVerification))
			stored := h.load(started.PaymentID)
			gomega.Expect(stored.IsAwaitingApproval()).To(gomega.BeTrue())

			approved, err := h.svc.ApprovePayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: started.PaymentID, AdminID: 2})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(approved.Status).To(gomega.Equal(payment.StatusCompleted))
			gomega.Expect(h.campaigns.Paid()).To(gomega.Equal([]int64{11}))
		})

		ginkgo.It("should let an approver complete it without a receipt", func() {
			// When
			approved, err := h.svc.ApprovePayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: started.PaymentID, AdminID: 2, Note: "seen on paybill statement"})

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(approved.Status).To(gomega.Equal(payment.StatusCompleted))
			gomega.Expect(*approved.VerificationMethod).To(gomega.Equal(payment.VerificationAdminApproval))
			gomega.Expect(*approved.AdminApprovedBy).To(gomega.Equal(int64(2)))
			gomega.Expect(h.campaigns.Paid()).To(gomega.Equal([]int64{11}))
		})
	})

	ginkgo.It("should hold back fallback options until the push prompt has been quiet long enough", func() {
		// Given
		result, err := query()
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(result.ShowFallbackOptions).To(gomega.BeFalse())
		gomega.Expect(result.PaybillDetails).To(gomega.BeNil())

		// When
		h.clock.Advance(40 * time.Second)
		result, err = query()

		// Then
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(result.Status).To(gomega.Equal(payment.StatusPending))
		gomega.Expect(result.ShowFallbackOptions).To(gomega.BeTrue())
		gomega.Expect(result.PaybillDetails).ToNot(gomega.BeNil())
	})

	ginkgo.It("should fail the payment when the gateway reports a failure", func() {
		h.gateway.queryResult = &paymentgateway.QueryResult{Status: paymentgateway.ResultFailed, ResultCode: "1032", ResultDesc: "Request cancelled by user"}

		result, err := query()

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(result.Status).To(gomega.Equal(payment.StatusFailed))
		gomega.Expect(result.Message).To(gomega.Equal("Request cancelled by user"))
		gomega.Expect(result.ShowFallbackOptions).To(gomega.BeTrue())
		gomega.Expect(result.PaybillDetails).ToNot(gomega.BeNil())
		gomega.Expect(h.notifier.Last().Status).To(gomega.Equal(payment.StatusFailed))
	})

	ginkgo.It("should answer from storage for a finalized payment", func() {
		gomega.Expect(h.svc.ReceiveCallback(ctx, successCallback("ws_CO_1", "QBC1234567"))).To(gomega.Succeed())

		result, err := query()

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(result.Status).To(gomega.Equal(payment.StatusCompleted))
		gomega.Expect(h.gateway.QueryCalls()).To(gomega.Equal(0))
	})

	ginkgo.It("should reject a checkout id that belongs to another prompt", func() {
		_, err := h.svc.QueryStatus(ctx, &paymentpkg.QueryStatusRequest{
			PaymentID:         started.PaymentID,
			CheckoutRequestID: "ws_CO_other",
			Viewer:            owner,
		})

		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrCheckoutMismatch))
	})

	ginkgo.It("should refuse other advertisers and allow admins", func() {
		_, err := h.svc.QueryStatus(ctx, &paymentpkg.QueryStatusRequest{PaymentID: started.PaymentID, Viewer: paymentpkg.Viewer{UserID: 8}})
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrUnauthorizedAccess))

		_, err = h.svc.QueryStatus(ctx, &paymentpkg.QueryStatusRequest{PaymentID: started.PaymentID, Viewer: paymentpkg.Viewer{UserID: 1, ViewAll: true}})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
	})

	ginkgo.It("should surface gateway outages as a 502", func() {
		h.gateway.queryErr = errors.New("connection reset")

		_, err := query()

		gomega.Expect(apperrors.IsCode(err, apperrors.ErrCodeGatewayUnavailable)).To(gomega.BeTrue())
		gomega.Expect(h.load(started.PaymentID).Status).To(gomega.Equal(payment.StatusPending))
	})
})
