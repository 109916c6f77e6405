package payment_test

import (
	"context"

	apperrors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/adride-payments/internal/core/events"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("PaymentService ReceiveCallback", func() {
	var (
		h       *harness
		ctx     context.Context
		started *paymentpkg.STKPushResult
	)

	ginkgo.BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
		started = h.initiate(int64Ptr(11))
	})

	ginkgo.It("should complete the payment and mark the campaign paid", func() {
		// When
		err := h.svc.ReceiveCallback(ctx, successCallback("ws_CO_1", "QBC1234567"))

		// Then
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		stored := h.load(started.PaymentID)
		gomega.Expect(stored.Status).To(gomega.Equal(payment.StatusCompleted))
		gomega.Expect(*stored.MpesaReceiptNumber).To(gomega.Equal("QBC1234567"))
		gomega.Expect(*stored.VerificationMethod).To(gomega.Equal(payment.VerificationAutoCallback))
		gomega.Expect(stored.CompletedAt).ToNot(gomega.BeNil())
		gomega.Expect(string(stored.PaymentDetails)).To(gomega.ContainSubstring(`"callback"`))
		gomega.Expect(string(stored.PaymentDetails)).To(gomega.ContainSubstring(`"stk_push"`))
		gomega.Expect(h.campaigns.Paid()).To(gomega.Equal([]int64{11}))
		gomega.Expect(h.notifier.Last().Status).To(gomega.Equal(payment.StatusCompleted))
		gomega.Expect(h.events.Types()).To(gomega.ContainElement(events.EventTypePaymentCompleted))
	})

	ginkgo.It("should ignore a duplicate delivery of the same callback", func() {
		gomega.Expect(h.svc.ReceiveCallback(ctx, successCallback("ws_CO_1", "QBC1234567"))).To(gomega.Succeed())
		notified := len(h.notifier.Statuses())

		err := h.svc.ReceiveCallback(ctx, successCallback("ws_CO_1", "QBC1234567"))

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(h.notifier.Statuses()).To(gomega.HaveLen(notified))
		gomega.Expect(h.campaigns.Paid()).To(gomega.HaveLen(1))
	})

	ginkgo.It("should not let a late failure overwrite a completed payment", func() {
		gomega.Expect(h.svc.ReceiveCallback(ctx, successCallback("ws_CO_1", "QBC1234567"))).To(gomega.Succeed())

		gomega.Expect(h.svc.ReceiveCallback(ctx, failureCallback("ws_CO_1", 1037, "DS timeout"))).To(gomega.Succeed())

		gomega.Expect(h.load(started.PaymentID).Status).To(gomega.Equal(payment.StatusCompleted))
	})

	ginkgo.It("should fail the payment with the gateway's description", func() {
		err := h.svc.ReceiveCallback(ctx, failureCallback("ws_CO_1", 1032, "Request cancelled by user"))

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		stored := h.load(started.PaymentID)
		gomega.Expect(stored.Status).To(gomega.Equal(payment.StatusFailed))
		gomega.Expect(*stored.StatusMessage).To(gomega.Equal("Request cancelled by user"))
		gomega.Expect(stored.FailedAt).ToNot(gomega.BeNil())
		gomega.Expect(h.notifier.Last().Status).To(gomega.Equal(payment.StatusFailed))
		gomega.Expect(h.campaigns.Paid()).To(gomega.BeEmpty())
	})

	ginkgo.It("should park a success without receipt in processing", func() {
		body := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`)

		gomega.Expect(h.svc.ReceiveCallback(ctx, body)).To(gomega.Succeed())

		stored := h.load(started.PaymentID)
		gomega.Expect(stored.Status).To(gomega.Equal(payment.StatusProcessing))
		gomega.Expect(*stored.StatusMessage).To(gomega.Equal("Payment confirmed, awaiting receipt"))
		gomega.Expect(stored.MpesaReceiptNumber).To(gomega.BeNil())
	})

	ginkgo.It("should keep the payment open when the receipt already belongs to another payment", func() {
		// Given
		other := h.initiate(nil)
		gomega.Expect(h.svc.ReceiveCallback(ctx, successCallback("ws_CO_2", "QBC1234567"))).To(gomega.Succeed())
		gomega.Expect(h.load(other.PaymentID).Status).To(gomega.Equal(payment.StatusCompleted))

		// When
		err := h.svc.ReceiveCallback(ctx, successCallback("ws_CO_1", "QBC1234567"))

		// Then
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrDuplicateReceipt))
		gomega.Expect(h.load(started.PaymentID).Status).To(gomega.Equal(payment.StatusPending))
	})

	ginkgo.It("should report unknown checkout requests", func() {
		err := h.svc.ReceiveCallback(ctx, successCallback("ws_CO_unknown", "QBC1234567"))

		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrPaymentNotFound))
	})

	ginkgo.It("should report malformed payloads without touching any payment", func() {
		err := h.svc.ReceiveCallback(ctx, []byte(`{"Body":{}}`))

		gomega.Expect(err).To(gomega.MatchError(paymentgateway.ErrMalformedCallback))
		gomega.Expect(h.load(started.PaymentID).Status).To(gomega.Equal(payment.StatusPending))
	})
})
