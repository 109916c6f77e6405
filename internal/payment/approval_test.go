package payment_test

import (
	"context"

	apperrors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/core/events"
	paymentpkg "github.com/frahmantamala/adride-payments/internal/payment"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = ginkgo.Describe("PaymentService admin actions", func() {
	const adminID int64 = 1

	var (
		h        *harness
		ctx      context.Context
		awaiting *paymentpkg.VerifyReceiptResult
	)

	ginkgo.BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
		var err error
		awaiting, err = h.svc.VerifyReceipt(ctx, &paymentpkg.VerifyReceiptRequest{
			AdvertiserID:  7,
			ReceiptNumber: "QBC1234567",
			Amount:        decimal.NewFromInt(1500),
			PhoneNumber:   "254712345678",
			CampaignID:    int64Ptr(11),
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
	})

	ginkgo.It("should list payments awaiting approval", func() {
		queue, err := h.svc.ListAwaitingApproval(ctx, 0)

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(queue).To(gomega.HaveLen(1))
		gomega.Expect(queue[0].ID).To(gomega.Equal(awaiting.PaymentID))
	})

	ginkgo.It("should approve a payment and cascade to the campaign", func() {
		// When
		p, err := h.svc.ApprovePayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID, Note: "checked statement"})

		// Then
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(p.Status).To(gomega.Equal(payment.StatusCompleted))
		gomega.Expect(p.RequiresAdminApproval).To(gomega.BeFalse())
		gomega.Expect(*p.AdminApprovedBy).To(gomega.Equal(adminID))
		gomega.Expect(p.AdminApprovedAt).ToNot(gomega.BeNil())
		gomega.Expect(*p.VerificationMethod).To(gomega.Equal(payment.VerificationManualReceipt))
		gomega.Expect(string(p.Metadata)).To(gomega.ContainSubstring("checked statement"))
		gomega.Expect(h.campaigns.Paid()).To(gomega.Equal([]int64{11}))
		gomega.Expect(h.notifier.Last().Status).To(gomega.Equal(payment.StatusCompleted))

		queue, _ := h.svc.ListAwaitingApproval(ctx, 10)
		gomega.Expect(queue).To(gomega.BeEmpty())
	})

	ginkgo.It("should not approve twice", func() {
		_, err := h.svc.ApprovePayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		_, err = h.svc.ApprovePayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID})

		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrInvalidPaymentStatus))
		gomega.Expect(h.campaigns.Paid()).To(gomega.HaveLen(1))
	})

	ginkgo.It("should reject with a reason and block further retries", func() {
		// When
		p, err := h.svc.RejectPayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID, Reason: "receipt not found"})

		// Then
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(p.Status).To(gomega.Equal(payment.StatusFailed))
		gomega.Expect(*p.StatusMessage).To(gomega.Equal("Rejected: receipt not found"))
		gomega.Expect(*p.AdminApprovedBy).To(gomega.Equal(adminID))
		gomega.Expect(p.IsAdminRejected()).To(gomega.BeTrue())
		gomega.Expect(p.ShowFallbackOptions(h.clock.Now(), testConfig.FallbackAfter)).To(gomega.BeFalse())
		gomega.Expect(h.campaigns.Paid()).To(gomega.BeEmpty())

		_, err = h.svc.RetrySTKPush(ctx, 7, awaiting.PaymentID)
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrInvalidPaymentStatus))
	})

	ginkgo.It("should require a rejection reason", func() {
		_, err := h.svc.RejectPayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID})

		gomega.Expect(apperrors.IsCode(err, apperrors.ErrCodeValidationFailed)).To(gomega.BeTrue())
		gomega.Expect(h.load(awaiting.PaymentID).Status).To(gomega.Equal(payment.StatusPendingVerification))
	})

	ginkgo.It("should refuse to approve a payment nobody asked to review", func() {
		started := h.initiate(nil)

		_, err := h.svc.ApprovePayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: started.PaymentID, AdminID: adminID})

		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrInvalidPaymentStatus))
	})

	ginkgo.It("should cancel an open payment", func() {
		p, err := h.svc.CancelPayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID, Reason: "duplicate order"})

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(p.Status).To(gomega.Equal(payment.StatusCancelled))
		gomega.Expect(p.RequiresAdminApproval).To(gomega.BeFalse())
		gomega.Expect(h.events.Types()).To(gomega.ContainElement(events.EventTypePaymentCancelled))
	})

	ginkgo.It("should refund only completed payments", func() {
		_, err := h.svc.RefundPayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID, Reason: "campaign pulled"})
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrInvalidPaymentStatus))

		_, err = h.svc.ApprovePayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		p, err := h.svc.RefundPayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID, Reason: "campaign pulled"})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(p.Status).To(gomega.Equal(payment.StatusRefunded))
		gomega.Expect(h.events.Types()).To(gomega.ContainElement(events.EventTypePaymentRefunded))

		_, err = h.svc.CancelPayment(ctx, &paymentpkg.AdminActionRequest{PaymentID: awaiting.PaymentID, AdminID: adminID, Reason: "too late"})
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrInvalidPaymentStatus))
	})
})
