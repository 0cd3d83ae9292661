package service

import (
	"context"
	"errors"
	"testing"

	"github.com/paypass/wash-service/internal/gateway"
	"github.com/paypass/wash-service/internal/models"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const (
	codeSuccess    = "000.000.000"
	codeProcessing = "000.200.000"
	codeFailure    = "800.100.151"
)

type paymentFixture struct {
	svc      *paymentService
	packages *fakePackageRepo
	payments *fakePaymentRepo
	userPkgs *fakeUserPackageRepo
	gateway  *fakeGateway
	redis    *fakeRedis
	kafka    *fakeKafka
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		packages: &fakePackageRepo{packages: map[string]*models.PackageDefinition{
			"pkg-basic": {
				ID:           "pkg-basic",
				Name:         "Basic",
				Washes:       5,
				DurationDays: 30,
				Active:       true,
				Pricing: map[models.CarSize]float64{
					models.SizeSmall:  50,
					models.SizeMedium: 75,
					models.SizeLarge:  100,
				},
			},
		}},
		payments: newFakePaymentRepo(),
		userPkgs: newFakeUserPackageRepo(),
		gateway: &fakeGateway{session: &gateway.CheckoutSession{
			CheckoutID:   "chk-1",
			MerchantTxID: "tx_abc",
			WidgetURL:    "https://gw.example/v1/paymentWidgets.js?checkoutId=chk-1",
		}},
		redis: newFakeRedis(),
		kafka: &fakeKafka{},
	}
	f.svc = NewPaymentService(f.packages, f.payments, f.userPkgs, f.gateway, f.redis, f.kafka, 5, 10000, "SAR")
	return f
}

func (f *paymentFixture) preparePending(t *testing.T) *models.Payment {
	t.Helper()
	result, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
		UserID:    "user-1",
		PackageID: "pkg-basic",
		CarSize:   models.SizeMedium,
		Method:    models.MethodCard,
	})
	assert.NoError(t, err)
	return result.Payment
}

func TestPrepareCheckout(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newPaymentFixture()

		result, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "pkg-basic",
			CarSize:   models.SizeMedium,
			Method:    models.MethodCard,
		})
		assert.NoError(t, err)
		assert.Equal(t, models.PaymentPending, result.Payment.Status)
		assert.Equal(t, 75.0, result.Payment.Amount)
		assert.Equal(t, "SAR", result.Payment.Currency)
		assert.Equal(t, "chk-1", result.Payment.CheckoutID)
		assert.Equal(t, "tx_abc", result.Payment.MerchantTxID)
		assert.NotZero(t, result.Payment.ID)
		assert.Contains(t, result.WidgetURL, "chk-1")

		stored, err := f.payments.GetByCheckoutID(context.Background(), "chk-1")
		assert.NoError(t, err)
		assert.Equal(t, models.PaymentPending, stored.Status)
	})

	t.Run("DefaultsToCard", func(t *testing.T) {
		f := newPaymentFixture()
		result, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "pkg-basic",
			CarSize:   models.SizeSmall,
		})
		assert.NoError(t, err)
		assert.Equal(t, models.MethodCard, result.Payment.Method)
	})

	t.Run("PackageNotFound", func(t *testing.T) {
		f := newPaymentFixture()
		_, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "no-such",
			CarSize:   models.SizeSmall,
		})
		assert.ErrorIs(t, err, pkgerrors.ErrPackageNotFound)
	})

	t.Run("InactivePackage", func(t *testing.T) {
		f := newPaymentFixture()
		f.packages.packages["pkg-basic"].Active = false
		_, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "pkg-basic",
			CarSize:   models.SizeSmall,
		})
		assert.ErrorIs(t, err, pkgerrors.ErrPackageInactive)
	})

	t.Run("InvalidCarSize", func(t *testing.T) {
		f := newPaymentFixture()
		_, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "pkg-basic",
			CarSize:   "truck",
		})
		assert.Error(t, err)
	})

	t.Run("AmountBelowMinimum", func(t *testing.T) {
		f := newPaymentFixture()
		f.packages.packages["pkg-basic"].Pricing[models.SizeSmall] = 2
		_, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "pkg-basic",
			CarSize:   models.SizeSmall,
		})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("AmountAboveMaximum", func(t *testing.T) {
		f := newPaymentFixture()
		f.packages.packages["pkg-basic"].Pricing[models.SizeLarge] = 20000
		_, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "pkg-basic",
			CarSize:   models.SizeLarge,
		})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("GatewayDownCreatesNoPayment", func(t *testing.T) {
		f := newPaymentFixture()
		f.gateway.createErr = pkgerrors.ErrGatewayUnavailable

		_, err := f.svc.PrepareCheckout(context.Background(), CheckoutInput{
			UserID:    "user-1",
			PackageID: "pkg-basic",
			CarSize:   models.SizeMedium,
		})
		assert.ErrorIs(t, err, pkgerrors.ErrGatewayUnavailable)

		_, err = f.payments.GetByCheckoutID(context.Background(), "chk-1")
		assert.ErrorIs(t, err, pkgerrors.ErrPaymentNotFound)
	})
}

func TestProcessGatewayResult(t *testing.T) {
	t.Run("SuccessIssuesPackage", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)

		outcome, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{
			TransactionID: "gw-tx-1",
			Code:          codeSuccess,
		})
		assert.NoError(t, err)
		assert.False(t, outcome.Duplicate)
		assert.Equal(t, models.PaymentCompleted, outcome.Payment.Status)
		assert.Equal(t, "gw-tx-1", outcome.Payment.TransactionID)
		assert.NotNil(t, outcome.Payment.CompletedAt)

		assert.NotNil(t, outcome.UserPackage)
		assert.Equal(t, payment.ID, outcome.UserPackage.PaymentID)
		assert.Equal(t, "user-1", outcome.UserPackage.UserID)
		assert.Equal(t, int32(5), outcome.UserPackage.CreditsRemaining)
		assert.NotEmpty(t, outcome.UserPackage.Token)
		assert.NotEmpty(t, outcome.QRCode)

		assert.Equal(t, 1, f.kafka.sentTo("payments"))
	})

	t.Run("RedeliveredResultIsIdempotent", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)
		result := gateway.Result{TransactionID: "gw-tx-1", Code: codeSuccess}

		first, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, result)
		assert.NoError(t, err)
		assert.False(t, first.Duplicate)

		second, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, result)
		assert.NoError(t, err)
		assert.True(t, second.Duplicate)
		assert.Equal(t, first.UserPackage.ID, second.UserPackage.ID)
		assert.Equal(t, first.UserPackage.Token, second.UserPackage.Token)

		third, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, result)
		assert.NoError(t, err)
		assert.True(t, third.Duplicate)
		assert.Equal(t, first.UserPackage.ID, third.UserPackage.ID)

		// Exactly one entitlement and one event for three deliveries.
		assert.Len(t, f.userPkgs.rows, 1)
		assert.Equal(t, 1, f.kafka.sentTo("payments"))
	})

	t.Run("FailureIsTerminalWithoutIssuance", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)

		outcome, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{
			TransactionID: "gw-tx-1",
			Code:          codeFailure,
		})
		assert.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, outcome.Payment.Status)
		assert.Nil(t, outcome.UserPackage)
		assert.Empty(t, f.userPkgs.rows)
		assert.Equal(t, 1, f.kafka.sentTo("payments"))

		// A success arriving after the failure is a duplicate, not a flip.
		later, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{Code: codeSuccess})
		assert.NoError(t, err)
		assert.True(t, later.Duplicate)
		assert.Equal(t, models.PaymentFailed, later.Payment.Status)
	})

	t.Run("ProcessingLeavesPaymentPending", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)

		outcome, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{Code: codeProcessing})
		assert.NoError(t, err)
		assert.True(t, outcome.Processing)
		assert.False(t, outcome.Duplicate)
		assert.Equal(t, models.PaymentPending, outcome.Payment.Status)
		assert.Empty(t, f.userPkgs.rows)

		// The later terminal result still goes through normally.
		final, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{Code: codeSuccess})
		assert.NoError(t, err)
		assert.Equal(t, models.PaymentCompleted, final.Payment.Status)
		assert.NotNil(t, final.UserPackage)
	})

	t.Run("UnknownPayment", func(t *testing.T) {
		f := newPaymentFixture()
		_, err := f.svc.ProcessGatewayResult(context.Background(), "no-such-checkout", gateway.Result{Code: codeSuccess})
		assert.ErrorIs(t, err, pkgerrors.ErrUnknownPayment)
	})

	t.Run("IssuanceFailureRevertsPayment", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)
		f.userPkgs.insertErr = errors.New("storage down")

		_, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{Code: codeSuccess})
		assert.ErrorIs(t, err, pkgerrors.ErrInternal)
		assert.Equal(t, 1, f.payments.reverts)

		stored, err := f.payments.GetByCheckoutID(context.Background(), payment.CheckoutID)
		assert.NoError(t, err)
		assert.Equal(t, models.PaymentPending, stored.Status)

		// The redelivered result retries issuance and completes the payment.
		f.userPkgs.insertErr = nil
		outcome, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{Code: codeSuccess})
		assert.NoError(t, err)
		assert.False(t, outcome.Duplicate)
		assert.Equal(t, models.PaymentCompleted, outcome.Payment.Status)
		assert.NotNil(t, outcome.UserPackage)
	})
}

func TestSyncPaymentStatus(t *testing.T) {
	t.Run("TerminalSkipsGateway", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)
		_, err := f.svc.ProcessGatewayResult(context.Background(), payment.CheckoutID, gateway.Result{Code: codeSuccess})
		assert.NoError(t, err)

		outcome, err := f.svc.SyncPaymentStatus(context.Background(), payment.CheckoutID)
		assert.NoError(t, err)
		assert.True(t, outcome.Duplicate)
		assert.Equal(t, models.PaymentCompleted, outcome.Payment.Status)
		assert.NotNil(t, outcome.UserPackage)
		assert.Equal(t, 0, f.gateway.fetchCalls)
	})

	t.Run("PendingPollsAndReconciles", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)
		f.gateway.result = &gateway.Result{TransactionID: "gw-tx-9", Code: codeSuccess}

		outcome, err := f.svc.SyncPaymentStatus(context.Background(), payment.CheckoutID)
		assert.NoError(t, err)
		assert.Equal(t, models.PaymentCompleted, outcome.Payment.Status)
		assert.NotNil(t, outcome.UserPackage)
		assert.Equal(t, 1, f.gateway.fetchCalls)
	})

	t.Run("GatewayError", func(t *testing.T) {
		f := newPaymentFixture()
		payment := f.preparePending(t)
		f.gateway.fetchErr = pkgerrors.ErrGatewayUnavailable

		_, err := f.svc.SyncPaymentStatus(context.Background(), payment.CheckoutID)
		assert.ErrorIs(t, err, pkgerrors.ErrGatewayUnavailable)
	})

	t.Run("UnknownPayment", func(t *testing.T) {
		f := newPaymentFixture()
		_, err := f.svc.SyncPaymentStatus(context.Background(), "no-such-checkout")
		assert.ErrorIs(t, err, pkgerrors.ErrUnknownPayment)
	})
}

func TestGetPackage(t *testing.T) {
	t.Run("CacheAside", func(t *testing.T) {
		f := newPaymentFixture()

		def, err := f.svc.GetPackage(context.Background(), "pkg-basic")
		assert.NoError(t, err)
		assert.Equal(t, "pkg-basic", def.ID)
		assert.Equal(t, 1, f.packages.calls)

		// Second read is served from the cache.
		def, err = f.svc.GetPackage(context.Background(), "pkg-basic")
		assert.NoError(t, err)
		assert.Equal(t, "pkg-basic", def.ID)
		assert.Equal(t, int32(5), def.Washes)
		assert.Equal(t, 1, f.packages.calls)
	})

	t.Run("NotFound", func(t *testing.T) {
		f := newPaymentFixture()
		_, err := f.svc.GetPackage(context.Background(), "no-such")
		assert.ErrorIs(t, err, pkgerrors.ErrPackageNotFound)
	})
}
