package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/paypass/wash-service/internal/gateway"
	"github.com/paypass/wash-service/internal/infrastructure/kafka"
	"github.com/paypass/wash-service/internal/infrastructure/observability"
	"github.com/paypass/wash-service/internal/infrastructure/redis"
	"github.com/paypass/wash-service/internal/models"
	"github.com/paypass/wash-service/internal/repository"
	"github.com/paypass/wash-service/internal/token"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	topicPayments   = "payments"
	packageCacheTTL = 24 * time.Hour
)

// CheckoutGateway is the slice of the gateway client the payment service
// needs; the concrete client lives in internal/gateway.
type CheckoutGateway interface {
	CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
	FetchStatus(ctx context.Context, checkoutID string, method models.PaymentMethod) (*gateway.Result, error)
}

// CheckoutInput carries everything needed to open a checkout session.
type CheckoutInput struct {
	UserID    string
	PackageID string
	CarSize   models.CarSize
	Method    models.PaymentMethod
	Email     string
	GivenName string
	Surname   string
	Street    string
	City      string
	State     string
	Country   string
	Postcode  string
}

// CheckoutResult is returned to the client so it can open the hosted widget.
type CheckoutResult struct {
	Payment   *models.Payment
	WidgetURL string
}

// ReconcileOutcome describes what a gateway result delivery did. Duplicate
// deliveries carry the previously recorded state and QRCode may be nil when
// rendering failed (the token itself stays valid).
type ReconcileOutcome struct {
	Payment     *models.Payment
	UserPackage *models.UserPackage
	QRCode      []byte
	Duplicate   bool
	Processing  bool
}

type PaymentService interface {
	PrepareCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)
	// ProcessGatewayResult is the single reconciliation entry point for both
	// webhook deliveries and polled status checks.
	ProcessGatewayResult(ctx context.Context, checkoutID string, result gateway.Result) (*ReconcileOutcome, error)
	// SyncPaymentStatus polls the gateway and feeds the result through
	// ProcessGatewayResult.
	SyncPaymentStatus(ctx context.Context, checkoutID string) (*ReconcileOutcome, error)
	ListUserPayments(ctx context.Context, userID string, status models.PaymentStatus, limit, offset int) ([]models.Payment, error)
	GetPackage(ctx context.Context, id string) (*models.PackageDefinition, error)
	ListPackages(ctx context.Context) ([]models.PackageDefinition, error)
}

type paymentService struct {
	packageRepo     repository.PackageRepository
	paymentRepo     repository.PaymentRepository
	userPackageRepo repository.UserPackageRepository
	gateway         CheckoutGateway
	redisClient     redis.RedisClient
	kafkaProducer   kafka.KafkaProducer
	minAmount       float64
	maxAmount       float64
	currency        string
}

func NewPaymentService(
	packageRepo repository.PackageRepository,
	paymentRepo repository.PaymentRepository,
	userPackageRepo repository.UserPackageRepository,
	gw CheckoutGateway,
	redisClient redis.RedisClient,
	kafkaProducer kafka.KafkaProducer,
	minAmount, maxAmount float64,
	currency string,
) *paymentService {
	return &paymentService{
		packageRepo:     packageRepo,
		paymentRepo:     paymentRepo,
		userPackageRepo: userPackageRepo,
		gateway:         gw,
		redisClient:     redisClient,
		kafkaProducer:   kafkaProducer,
		minAmount:       minAmount,
		maxAmount:       maxAmount,
		currency:        currency,
	}
}

// GetPackage reads the catalog through a cache-aside Redis layer; catalog
// rows change rarely and never through this service.
func (s *paymentService) GetPackage(ctx context.Context, id string) (*models.PackageDefinition, error) {
	cacheKey := fmt.Sprintf("package:%s", id)
	if cached, err := s.redisClient.Get(ctx, cacheKey); err == nil {
		var def models.PackageDefinition
		if err := json.Unmarshal([]byte(cached), &def); err == nil {
			return &def, nil
		}
		slog.Error("failed to unmarshal cached package", "package_id", id, "error", err)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Error("failed to read package cache", "package_id", id, "error", err)
	}

	def, err := s.packageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(def); err == nil {
		if err := s.redisClient.Set(ctx, cacheKey, string(raw), packageCacheTTL); err != nil {
			slog.Error("failed to cache package", "package_id", id, "error", err)
		}
	}
	return def, nil
}

func (s *paymentService) ListPackages(ctx context.Context) ([]models.PackageDefinition, error) {
	return s.packageRepo.ListActive(ctx)
}

func (s *paymentService) PrepareCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "PrepareCheckout")
	defer span.End()

	if in.UserID == "" || in.PackageID == "" {
		span.SetStatus(codes.Error, "missing user or package id")
		return nil, fmt.Errorf("user id and package id are required")
	}
	if !in.CarSize.Valid() {
		span.SetStatus(codes.Error, "invalid car size")
		return nil, fmt.Errorf("invalid car size %q", in.CarSize)
	}
	if in.Method == "" {
		in.Method = models.MethodCard
	}
	if !in.Method.Valid() {
		span.SetStatus(codes.Error, "invalid payment method")
		return nil, fmt.Errorf("invalid payment method %q", in.Method)
	}

	def, err := s.GetPackage(ctx, in.PackageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "package lookup failed")
		slog.Error("package lookup failed", "package_id", in.PackageID, "error", err)
		return nil, err
	}
	if !def.Active {
		span.SetStatus(codes.Error, "package inactive")
		return nil, pkgerrors.ErrPackageInactive
	}

	amount, ok := def.PriceFor(in.CarSize)
	if !ok {
		span.SetStatus(codes.Error, "no price for car size")
		return nil, fmt.Errorf("package %s has no price for size %s", in.PackageID, in.CarSize)
	}
	if amount < s.minAmount || amount > s.maxAmount {
		span.SetStatus(codes.Error, "amount outside bounds")
		slog.Warn("amount outside bounds", "amount", amount, "min", s.minAmount, "max", s.maxAmount)
		return nil, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]", pkgerrors.ErrInvalidAmount, amount, s.minAmount, s.maxAmount)
	}

	// Gateway first: on gateway failure no Payment row is created and the
	// error goes back to the caller unchanged.
	session, err := s.gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		Amount:    amount,
		Method:    in.Method,
		Email:     in.Email,
		GivenName: in.GivenName,
		Surname:   in.Surname,
		Street:    in.Street,
		City:      in.City,
		State:     in.State,
		Country:   in.Country,
		Postcode:  in.Postcode,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway checkout failed")
		return nil, err
	}

	payment := &models.Payment{
		UserID:       in.UserID,
		PackageID:    in.PackageID,
		Amount:       amount,
		Currency:     s.currency,
		Method:       in.Method,
		CheckoutID:   session.CheckoutID,
		MerchantTxID: session.MerchantTxID,
		Status:       models.PaymentPending,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment creation failed")
		slog.Error("failed to persist pending payment", "checkout_id", session.CheckoutID, "error", err)
		return nil, fmt.Errorf("%w: failed to persist payment", pkgerrors.ErrInternal)
	}

	slog.Info("checkout prepared",
		"payment_id", payment.ID,
		"checkout_id", session.CheckoutID,
		"user_id", in.UserID,
		"package_id", in.PackageID,
		"amount", amount,
		"method", in.Method)
	return &CheckoutResult{Payment: payment, WidgetURL: session.WidgetURL}, nil
}

func (s *paymentService) ProcessGatewayResult(ctx context.Context, checkoutID string, result gateway.Result) (*ReconcileOutcome, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ProcessGatewayResult")
	defer span.End()

	payment, err := s.paymentRepo.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrPaymentNotFound) {
			// Webhooks never create payments; only the checkout path does.
			slog.Warn("gateway result for unknown payment", "checkout_id", checkoutID)
			span.SetStatus(codes.Error, "unknown payment")
			return nil, pkgerrors.ErrUnknownPayment
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment lookup failed")
		return nil, err
	}

	decision := Decide(payment.Status, gateway.Classify(result.Code))

	if decision.Duplicate {
		return s.duplicateOutcome(ctx, payment)
	}
	if !decision.Transition {
		slog.Info("payment still processing at gateway", "checkout_id", checkoutID, "code", result.Code)
		return &ReconcileOutcome{Payment: payment, Processing: true}, nil
	}

	updated, err := s.paymentRepo.TransitionFromPending(ctx, checkoutID, decision.Next, result.TransactionID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrPaymentTerminal) {
			// Lost the race against a concurrent delivery of the same result.
			fresh, lookupErr := s.paymentRepo.GetByCheckoutID(ctx, checkoutID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return s.duplicateOutcome(ctx, fresh)
		}
		if stderrors.Is(err, pkgerrors.ErrPaymentNotFound) {
			return nil, pkgerrors.ErrUnknownPayment
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return nil, err
	}

	outcome := &ReconcileOutcome{Payment: updated}

	if decision.has(EffectIssuePackage) {
		userPackage, qr, issueErr := s.issue(ctx, updated)
		if issueErr != nil {
			// Never leave a completed payment without its package: revert so
			// the gateway's redelivery retries the whole step.
			span.RecordError(issueErr)
			span.SetStatus(codes.Error, "issuance failed")
			slog.Error("issuance failed, reverting payment", "payment_id", updated.ID, "error", issueErr)
			if revertErr := s.paymentRepo.RevertToPending(ctx, updated.ID); revertErr != nil {
				slog.Error("failed to revert payment after issuance failure", "payment_id", updated.ID, "error", revertErr)
			}
			return nil, fmt.Errorf("%w: issuance failed", pkgerrors.ErrInternal)
		}
		outcome.UserPackage = userPackage
		outcome.QRCode = qr
	}

	if decision.has(EffectPublishEvent) {
		s.publishPaymentEvent(ctx, updated)
	}

	observability.PaymentsReconciled.WithLabelValues(string(updated.Status), "false").Inc()
	slog.Info("payment reconciled", "checkout_id", checkoutID, "status", updated.Status, "transaction_id", result.TransactionID)
	return outcome, nil
}

func (s *paymentService) SyncPaymentStatus(ctx context.Context, checkoutID string) (*ReconcileOutcome, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "SyncPaymentStatus")
	defer span.End()

	payment, err := s.paymentRepo.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrPaymentNotFound) {
			return nil, pkgerrors.ErrUnknownPayment
		}
		return nil, err
	}

	// Terminal payments never need another gateway round trip.
	if payment.Status.Terminal() {
		return s.duplicateOutcome(ctx, payment)
	}

	result, err := s.gateway.FetchStatus(ctx, checkoutID, payment.Method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status fetch failed")
		return nil, err
	}

	return s.ProcessGatewayResult(ctx, checkoutID, *result)
}

func (s *paymentService) ListUserPayments(ctx context.Context, userID string, status models.PaymentStatus, limit, offset int) ([]models.Payment, error) {
	return s.paymentRepo.ListByUser(ctx, userID, status, limit, offset)
}

// duplicateOutcome answers a redelivered result with the recorded terminal
// state, including the already-issued package for completed payments.
func (s *paymentService) duplicateOutcome(ctx context.Context, payment *models.Payment) (*ReconcileOutcome, error) {
	outcome := &ReconcileOutcome{Payment: payment, Duplicate: true}
	if payment.Status == models.PaymentCompleted {
		userPackage, err := s.userPackageRepo.GetByPaymentID(ctx, payment.ID)
		if err != nil {
			slog.Error("terminal payment missing user package", "payment_id", payment.ID, "error", err)
			return nil, fmt.Errorf("%w: completed payment has no package", pkgerrors.ErrInternal)
		}
		outcome.UserPackage = userPackage
	}
	observability.PaymentsReconciled.WithLabelValues(string(payment.Status), "true").Inc()
	slog.Info("duplicate gateway delivery", "checkout_id", payment.CheckoutID, "status", payment.Status)
	return outcome, nil
}

// issue mints the entitlement for a freshly completed payment. Issuance is
// idempotent: losing the unique payment_id race returns the winner's row.
func (s *paymentService) issue(ctx context.Context, payment *models.Payment) (*models.UserPackage, []byte, error) {
	def, err := s.GetPackage(ctx, payment.PackageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load package for issuance: %w", err)
	}

	tok, err := token.Encode(payment.UserID, payment.PackageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate token: %w", err)
	}

	userPackage := &models.UserPackage{
		UserID:           payment.UserID,
		PackageID:        payment.PackageID,
		PaymentID:        payment.ID,
		Token:            tok,
		CreditsRemaining: def.Washes,
		ExpiresAt:        time.Now().Add(time.Duration(def.DurationDays) * 24 * time.Hour),
	}

	if err := s.userPackageRepo.Insert(ctx, userPackage); err != nil {
		if stderrors.Is(err, pkgerrors.ErrDuplicateIssuance) {
			existing, lookupErr := s.userPackageRepo.GetByPaymentID(ctx, payment.ID)
			if lookupErr != nil {
				return nil, nil, fmt.Errorf("failed to load existing user package: %w", lookupErr)
			}
			slog.Info("issuance already done for payment", "payment_id", payment.ID, "user_package_id", existing.ID)
			userPackage = existing
		} else {
			return nil, nil, err
		}
	}

	// QR rendering is derived data; a failure here never unwinds issuance.
	qr, err := token.RenderPackageQR(userPackage.Token, userPackage.CreditsRemaining, userPackage.ExpiresAt, nil)
	if err != nil {
		slog.Warn("failed to render package qr", "user_package_id", userPackage.ID, "error", err)
		qr = nil
	}

	slog.Info("user package issued",
		"user_package_id", userPackage.ID,
		"payment_id", payment.ID,
		"user_id", payment.UserID,
		"credits", userPackage.CreditsRemaining,
		"expires_at", userPackage.ExpiresAt)
	return userPackage, qr, nil
}

func (s *paymentService) publishPaymentEvent(ctx context.Context, payment *models.Payment) {
	event := map[string]interface{}{
		"event_type":     "payment_" + string(payment.Status),
		"payment_id":     payment.ID,
		"user_id":        payment.UserID,
		"package_id":     payment.PackageID,
		"amount":         payment.Amount,
		"currency":       payment.Currency,
		"checkout_id":    payment.CheckoutID,
		"transaction_id": payment.TransactionID,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal payment event", "payment_id", payment.ID, "error", err)
		return
	}
	if err := s.kafkaProducer.Send(ctx, topicPayments, payment.ID, eventBytes); err != nil {
		// Reconciliation already committed; the event stream is best effort.
		slog.Error("failed to publish payment event", "payment_id", payment.ID, "error", err)
	}
}
