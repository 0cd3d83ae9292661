package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/paypass/wash-service/internal/infrastructure/observability"
	"github.com/paypass/wash-service/internal/models"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "CreatePayment")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreatePayment", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreatePayment").Observe(time.Since(start).Seconds())
	}()

	if p == nil {
		err = pkgerrors.ErrNilPayment
		slog.Error("failed to create payment", "method", "Create", "error", err)
		return err
	}
	if p.CheckoutID == "" {
		err = fmt.Errorf("checkout_id is required")
		slog.Error("failed to create payment", "method", "Create", "error", err)
		return err
	}
	if !p.Method.Valid() {
		err = fmt.Errorf("invalid payment method %q", p.Method)
		slog.Error("failed to create payment", "method", "Create", "error", err)
		return err
	}
	if p.Amount <= 0 {
		err = fmt.Errorf("amount must be positive")
		slog.Error("failed to create payment", "method", "Create", "amount", p.Amount, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.String("user_id", p.UserID),
		attribute.String("package_id", p.PackageID),
		attribute.String("checkout_id", p.CheckoutID),
		attribute.Float64("amount", p.Amount),
	)

	query := `INSERT INTO payments (user_id, package_id, amount, currency, method, checkout_id, merchant_tx_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query,
		p.UserID, p.PackageID, p.Amount, p.Currency, p.Method, p.CheckoutID, p.MerchantTxID, models.PaymentPending,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			slog.Error("payment already exists for checkout", "method", "Create", "checkout_id", p.CheckoutID)
			return fmt.Errorf("payment for checkout %s already exists: %w", p.CheckoutID, err)
		}
		slog.Error("failed to create payment", "method", "Create", "checkout_id", p.CheckoutID, "error", err)
		return fmt.Errorf("failed to create payment: %w", err)
	}

	p.Status = models.PaymentPending
	slog.Info("payment created", "method", "Create", "id", p.ID, "checkout_id", p.CheckoutID, "user_id", p.UserID)
	return nil
}

const paymentColumns = `id, user_id, package_id, amount, currency, method, checkout_id, merchant_tx_id, transaction_id, status, created_at, completed_at`

func scanPayment(row interface {
	Scan(dest ...interface{}) error
}) (*models.Payment, error) {
	var p models.Payment
	var txID sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.PackageID,
		&p.Amount,
		&p.Currency,
		&p.Method,
		&p.CheckoutID,
		&p.MerchantTxID,
		&txID,
		&p.Status,
		&p.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if txID.Valid {
		p.TransactionID = txID.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func (r *PostgresPaymentRepository) GetByCheckoutID(ctx context.Context, checkoutID string) (*models.Payment, error) {
	if checkoutID == "" {
		return nil, fmt.Errorf("checkout id cannot be empty")
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE checkout_id = $1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, checkoutID))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrPaymentNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get payment by checkout id: %w", err)
	}
	return p, nil
}

// TransitionFromPending is the compare-and-transition step: the UPDATE only
// matches while the row is still pending, so concurrent deliveries of the
// same gateway result race for a single row and all but one lose.
func (r *PostgresPaymentRepository) TransitionFromPending(ctx context.Context, checkoutID string, to models.PaymentStatus, transactionID string) (*models.Payment, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "TransitionFromPending")
	span.SetAttributes(
		attribute.String("checkout_id", checkoutID),
		attribute.String("to_status", string(to)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("TransitionFromPending", status).Inc()
		observability.RepositoryDuration.WithLabelValues("TransitionFromPending").Observe(time.Since(start).Seconds())
	}()

	if !to.Terminal() {
		err = fmt.Errorf("cannot transition payment to non-terminal status %q", to)
		slog.Error("invalid payment transition", "method", "TransitionFromPending", "to", to, "error", err)
		return nil, err
	}

	query := `UPDATE payments
		SET status = $1, transaction_id = $2, completed_at = NOW()
		WHERE checkout_id = $3 AND status = $4
		RETURNING ` + paymentColumns
	p, scanErr := scanPayment(r.db.QueryRowContext(ctx, query, to, transactionID, checkoutID, models.PaymentPending))
	if stderrors.Is(scanErr, sql.ErrNoRows) {
		// Distinguish a duplicate delivery from a bogus checkout reference.
		var current models.PaymentStatus
		lookupErr := r.db.QueryRowContext(ctx, `SELECT status FROM payments WHERE checkout_id = $1`, checkoutID).Scan(&current)
		if stderrors.Is(lookupErr, sql.ErrNoRows) {
			err = pkgerrors.ErrPaymentNotFound
			return nil, err
		}
		if lookupErr != nil {
			err = fmt.Errorf("failed to inspect payment state: %w", lookupErr)
			slog.Error("failed to inspect payment state", "method", "TransitionFromPending", "checkout_id", checkoutID, "error", lookupErr)
			return nil, err
		}
		err = pkgerrors.ErrPaymentTerminal
		return nil, err
	}
	if scanErr != nil {
		err = fmt.Errorf("failed to transition payment: %w", scanErr)
		slog.Error("failed to transition payment", "method", "TransitionFromPending", "checkout_id", checkoutID, "error", scanErr)
		return nil, err
	}

	slog.Info("payment transitioned", "method", "TransitionFromPending", "id", p.ID, "checkout_id", checkoutID, "status", p.Status)
	return p, nil
}

func (r *PostgresPaymentRepository) RevertToPending(ctx context.Context, id int64) error {
	query := `UPDATE payments
		SET status = $1, transaction_id = NULL, completed_at = NULL
		WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, models.PaymentPending, id, models.PaymentCompleted)
	if err != nil {
		slog.Error("failed to revert payment", "method", "RevertToPending", "id", id, "error", err)
		return fmt.Errorf("failed to revert payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revert payment: %w", err)
	}
	if affected == 0 {
		slog.Warn("payment not reverted, state changed underneath", "method", "RevertToPending", "id", id)
		return pkgerrors.ErrPaymentNotFound
	}
	slog.Info("payment reverted to pending", "method", "RevertToPending", "id", id)
	return nil
}

func (r *PostgresPaymentRepository) ListByUser(ctx context.Context, userID string, status models.PaymentStatus, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
