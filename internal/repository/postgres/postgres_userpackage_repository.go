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

type PostgresUserPackageRepository struct {
	db *sql.DB
}

func NewPostgresUserPackageRepository(db *sql.DB) *PostgresUserPackageRepository {
	return &PostgresUserPackageRepository{db: db}
}

const userPackageColumns = `id, user_id, package_id, payment_id, token, credits_remaining, expires_at, created_at`

func scanUserPackage(row interface {
	Scan(dest ...interface{}) error
}) (*models.UserPackage, error) {
	var up models.UserPackage
	err := row.Scan(
		&up.ID,
		&up.UserID,
		&up.PackageID,
		&up.PaymentID,
		&up.Token,
		&up.CreditsRemaining,
		&up.ExpiresAt,
		&up.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func (r *PostgresUserPackageRepository) Insert(ctx context.Context, up *models.UserPackage) error {
	var err error
	tracer := otel.Tracer("userpackage-repository")
	ctx, span := tracer.Start(ctx, "InsertUserPackage")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("InsertUserPackage", status).Inc()
		observability.RepositoryDuration.WithLabelValues("InsertUserPackage").Observe(time.Since(start).Seconds())
	}()

	if up == nil {
		err = pkgerrors.ErrNilUserPackage
		slog.Error("failed to insert user package", "method", "Insert", "error", err)
		return err
	}
	if up.Token == "" {
		err = fmt.Errorf("token is required")
		slog.Error("failed to insert user package", "method", "Insert", "error", err)
		return err
	}
	if up.CreditsRemaining <= 0 {
		err = fmt.Errorf("credits must be positive")
		slog.Error("failed to insert user package", "method", "Insert", "credits", up.CreditsRemaining, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.String("user_id", up.UserID),
		attribute.String("package_id", up.PackageID),
		attribute.Int64("payment_id", up.PaymentID),
	)

	query := `INSERT INTO user_packages (user_id, package_id, payment_id, token, credits_remaining, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query,
		up.UserID, up.PackageID, up.PaymentID, up.Token, up.CreditsRemaining, up.ExpiresAt,
	).Scan(&up.ID, &up.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Concurrent issuance lost the unique payment_id race. The caller
			// treats this as success by loading the winner's row.
			err = pkgerrors.ErrDuplicateIssuance
			slog.Warn("duplicate issuance attempt", "method", "Insert", "payment_id", up.PaymentID)
			return err
		}
		slog.Error("failed to insert user package", "method", "Insert", "payment_id", up.PaymentID, "error", err)
		return fmt.Errorf("failed to insert user package: %w", err)
	}

	slog.Info("user package inserted", "method", "Insert", "id", up.ID, "payment_id", up.PaymentID, "credits", up.CreditsRemaining)
	return nil
}

func (r *PostgresUserPackageRepository) GetByID(ctx context.Context, id int64) (*models.UserPackage, error) {
	query := `SELECT ` + userPackageColumns + ` FROM user_packages WHERE id = $1`
	up, err := scanUserPackage(r.db.QueryRowContext(ctx, query, id))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserPackageNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user package: %w", err)
	}
	return up, nil
}

func (r *PostgresUserPackageRepository) GetByPaymentID(ctx context.Context, paymentID int64) (*models.UserPackage, error) {
	query := `SELECT ` + userPackageColumns + ` FROM user_packages WHERE payment_id = $1`
	up, err := scanUserPackage(r.db.QueryRowContext(ctx, query, paymentID))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserPackageNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user package by payment: %w", err)
	}
	return up, nil
}

func (r *PostgresUserPackageRepository) GetByToken(ctx context.Context, token string) (*models.UserPackage, error) {
	if token == "" {
		return nil, pkgerrors.ErrUnknownToken
	}

	query := `SELECT ` + userPackageColumns + ` FROM user_packages WHERE token = $1`
	up, err := scanUserPackage(r.db.QueryRowContext(ctx, query, token))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUnknownToken
	case err != nil:
		return nil, fmt.Errorf("failed to get user package by token: %w", err)
	}
	return up, nil
}

func (r *PostgresUserPackageRepository) ListByUser(ctx context.Context, userID string) ([]models.UserPackage, error) {
	query := `SELECT ` + userPackageColumns + ` FROM user_packages WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user packages: %w", err)
	}
	defer rows.Close()

	var packages []models.UserPackage
	for rows.Next() {
		up, err := scanUserPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user package: %w", err)
		}
		packages = append(packages, *up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list user packages: %w", err)
	}
	return packages, nil
}

// RedeemCredit performs the decrement-and-append step. The UPDATE carries the
// full precondition (credits_remaining > 0 AND expires_at > NOW()), so two
// scans racing for the last credit can never both match; the Wash insert
// rides in the same transaction and is rolled back if anything fails.
func (r *PostgresUserPackageRepository) RedeemCredit(ctx context.Context, userPackageID int64, locationID string) (int32, error) {
	var err error
	tracer := otel.Tracer("userpackage-repository")
	ctx, span := tracer.Start(ctx, "RedeemCredit")
	span.SetAttributes(
		attribute.Int64("user_package_id", userPackageID),
		attribute.String("location_id", locationID),
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
		observability.RepositoryCalls.WithLabelValues("RedeemCredit", status).Inc()
		observability.RepositoryDuration.WithLabelValues("RedeemCredit").Observe(time.Since(start).Seconds())
	}()

	if locationID == "" {
		err = fmt.Errorf("location id is required")
		slog.Error("failed to redeem credit", "method", "RedeemCredit", "error", err)
		return 0, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "RedeemCredit", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var remaining int32
	updateQuery := `UPDATE user_packages
		SET credits_remaining = credits_remaining - 1
		WHERE id = $1 AND credits_remaining > 0 AND expires_at > NOW()
		RETURNING credits_remaining`
	scanErr := dbTx.QueryRowContext(ctx, updateQuery, userPackageID).Scan(&remaining)
	if stderrors.Is(scanErr, sql.ErrNoRows) {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "RedeemCredit", "error", rbErr)
		}
		err = r.classifyRejection(ctx, userPackageID)
		return 0, err
	}
	if scanErr != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, scanErr)
			slog.Error("rollback failed", "method", "RedeemCredit", "error", rbErr)
			return 0, err
		}
		err = fmt.Errorf("failed to decrement credits: %w", scanErr)
		slog.Error("failed to decrement credits", "method", "RedeemCredit", "user_package_id", userPackageID, "error", scanErr)
		return 0, err
	}

	insertQuery := `INSERT INTO washes (user_package_id, location_id, credits) VALUES ($1, $2, 1)`
	if _, execErr := dbTx.ExecContext(ctx, insertQuery, userPackageID, locationID); execErr != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, execErr)
			slog.Error("rollback failed", "method", "RedeemCredit", "error", rbErr)
			return 0, err
		}
		err = fmt.Errorf("failed to record wash: %w", execErr)
		slog.Error("failed to record wash", "method", "RedeemCredit", "user_package_id", userPackageID, "error", execErr)
		return 0, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "RedeemCredit", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("credit redeemed", "method", "RedeemCredit", "user_package_id", userPackageID, "location_id", locationID, "remaining", remaining)
	return remaining, nil
}

// classifyRejection explains why the conditional update matched nothing. A
// read after the fact is safe here: nothing was mutated.
func (r *PostgresUserPackageRepository) classifyRejection(ctx context.Context, userPackageID int64) error {
	var credits int32
	var expiresAt time.Time
	query := `SELECT credits_remaining, expires_at FROM user_packages WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, userPackageID).Scan(&credits, &expiresAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return pkgerrors.ErrUserPackageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect user package: %w", err)
	}
	if credits <= 0 {
		return pkgerrors.ErrPackageExhausted
	}
	return pkgerrors.ErrPackageExpired
}
