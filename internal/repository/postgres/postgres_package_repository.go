package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paypass/wash-service/internal/models"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
)

type PostgresPackageRepository struct {
	db *sql.DB
}

func NewPostgresPackageRepository(db *sql.DB) *PostgresPackageRepository {
	return &PostgresPackageRepository{db: db}
}

const packageColumns = `id, name, description, washes, duration_days, active, price_small, price_medium, price_large, created_at`

func scanPackage(row interface {
	Scan(dest ...interface{}) error
}) (*models.PackageDefinition, error) {
	var p models.PackageDefinition
	var small, medium, large float64
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Washes,
		&p.DurationDays,
		&p.Active,
		&small,
		&medium,
		&large,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Pricing = map[models.CarSize]float64{
		models.SizeSmall:  small,
		models.SizeMedium: medium,
		models.SizeLarge:  large,
	}
	return &p, nil
}

func (r *PostgresPackageRepository) GetByID(ctx context.Context, id string) (*models.PackageDefinition, error) {
	if id == "" {
		return nil, fmt.Errorf("package id cannot be empty")
	}

	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1`
	p, err := scanPackage(r.db.QueryRowContext(ctx, query, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrPackageNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return p, nil
}

func (r *PostgresPackageRepository) ListActive(ctx context.Context) ([]models.PackageDefinition, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE active = true ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var packages []models.PackageDefinition
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	return packages, nil
}
