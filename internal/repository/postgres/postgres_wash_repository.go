package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paypass/wash-service/internal/models"
)

type PostgresWashRepository struct {
	db *sql.DB
}

func NewPostgresWashRepository(db *sql.DB) *PostgresWashRepository {
	return &PostgresWashRepository{db: db}
}

func (r *PostgresWashRepository) ListByUserPackage(ctx context.Context, userPackageID int64) ([]models.Wash, error) {
	query := `SELECT id, user_package_id, location_id, credits, created_at
		FROM washes WHERE user_package_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userPackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list washes: %w", err)
	}
	defer rows.Close()

	var washes []models.Wash
	for rows.Next() {
		var w models.Wash
		if err := rows.Scan(&w.ID, &w.UserPackageID, &w.LocationID, &w.Credits, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wash: %w", err)
		}
		washes = append(washes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list washes: %w", err)
	}
	return washes, nil
}
