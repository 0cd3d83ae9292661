package repository

import (
	"context"

	"github.com/paypass/wash-service/internal/models"
)

type PackageRepository interface {
	GetByID(ctx context.Context, id string) (*models.PackageDefinition, error)
	ListActive(ctx context.Context) ([]models.PackageDefinition, error)
}
