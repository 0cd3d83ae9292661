package repository

import (
	"context"

	"github.com/paypass/wash-service/internal/models"
)

type WashRepository interface {
	ListByUserPackage(ctx context.Context, userPackageID int64) ([]models.Wash, error)
}
