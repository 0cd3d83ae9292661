package repository

import (
	"context"

	"github.com/paypass/wash-service/internal/models"
)

type UserPackageRepository interface {
	// Insert persists a freshly minted user package. The payment_id column is
	// unique; a concurrent duplicate insert returns ErrDuplicateIssuance.
	Insert(ctx context.Context, up *models.UserPackage) error
	GetByID(ctx context.Context, id int64) (*models.UserPackage, error)
	GetByPaymentID(ctx context.Context, paymentID int64) (*models.UserPackage, error)
	GetByToken(ctx context.Context, token string) (*models.UserPackage, error)
	ListByUser(ctx context.Context, userID string) ([]models.UserPackage, error)
	// RedeemCredit decrements one credit and appends the Wash audit row in a
	// single storage transaction, conditioned on credits_remaining > 0 and the
	// package not being expired. Returns the post-decrement count, or
	// ErrPackageExhausted / ErrPackageExpired when the precondition fails.
	RedeemCredit(ctx context.Context, userPackageID int64, locationID string) (remaining int32, err error)
}
