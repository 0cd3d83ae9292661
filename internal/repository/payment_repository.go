package repository

import (
	"context"

	"github.com/paypass/wash-service/internal/models"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByCheckoutID(ctx context.Context, checkoutID string) (*models.Payment, error)
	// TransitionFromPending atomically moves a pending payment into a terminal
	// state. Returns ErrPaymentTerminal when the payment exists but is no
	// longer pending, ErrPaymentNotFound when there is no such checkout id.
	TransitionFromPending(ctx context.Context, checkoutID string, to models.PaymentStatus, transactionID string) (*models.Payment, error)
	// RevertToPending is the compensation for a failed issuance: the payment
	// returns to pending so a redelivered callback can retry the whole step.
	RevertToPending(ctx context.Context, id int64) error
	ListByUser(ctx context.Context, userID string, status models.PaymentStatus, limit, offset int) ([]models.Payment, error)
}
