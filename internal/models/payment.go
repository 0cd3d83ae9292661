package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// PaymentMethod is a closed set; each method maps to a gateway entity id
// resolved once at gateway-client construction.
type PaymentMethod string

const (
	MethodCard     PaymentMethod = "CARD"
	MethodApplePay PaymentMethod = "APPLEPAY"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCard || m == MethodApplePay
}

// Payment tracks one checkout session with the external gateway. Exactly one
// Payment exists per checkout id; once terminal it is never mutated again.
type Payment struct {
	ID            int64         `json:"id"`
	UserID        string        `json:"user_id"`
	PackageID     string        `json:"package_id"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Method        PaymentMethod `json:"method"`
	CheckoutID    string        `json:"checkout_id"`
	MerchantTxID  string        `json:"merchant_tx_id"`
	TransactionID string        `json:"transaction_id,omitempty"` // gateway id, empty until terminal
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}
