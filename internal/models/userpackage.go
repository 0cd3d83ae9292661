package models

import "time"

// UserPackageStatus is derived from credits and expiry at read time; it is
// never persisted, so it cannot drift from the source fields.
type UserPackageStatus string

const (
	PackageActive    UserPackageStatus = "active"
	PackageExhausted UserPackageStatus = "exhausted"
	PackageExpired   UserPackageStatus = "expired"
)

// UserPackage is the spend-down entitlement minted for exactly one completed
// Payment. CreditsRemaining only ever decreases, one credit per redemption.
type UserPackage struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	PackageID        string    `json:"package_id"`
	PaymentID        int64     `json:"payment_id"`
	Token            string    `json:"token"`
	CreditsRemaining int32     `json:"credits_remaining"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// StatusAt computes the derived status at a given time.
func (up *UserPackage) StatusAt(now time.Time) UserPackageStatus {
	if up.CreditsRemaining <= 0 {
		return PackageExhausted
	}
	if now.After(up.ExpiresAt) {
		return PackageExpired
	}
	return PackageActive
}
