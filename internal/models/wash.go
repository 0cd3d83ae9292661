package models

import "time"

// Wash is the append-only audit record of one redeemed credit. Rows are never
// updated or deleted.
type Wash struct {
	ID            int64     `json:"id"`
	UserPackageID int64     `json:"user_package_id"`
	LocationID    string    `json:"location_id"`
	Credits       int32     `json:"credits"` // always 1
	CreatedAt     time.Time `json:"created_at"`
}
