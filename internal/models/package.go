package models

import "time"

// CarSize is the pricing tier a package is bought for.
type CarSize string

const (
	SizeSmall  CarSize = "small"
	SizeMedium CarSize = "medium"
	SizeLarge  CarSize = "large"
)

func (s CarSize) Valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// PackageDefinition is catalog reference data. It is never mutated by this
// service; administrative updates happen elsewhere.
type PackageDefinition struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Washes       int32     `json:"washes"`
	DurationDays int32     `json:"duration_days"`
	Active       bool      `json:"active"`
	// Price per car size, in the gateway currency.
	Pricing   map[CarSize]float64 `json:"pricing"`
	CreatedAt time.Time           `json:"created_at"`
}

// PriceFor resolves the price for a car size tier. Returns false when the
// package carries no price for that tier.
func (p *PackageDefinition) PriceFor(size CarSize) (float64, bool) {
	price, ok := p.Pricing[size]
	return price, ok
}
