// Package types defines core domain types shared across all layers.
// This package contains NO business logic beyond small accessors.
package types

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents a currency code
type Currency string

const (
	CurrencyUSD Currency = "USD"
)

// String returns the string representation
func (c Currency) String() string {
	return string(c)
}

// RequestFacts are the inputs of one pricing request.
// A RequestFacts value is never mutated once a calculation has started.
type RequestFacts struct {
	// BundleID identifies the requested data bundle
	BundleID string `json:"bundleId"`

	// ValidityDays is the requested duration in days
	ValidityDays int `json:"validityDays" validate:"gt=0"`

	// Countries lists ISO codes covered by the bundle
	Countries []string `json:"countries" validate:"omitempty,dive,len=2"`

	// Region is an optional region code (e.g. "europe")
	Region string `json:"region,omitempty"`

	// PaymentMethod is the payment method literal
	PaymentMethod string `json:"paymentMethod,omitempty"`

	// Group is the optional bundle group
	Group string `json:"group,omitempty"`

	// PromoCode is an optional promotion code
	PromoCode string `json:"promoCode,omitempty"`

	// UserID identifies the buyer when known
	UserID string `json:"userId,omitempty"`

	// UserEmail is the buyer email when known
	UserEmail string `json:"userEmail,omitempty" validate:"omitempty,email"`

	// UnusedDays is the number of bundle days the buyer will not use
	UnusedDays int `json:"unusedDays,omitempty" validate:"gte=0"`
}

// SortedCountries returns an upper-cased, sorted copy of the country list
func (f RequestFacts) SortedCountries() []string {
	out := make([]string, 0, len(f.Countries))
	for _, c := range f.Countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// PrimaryCountry is the first country in sorted order, or "" when none
func (f RequestFacts) PrimaryCountry() string {
	sorted := f.SortedCountries()
	if len(sorted) == 0 {
		return ""
	}
	return sorted[0]
}

// BundleInfo is the catalog view of a bundle used to seed PriceState.Cost
type BundleInfo struct {
	// BundleName is the display name
	BundleName string `json:"bundleName"`

	// Provider is the upstream data provider
	Provider string `json:"provider"`

	// BaseCost is what the bundle costs us
	BaseCost decimal.Decimal `json:"baseCost"`

	// ValidityDays is the bundle's own validity
	ValidityDays int `json:"validityDays"`
}
