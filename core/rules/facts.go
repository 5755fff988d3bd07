// Package rules implements the pricing rule interpreter: condition
// evaluation over request facts, action application over a PriceState and
// load-time compilation of raw block definitions into validated rules.
package rules

import (
	"strings"

	"github.com/shopspring/decimal"

	"bundle-pricing/core/types"
)

// FactSet is the view of a request that conditions are evaluated against.
type FactSet struct {
	request  types.RequestFacts
	baseCost *decimal.Decimal
}

// NewFactSet creates a fact set. baseCost may be nil when the catalog has
// not been consulted yet.
func NewFactSet(request types.RequestFacts, baseCost *decimal.Decimal) FactSet {
	return FactSet{request: request, baseCost: baseCost}
}

// Request returns the underlying request facts
func (s FactSet) Request() types.RequestFacts {
	return s.request
}

// UnusedDays returns the unused-day count carried by the request
func (s FactSet) UnusedDays() int {
	return s.request.UnusedDays
}

// Lookup resolves a fact by field name. The second result reports presence:
// string facts are present when non-empty, list facts when non-empty, and
// numeric request facts are always present.
func (s FactSet) Lookup(field string) (interface{}, bool) {
	r := s.request
	switch normalizeField(field) {
	case "bundleid":
		return r.BundleID, r.BundleID != ""
	case "validitydays", "duration":
		return r.ValidityDays, true
	case "countries":
		countries := r.SortedCountries()
		return countries, len(countries) > 0
	case "country":
		c := r.PrimaryCountry()
		return c, c != ""
	case "region":
		return r.Region, r.Region != ""
	case "paymentmethod":
		return r.PaymentMethod, r.PaymentMethod != ""
	case "group":
		return r.Group, r.Group != ""
	case "promocode", "promo":
		return r.PromoCode, r.PromoCode != ""
	case "userid":
		return r.UserID, r.UserID != ""
	case "useremail":
		return r.UserEmail, r.UserEmail != ""
	case "unuseddays":
		return r.UnusedDays, true
	case "basecost", "cost":
		if s.baseCost == nil {
			return nil, false
		}
		return *s.baseCost, true
	}
	return nil, false
}

// KnownField reports whether a field name can be resolved by Lookup
func KnownField(field string) bool {
	switch normalizeField(field) {
	case "bundleid", "validitydays", "duration", "countries", "country", "region",
		"paymentmethod", "group", "promocode", "promo", "userid", "useremail",
		"unuseddays", "basecost", "cost":
		return true
	}
	return false
}

func normalizeField(field string) string {
	f := strings.ToLower(strings.TrimSpace(field))
	return strings.ReplaceAll(f, "_", "")
}
