package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bundle-pricing/core/types"
)

var (
	hundred = decimal.NewFromInt(100)
	cent    = decimal.New(1, -2)
)

// ErrUnknownAction is returned by ApplyAction for inert action types
var ErrUnknownAction = errors.New("unknown action type")

// Outcome describes side information produced by applying one action
type Outcome struct {
	// Metadata is attached to the resulting PricingStep
	Metadata map[string]interface{}
}

// ApplyAction applies one action to a state and returns the settled result.
// The input state is not modified.
func ApplyAction(action types.RuleAction, state types.PriceState, facts FactSet) (types.PriceState, Outcome, error) {
	next := state
	out := Outcome{Metadata: map[string]interface{}{}}

	switch a := action.(type) {
	case types.AddMarkup:
		next.Markup = next.Markup.Add(a.Amount)

	case types.DiscountPercentage:
		// percentage forms compute against the current selling price
		selling := next.Cost.Add(next.Markup)
		amount := selling.Mul(a.Percent).Div(hundred)
		next.DiscountRate = next.DiscountRate.Add(a.Percent.Div(hundred))
		next.DiscountValue = next.DiscountValue.Add(amount)
		out.Metadata["discountAmount"] = amount.String()

	case types.FixedDiscount:
		next.DiscountValue = next.DiscountValue.Add(a.Amount)

	case types.DiscountPerUnusedDay:
		days := decimal.NewFromInt(int64(facts.UnusedDays()))
		amount := a.PerDay.Mul(days)
		next.DiscountValue = next.DiscountValue.Add(amount)
		out.Metadata["unusedDays"] = facts.UnusedDays()
		out.Metadata["discountAmount"] = amount.String()

	case types.MinimumPrice:
		if a.Floor.GreaterThan(next.MinimumPrice) {
			next.MinimumPrice = a.Floor
		}
		next = Settle(next)
		out.Metadata["floor"] = a.Floor.String()
		recordClamp(out, state, next)
		return next, out, nil

	case types.MinimumProfit:
		next.HasMinimumProfit = true
		if a.Margin.GreaterThan(next.MinimumProfit) {
			next.MinimumProfit = a.Margin
		}
		next = Settle(next)
		out.Metadata["floor"] = next.Cost.Add(next.MinimumProfit).String()
		recordClamp(out, state, next)
		return next, out, nil

	case types.ProcessingRate:
		next.ProcessingRate = a.Percent.Div(hundred)

	case types.UnknownAction:
		return state, out, fmt.Errorf("%w: %s", ErrUnknownAction, a.RawType)

	default:
		return state, out, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}

	return Settle(next), out, nil
}

// recordClamp notes on the step whether a floor raised the price
func recordClamp(out Outcome, before, after types.PriceState) {
	clamped := after.PriceAfterDiscount.GreaterThan(before.PriceAfterDiscount)
	out.Metadata["clamped"] = clamped
	if clamped {
		out.Metadata["raisedFrom"] = before.PriceAfterDiscount.String()
	}
}

// Settle recomputes every derived field of a state from its accumulated
// inputs. The formula is fixed:
//
//	sellingPrice       = cost + markup
//	priceAfterDiscount = max(0, sellingPrice - discountValue), raised to the
//	                     minimum price and then to cost + minimum profit
//	finalPrice         = priceAfterDiscount + roundingAdjustment
//	processingCost     = finalPrice * processingRate
//	finalRevenue       = finalPrice - processingCost
//	netProfit          = finalRevenue - cost
func Settle(s types.PriceState) types.PriceState {
	s.SellingPrice = s.Cost.Add(s.Markup)

	price := unclampedPrice(s)
	binding := false
	if s.MinimumPrice.IsPositive() && price.LessThan(s.MinimumPrice) {
		price = s.MinimumPrice
		binding = true
	}
	if s.HasMinimumProfit {
		floor := s.Cost.Add(s.MinimumProfit)
		if price.LessThan(floor) {
			price = floor
			binding = true
		}
	}
	s.PriceAfterDiscount = price
	s.ConstraintBinding = binding

	s.FinalPrice = price.Add(s.RoundingAdjustment)
	s.ProcessingCost = s.FinalPrice.Mul(s.ProcessingRate)
	s.FinalRevenue = s.FinalPrice.Sub(s.ProcessingCost)
	s.NetProfit = s.FinalRevenue.Sub(s.Cost)
	return s
}

// unclampedPrice is selling price minus discounts, never below zero
func unclampedPrice(s types.PriceState) decimal.Decimal {
	p := s.Cost.Add(s.Markup).Sub(s.DiscountValue)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// RoundingResult reports what psychological rounding did
type RoundingResult struct {
	Applied    bool
	SkipReason string
}

// RoundToNinetyNine moves the final price to the nearest x.99. Rounding
// is skipped when it would break an active floor.
func RoundToNinetyNine(s types.PriceState) (types.PriceState, RoundingResult) {
	price := s.PriceAfterDiscount
	target := price.Round(0).Sub(cent)
	if !target.IsPositive() {
		return s, RoundingResult{SkipReason: "non_positive_target"}
	}
	if target.Equal(price) {
		return s, RoundingResult{SkipReason: "already_rounded"}
	}
	if s.HasMinimumProfit && target.LessThan(s.Cost.Add(s.MinimumProfit)) {
		return s, RoundingResult{SkipReason: "minimum_profit_floor"}
	}
	if s.MinimumPrice.IsPositive() && target.LessThan(s.MinimumPrice) {
		return s, RoundingResult{SkipReason: "minimum_price_floor"}
	}
	s.RoundingAdjustment = target.Sub(price)
	return Settle(s), RoundingResult{Applied: true}
}
