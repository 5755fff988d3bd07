// Package types - Pricing state and results
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceState is the running accumulator of a pipeline run.
// It is owned by exactly one calculation and never shared.
type PriceState struct {
	// Cost is the bundle base cost (fixed for the run)
	Cost decimal.Decimal `json:"cost"`

	// Markup is the accumulated markup
	Markup decimal.Decimal `json:"markup"`

	// SellingPrice is Cost + Markup
	SellingPrice decimal.Decimal `json:"sellingPrice"`

	// DiscountRate is the accumulated percentage discount as a fraction
	DiscountRate decimal.Decimal `json:"discountRate"`

	// DiscountValue is the accumulated discount amount
	DiscountValue decimal.Decimal `json:"discountValue"`

	// PriceAfterDiscount is the customer price after discounts and floors
	PriceAfterDiscount decimal.Decimal `json:"priceAfterDiscount"`

	// MinimumPrice is the active price floor (zero when unset)
	MinimumPrice decimal.Decimal `json:"minimumPrice"`

	// MinimumProfit is the active profit floor above cost (zero when unset)
	MinimumProfit decimal.Decimal `json:"minimumProfit"`

	// HasMinimumProfit is true once a minimum profit action ran
	HasMinimumProfit bool `json:"hasMinimumProfit"`

	// ProcessingRate is the payment processing rate as a fraction
	ProcessingRate decimal.Decimal `json:"processingRate"`

	// ProcessingCost is PriceAfterDiscount * ProcessingRate
	ProcessingCost decimal.Decimal `json:"processingCost"`

	// FinalRevenue is PriceAfterDiscount - ProcessingCost
	FinalRevenue decimal.Decimal `json:"finalRevenue"`

	// FinalPrice is what the customer pays
	FinalPrice decimal.Decimal `json:"finalPrice"`

	// NetProfit is FinalRevenue - Cost
	NetProfit decimal.Decimal `json:"netProfit"`

	// RoundingAdjustment is the amount added by psychological rounding
	RoundingAdjustment decimal.Decimal `json:"roundingAdjustment"`

	// ConstraintBinding is true when a floor raised the price
	ConstraintBinding bool `json:"constraintBinding"`
}

// NewPriceState seeds a state from a base cost
func NewPriceState(cost decimal.Decimal) PriceState {
	return PriceState{
		Cost:               cost,
		SellingPrice:       cost,
		PriceAfterDiscount: cost,
		FinalPrice:         cost,
		FinalRevenue:       cost,
	}
}

// StepStatus describes the outcome recorded in a step
type StepStatus string

const (
	StepApplied StepStatus = "APPLIED"
	StepFailed  StepStatus = "FAILED"
	StepRounded StepStatus = "ROUNDING"
)

// PricingStep is the audit record of one applied block.
// Steps are immutable once created.
type PricingStep struct {
	Name        string                 `json:"name"`
	Order       int                    `json:"order"`
	Status      StepStatus             `json:"status"`
	RuleID      string                 `json:"ruleId"`
	Category    Category               `json:"category,omitempty"`
	ActionType  ActionType             `json:"actionType,omitempty"`
	PriceBefore decimal.Decimal        `json:"priceBefore"`
	PriceAfter  decimal.Decimal        `json:"priceAfter"`
	Impact      decimal.Decimal        `json:"impact"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AppliedRule summarizes an applied block
type AppliedRule struct {
	RuleID     string          `json:"ruleId"`
	Name       string          `json:"name"`
	Category   Category        `json:"category"`
	ActionType ActionType      `json:"actionType"`
	Impact     decimal.Decimal `json:"impact"`
}

// SkipReason explains why a block did not apply
type SkipReason string

const (
	SkipDisabled      SkipReason = "DISABLED"
	SkipInactive      SkipReason = "INACTIVE"
	SkipOutsideWindow SkipReason = "OUTSIDE_VALIDITY_WINDOW"
	SkipConditions    SkipReason = "CONDITIONS_NOT_MET"
	SkipError         SkipReason = "ERROR"
	SkipUnknownAction SkipReason = "UNKNOWN_ACTION"
)

// SkippedRule records a block that was evaluated but not applied
type SkippedRule struct {
	RuleID string     `json:"ruleId"`
	Name   string     `json:"name"`
	Reason SkipReason `json:"reason"`
	Error  string     `json:"error,omitempty"`
}

// PricingBreakdown is the final, auditable result of a calculation
type PricingBreakdown struct {
	PriceState

	// Bundle context
	BundleID     string   `json:"bundleId"`
	BundleName   string   `json:"bundleName"`
	Provider     string   `json:"provider"`
	ValidityDays int      `json:"validityDays"`
	Countries    []string `json:"countries"`
	Region       string   `json:"region,omitempty"`
	Currency     Currency `json:"currency"`

	// Strategy used
	StrategyID      string `json:"strategyId"`
	StrategyVersion int    `json:"strategyVersion"`

	AppliedRules []AppliedRule          `json:"appliedRules"`
	SkippedRules []SkippedRule          `json:"skippedRules"`
	PricingSteps []PricingStep          `json:"pricingSteps"`
	Debug        map[string]interface{} `json:"debug,omitempty"`

	CalculatedAt time.Time `json:"calculatedAt"`
}

// StepEnvelope is one progress message of a streamed calculation.
// Exactly one envelope per calculation has IsComplete set.
type StepEnvelope struct {
	CorrelationID  string            `json:"correlationId"`
	Step           *PricingStep      `json:"step,omitempty"`
	IsComplete     bool              `json:"isComplete"`
	TotalSteps     int               `json:"totalSteps"`
	CompletedSteps int               `json:"completedSteps"`
	Error          string            `json:"error,omitempty"`
	FinalBreakdown *PricingBreakdown `json:"finalBreakdown,omitempty"`
}
