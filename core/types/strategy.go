// Package types - Strategy and rule definitions
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operator is a condition operator
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpBetween     Operator = "BETWEEN"
	OpIn          Operator = "IN"
	OpNotIn       Operator = "NOT_IN"
	OpExists      Operator = "EXISTS"
	OpNotExists   Operator = "NOT_EXISTS"
)

// IsValid reports whether the operator is one of the known operators
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpBetween,
		OpIn, OpNotIn, OpExists, OpNotExists:
		return true
	}
	return false
}

// ActionType identifies a price transformation
type ActionType string

const (
	ActionAddMarkup            ActionType = "ADD_MARKUP"
	ActionDiscountPercentage   ActionType = "APPLY_DISCOUNT_PERCENTAGE"
	ActionFixedDiscount        ActionType = "APPLY_FIXED_DISCOUNT"
	ActionDiscountPerUnusedDay ActionType = "SET_DISCOUNT_PER_UNUSED_DAY"
	ActionMinimumPrice         ActionType = "SET_MINIMUM_PRICE"
	ActionMinimumProfit        ActionType = "SET_MINIMUM_PROFIT"
	ActionProcessingRate       ActionType = "SET_PROCESSING_RATE"
)

// Phase is the fixed position of an action kind in the pricing formula.
// Lower phases always run before higher ones.
type Phase int

const (
	PhaseMarkup Phase = iota + 1
	PhaseDiscount
	PhaseMinimumPrice
	PhaseMinimumProfit
	PhaseProcessing
	PhaseUnknown
)

// Phase returns the formula phase for the action type
func (t ActionType) Phase() Phase {
	switch t {
	case ActionAddMarkup:
		return PhaseMarkup
	case ActionDiscountPercentage, ActionFixedDiscount, ActionDiscountPerUnusedDay:
		return PhaseDiscount
	case ActionMinimumPrice:
		return PhaseMinimumPrice
	case ActionMinimumProfit:
		return PhaseMinimumProfit
	case ActionProcessingRate:
		return PhaseProcessing
	}
	return PhaseUnknown
}

// Category groups blocks for authoring and cache invalidation
type Category string

const (
	CategoryMarkup           Category = "MARKUP"
	CategoryDiscount         Category = "DISCOUNT"
	CategoryConstraint       Category = "CONSTRAINT"
	CategoryProcessingFee    Category = "PROCESSING_FEE"
	CategoryBundleAdjustment Category = "BUNDLE_ADJUSTMENT"
	CategoryRegionAdjustment Category = "REGION_ADJUSTMENT"
	CategoryPromotion        Category = "PROMOTION"
	CategoryUserSegment      Category = "USER_SEGMENT"
)

// RuleCondition is a single predicate over request facts
type RuleCondition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// RuleAction is a closed union of price transformations.
// Only the variants declared in this package implement it.
type RuleAction interface {
	Type() ActionType
	Meta() map[string]interface{}
	sealed()
}

// ActionMeta carries authoring metadata shared by all action variants
type ActionMeta struct {
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Meta returns the action metadata
func (m ActionMeta) Meta() map[string]interface{} { return m.Metadata }

func (ActionMeta) sealed() {}

// AddMarkup adds a fixed amount on top of cost
type AddMarkup struct {
	ActionMeta
	Amount decimal.Decimal
}

// DiscountPercentage discounts a percentage of the selling price
type DiscountPercentage struct {
	ActionMeta
	Percent decimal.Decimal
}

// FixedDiscount discounts a fixed amount
type FixedDiscount struct {
	ActionMeta
	Amount decimal.Decimal
}

// DiscountPerUnusedDay discounts PerDay for every unused day
type DiscountPerUnusedDay struct {
	ActionMeta
	PerDay decimal.Decimal
}

// MinimumPrice sets a floor for the customer price
type MinimumPrice struct {
	ActionMeta
	Floor decimal.Decimal
}

// MinimumProfit keeps at least Margin above cost
type MinimumProfit struct {
	ActionMeta
	Margin decimal.Decimal
}

// ProcessingRate sets the payment processing rate in percent
type ProcessingRate struct {
	ActionMeta
	Percent decimal.Decimal
}

// UnknownAction is an action type this engine does not implement.
// It is inert unless the caller asks for strict mode.
type UnknownAction struct {
	ActionMeta
	RawType string
}

func (AddMarkup) Type() ActionType            { return ActionAddMarkup }
func (DiscountPercentage) Type() ActionType   { return ActionDiscountPercentage }
func (FixedDiscount) Type() ActionType        { return ActionFixedDiscount }
func (DiscountPerUnusedDay) Type() ActionType { return ActionDiscountPerUnusedDay }
func (MinimumPrice) Type() ActionType         { return ActionMinimumPrice }
func (MinimumProfit) Type() ActionType        { return ActionMinimumProfit }
func (ProcessingRate) Type() ActionType       { return ActionProcessingRate }
func (a UnknownAction) Type() ActionType      { return ActionType(a.RawType) }

// PricingBlock is a reusable, validated rule definition
type PricingBlock struct {
	ID         string
	Name       string
	Category   Category
	Conditions []RuleCondition
	Action     RuleAction
	Priority   int
	IsActive   bool
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// ActiveAt reports whether the block's validity window contains t
func (b *PricingBlock) ActiveAt(t time.Time) bool {
	if b.ValidFrom != nil && t.Before(*b.ValidFrom) {
		return false
	}
	if b.ValidUntil != nil && t.After(*b.ValidUntil) {
		return false
	}
	return true
}

// StrategyBlock binds a PricingBlock into a strategy
type StrategyBlock struct {
	Priority        int
	IsEnabled       bool
	ConfigOverrides map[string]interface{}
	Block           PricingBlock
}

// PricingStrategy is a named, versioned ordered rule set.
// Strategies are immutable snapshots once loaded.
type PricingStrategy struct {
	ID        string
	Code      string
	Name      string
	IsDefault bool
	Version   int
	Blocks    []StrategyBlock
}

// StrategyDefinition is the raw, unvalidated form of a strategy as read
// from a file or database row.
type StrategyDefinition struct {
	ID        string                    `json:"id"`
	Code      string                    `json:"code"`
	Name      string                    `json:"name"`
	IsDefault bool                      `json:"isDefault"`
	Version   int                       `json:"version"`
	Blocks    []StrategyBlockDefinition `json:"blocks"`
}

// StrategyBlockDefinition is the raw binding of a block into a strategy
type StrategyBlockDefinition struct {
	Priority        int                    `json:"priority"`
	IsEnabled       bool                   `json:"isEnabled"`
	ConfigOverrides map[string]interface{} `json:"configOverrides,omitempty"`
	Block           BlockDefinition        `json:"pricingBlock"`
}

// BlockDefinition is the raw form of a PricingBlock
type BlockDefinition struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Category   string           `json:"category"`
	Conditions []RuleCondition  `json:"conditions"`
	Action     ActionDefinition `json:"action"`
	Priority   int              `json:"priority"`
	IsActive   bool             `json:"isActive"`
	ValidFrom  *time.Time       `json:"validFrom,omitempty"`
	ValidUntil *time.Time       `json:"validUntil,omitempty"`
}

// ActionDefinition is the raw form of a RuleAction
type ActionDefinition struct {
	Type     string                 `json:"type"`
	Value    interface{}            `json:"value"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
