package rules

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

// CompileStrategy validates a raw strategy definition and turns it into an
// immutable snapshot. All problems are reported together.
func CompileStrategy(def types.StrategyDefinition) (*types.PricingStrategy, error) {
	var problems []error

	if strings.TrimSpace(def.ID) == "" {
		problems = append(problems, fmt.Errorf("strategy id is required"))
	}

	strategy := &types.PricingStrategy{
		ID:        def.ID,
		Code:      def.Code,
		Name:      def.Name,
		IsDefault: def.IsDefault,
		Version:   def.Version,
		Blocks:    make([]types.StrategyBlock, 0, len(def.Blocks)),
	}
	if strategy.Code == "" {
		strategy.Code = def.ID
	}

	seen := make(map[string]bool, len(def.Blocks))
	for i, sb := range def.Blocks {
		block, err := CompileBlock(sb.Block, sb.ConfigOverrides)
		if err != nil {
			problems = append(problems, fmt.Errorf("block[%d] %q: %w", i, sb.Block.ID, err))
			continue
		}
		if seen[block.ID] {
			problems = append(problems, fmt.Errorf("block[%d]: duplicate block id %q", i, block.ID))
			continue
		}
		seen[block.ID] = true

		strategy.Blocks = append(strategy.Blocks, types.StrategyBlock{
			Priority:        sb.Priority,
			IsEnabled:       sb.IsEnabled,
			ConfigOverrides: copyMap(sb.ConfigOverrides),
			Block:           *block,
		})
	}

	if len(problems) > 0 {
		return nil, errors.Strategy(
			fmt.Sprintf("strategy %q failed validation", def.ID),
			stderrors.Join(problems...),
		).WithContext("problems", len(problems))
	}
	return strategy, nil
}

// CompileBlock validates a raw block and merges per-strategy overrides
// into its action parameters.
func CompileBlock(def types.BlockDefinition, overrides map[string]interface{}) (*types.PricingBlock, error) {
	if strings.TrimSpace(def.ID) == "" {
		return nil, fmt.Errorf("block id is required")
	}
	if def.ValidFrom != nil && def.ValidUntil != nil && def.ValidUntil.Before(*def.ValidFrom) {
		return nil, fmt.Errorf("validUntil %s is before validFrom %s",
			def.ValidUntil.Format("2006-01-02T15:04:05Z07:00"),
			def.ValidFrom.Format("2006-01-02T15:04:05Z07:00"))
	}

	conditions := make([]types.RuleCondition, 0, len(def.Conditions))
	for i, c := range def.Conditions {
		if err := ValidateCondition(c); err != nil {
			return nil, fmt.Errorf("condition[%d]: %w", i, err)
		}
		c.Operator = types.Operator(strings.ToUpper(string(c.Operator)))
		conditions = append(conditions, c)
	}

	action, err := CompileAction(def.Action, overrides)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}

	name := def.Name
	if name == "" {
		name = def.ID
	}

	return &types.PricingBlock{
		ID:         def.ID,
		Name:       name,
		Category:   types.Category(strings.ToUpper(def.Category)),
		Conditions: conditions,
		Action:     action,
		Priority:   def.Priority,
		IsActive:   def.IsActive,
		ValidFrom:  def.ValidFrom,
		ValidUntil: def.ValidUntil,
	}, nil
}

// ValidateCondition checks a condition's shape against its operator
func ValidateCondition(c types.RuleCondition) error {
	op := types.Operator(strings.ToUpper(string(c.Operator)))
	if !op.IsValid() {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if !KnownField(c.Field) {
		return fmt.Errorf("unknown field %q", c.Field)
	}

	switch op {
	case types.OpExists, types.OpNotExists:
		return nil
	case types.OpEquals, types.OpNotEquals:
		if c.Value == nil {
			return fmt.Errorf("%s requires a value", op)
		}
	case types.OpGreaterThan, types.OpLessThan:
		if _, ok := toDecimal(c.Value); !ok {
			return fmt.Errorf("%s requires a numeric value, got %v", op, c.Value)
		}
	case types.OpBetween:
		bounds, ok := toList(c.Value)
		if !ok || len(bounds) != 2 {
			return fmt.Errorf("BETWEEN requires [min, max], got %v", c.Value)
		}
		lo, okLo := toDecimal(bounds[0])
		hi, okHi := toDecimal(bounds[1])
		if !okLo || !okHi {
			return fmt.Errorf("BETWEEN bounds must be numeric, got %v", c.Value)
		}
		if lo.GreaterThan(hi) {
			return fmt.Errorf("BETWEEN min %s is greater than max %s", lo, hi)
		}
	case types.OpIn, types.OpNotIn:
		if _, ok := toList(c.Value); !ok {
			return fmt.Errorf("%s requires a list value, got %v", op, c.Value)
		}
	}
	return nil
}

// CompileAction builds the typed action variant. Overrides replace "value"
// and are merged into metadata for every other key. Unknown action types
// compile to an inert UnknownAction.
func CompileAction(def types.ActionDefinition, overrides map[string]interface{}) (types.RuleAction, error) {
	actionType := types.ActionType(strings.ToUpper(strings.TrimSpace(def.Type)))
	if actionType == "" {
		return nil, fmt.Errorf("action type is required")
	}

	value := def.Value
	meta := copyMap(def.Metadata)
	for k, v := range overrides {
		if k == "value" {
			value = v
			continue
		}
		if meta == nil {
			meta = make(map[string]interface{})
		}
		meta[k] = v
	}
	base := types.ActionMeta{Metadata: meta}

	if actionType.Phase() == types.PhaseUnknown {
		return types.UnknownAction{ActionMeta: base, RawType: string(actionType)}, nil
	}

	amount, ok := toDecimal(value)
	if !ok {
		return nil, fmt.Errorf("%s requires a numeric value, got %v", actionType, value)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%s value must not be negative, got %s", actionType, amount)
	}

	switch actionType {
	case types.ActionAddMarkup:
		return types.AddMarkup{ActionMeta: base, Amount: amount}, nil
	case types.ActionDiscountPercentage:
		if err := percentInRange(actionType, amount); err != nil {
			return nil, err
		}
		return types.DiscountPercentage{ActionMeta: base, Percent: amount}, nil
	case types.ActionFixedDiscount:
		return types.FixedDiscount{ActionMeta: base, Amount: amount}, nil
	case types.ActionDiscountPerUnusedDay:
		return types.DiscountPerUnusedDay{ActionMeta: base, PerDay: amount}, nil
	case types.ActionMinimumPrice:
		return types.MinimumPrice{ActionMeta: base, Floor: amount}, nil
	case types.ActionMinimumProfit:
		return types.MinimumProfit{ActionMeta: base, Margin: amount}, nil
	case types.ActionProcessingRate:
		if err := percentInRange(actionType, amount); err != nil {
			return nil, err
		}
		return types.ProcessingRate{ActionMeta: base, Percent: amount}, nil
	}
	return nil, fmt.Errorf("unhandled action type %s", actionType)
}

func percentInRange(t types.ActionType, v decimal.Decimal) error {
	if v.GreaterThan(hundred) {
		return fmt.Errorf("%s percentage must be within [0, 100], got %s", t, v)
	}
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
