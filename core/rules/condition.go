package rules

import (
	"go.uber.org/zap"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/logging"
)

// EvaluateCondition evaluates a single condition against the facts.
// It never fails: a malformed condition is logged and evaluates to false.
func EvaluateCondition(cond types.RuleCondition, facts FactSet) bool {
	result, ok := evaluate(cond, facts)
	if !ok {
		logging.Warn("malformed condition treated as false",
			zap.String("field", cond.Field),
			zap.String("operator", string(cond.Operator)),
			zap.Any("value", cond.Value),
		)
		return false
	}
	return result
}

// EvaluateAll reports whether every condition holds. An empty list is
// unconditionally true.
func EvaluateAll(conds []types.RuleCondition, facts FactSet) bool {
	for _, c := range conds {
		if !EvaluateCondition(c, facts) {
			return false
		}
	}
	return true
}

// evaluate returns (result, wellFormed)
func evaluate(cond types.RuleCondition, facts FactSet) (bool, bool) {
	actual, present := facts.Lookup(cond.Field)

	switch cond.Operator {
	case types.OpExists:
		return present, true
	case types.OpNotExists:
		return !present, true
	}

	if !KnownField(cond.Field) {
		return false, false
	}

	switch cond.Operator {
	case types.OpEquals:
		if !present {
			return false, true
		}
		return equals(actual, cond.Value), true

	case types.OpNotEquals:
		if !present {
			return true, true
		}
		return !equals(actual, cond.Value), true

	case types.OpGreaterThan, types.OpLessThan:
		a, okA := toDecimal(actual)
		b, okB := toDecimal(cond.Value)
		if !present || !okA || !okB {
			// non-numeric operands are a well-formed false
			return false, true
		}
		if cond.Operator == types.OpGreaterThan {
			return a.GreaterThan(b), true
		}
		return a.LessThan(b), true

	case types.OpBetween:
		bounds, ok := toList(cond.Value)
		if !ok || len(bounds) != 2 {
			return false, false
		}
		lo, okLo := toDecimal(bounds[0])
		hi, okHi := toDecimal(bounds[1])
		if !okLo || !okHi {
			return false, false
		}
		a, okA := toDecimal(actual)
		if !present || !okA {
			return false, true
		}
		return a.GreaterThanOrEqual(lo) && a.LessThanOrEqual(hi), true

	case types.OpIn, types.OpNotIn:
		set, ok := toList(cond.Value)
		if !ok {
			return false, false
		}
		member := present && intersects(actual, set)
		if cond.Operator == types.OpIn {
			return member, true
		}
		return !member, true
	}

	return false, false
}

// equals matches scalars directly and list facts by any member
func equals(actual, expected interface{}) bool {
	if list, ok := toList(actual); ok {
		for _, item := range list {
			if looselyEqual(item, expected) {
				return true
			}
		}
		return false
	}
	return looselyEqual(actual, expected)
}

func intersects(actual interface{}, set []interface{}) bool {
	values, ok := toList(actual)
	if !ok {
		values = []interface{}{actual}
	}
	for _, v := range values {
		for _, candidate := range set {
			if looselyEqual(v, candidate) {
				return true
			}
		}
	}
	return false
}
