package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"bundle-pricing/core/types"
)

func testFacts() FactSet {
	cost := decimal.RequireFromString("8.00")
	return NewFactSet(types.RequestFacts{
		BundleID:      "bundle-il-7",
		ValidityDays:  7,
		Countries:     []string{"us", "IL"},
		PaymentMethod: "ISRAELI_CARD",
		UserID:        "user-42",
		UnusedDays:    2,
	}, &cost)
}

func TestEvaluateCondition(t *testing.T) {
	facts := testFacts()

	tests := []struct {
		name string
		cond types.RuleCondition
		want bool
	}{
		{"equals string", types.RuleCondition{Field: "paymentMethod", Operator: types.OpEquals, Value: "ISRAELI_CARD"}, true},
		{"equals mismatch", types.RuleCondition{Field: "paymentMethod", Operator: types.OpEquals, Value: "FOREIGN_CARD"}, false},
		{"equals coerces number to string", types.RuleCondition{Field: "validityDays", Operator: types.OpEquals, Value: "7"}, true},
		{"equals numeric", types.RuleCondition{Field: "validityDays", Operator: types.OpEquals, Value: 7.0}, true},
		{"equals matches any country", types.RuleCondition{Field: "countries", Operator: types.OpEquals, Value: "US"}, true},
		{"not equals", types.RuleCondition{Field: "paymentMethod", Operator: types.OpNotEquals, Value: "FOREIGN_CARD"}, true},
		{"not equals missing field", types.RuleCondition{Field: "promoCode", Operator: types.OpNotEquals, Value: "SUMMER"}, true},
		{"greater than", types.RuleCondition{Field: "validityDays", Operator: types.OpGreaterThan, Value: 5}, true},
		{"greater than equal bound", types.RuleCondition{Field: "validityDays", Operator: types.OpGreaterThan, Value: 7}, false},
		{"less than", types.RuleCondition{Field: "baseCost", Operator: types.OpLessThan, Value: "10"}, true},
		{"greater than non numeric field", types.RuleCondition{Field: "paymentMethod", Operator: types.OpGreaterThan, Value: 1}, false},
		{"between inclusive low", types.RuleCondition{Field: "validityDays", Operator: types.OpBetween, Value: []interface{}{7, 30}}, true},
		{"between inclusive high", types.RuleCondition{Field: "validityDays", Operator: types.OpBetween, Value: []interface{}{1.0, 7.0}}, true},
		{"between outside", types.RuleCondition{Field: "validityDays", Operator: types.OpBetween, Value: []interface{}{10, 30}}, false},
		{"in", types.RuleCondition{Field: "country", Operator: types.OpIn, Value: []interface{}{"IL", "GR"}}, true},
		{"in list fact intersects", types.RuleCondition{Field: "countries", Operator: types.OpIn, Value: []string{"FR", "US"}}, true},
		{"not in", types.RuleCondition{Field: "paymentMethod", Operator: types.OpNotIn, Value: []string{"AMEX"}}, true},
		{"not in member", types.RuleCondition{Field: "countries", Operator: types.OpNotIn, Value: []string{"IL"}}, false},
		{"exists", types.RuleCondition{Field: "userId", Operator: types.OpExists}, true},
		{"exists ignores value", types.RuleCondition{Field: "userId", Operator: types.OpExists, Value: "other"}, true},
		{"exists absent", types.RuleCondition{Field: "promoCode", Operator: types.OpExists}, false},
		{"not exists", types.RuleCondition{Field: "region", Operator: types.OpNotExists}, true},
		{"snake case field", types.RuleCondition{Field: "payment_method", Operator: types.OpEquals, Value: "ISRAELI_CARD"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCondition(tt.cond, facts))
		})
	}
}

func TestEvaluateConditionMalformedIsFalse(t *testing.T) {
	facts := testFacts()

	malformed := []types.RuleCondition{
		{Field: "validityDays", Operator: "ROUGHLY", Value: 7},
		{Field: "validityDays", Operator: types.OpBetween, Value: 7},
		{Field: "validityDays", Operator: types.OpBetween, Value: []interface{}{"a", "b"}},
		{Field: "country", Operator: types.OpIn, Value: "IL"},
		{Field: "country", Operator: types.OpNotIn, Value: "IL"},
		{Field: "shoeSize", Operator: types.OpEquals, Value: 42},
	}

	for _, c := range malformed {
		assert.False(t, EvaluateCondition(c, facts), "%+v", c)
	}
}

func TestEvaluateAllEmptyIsEligible(t *testing.T) {
	assert.True(t, EvaluateAll(nil, testFacts()))
	assert.False(t, EvaluateAll([]types.RuleCondition{
		{Field: "userId", Operator: types.OpExists},
		{Field: "promoCode", Operator: types.OpExists},
	}, testFacts()))
}

func TestBaseCostAbsentWithoutCatalog(t *testing.T) {
	facts := NewFactSet(types.RequestFacts{ValidityDays: 3, Countries: []string{"IL"}}, nil)
	assert.False(t, EvaluateCondition(types.RuleCondition{Field: "baseCost", Operator: types.OpExists}, facts))
	assert.False(t, EvaluateCondition(types.RuleCondition{Field: "baseCost", Operator: types.OpGreaterThan, Value: 0}, facts))
}
