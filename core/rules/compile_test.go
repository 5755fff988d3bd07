package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

func blockDef(id, actionType string, value interface{}) types.BlockDefinition {
	return types.BlockDefinition{
		ID:       id,
		Category: "markup",
		IsActive: true,
		Action:   types.ActionDefinition{Type: actionType, Value: value},
	}
}

func TestCompileAction(t *testing.T) {
	tests := []struct {
		name    string
		def     types.ActionDefinition
		want    types.ActionType
		wantErr bool
	}{
		{"markup", types.ActionDefinition{Type: "ADD_MARKUP", Value: 10}, types.ActionAddMarkup, false},
		{"lowercase type", types.ActionDefinition{Type: "apply_discount_percentage", Value: "10"}, types.ActionDiscountPercentage, false},
		{"processing", types.ActionDefinition{Type: "SET_PROCESSING_RATE", Value: 1.4}, types.ActionProcessingRate, false},
		{"unknown is inert", types.ActionDefinition{Type: "SET_LOYALTY_POINTS", Value: "x"}, types.ActionType("SET_LOYALTY_POINTS"), false},
		{"missing type", types.ActionDefinition{Value: 1}, "", true},
		{"non numeric", types.ActionDefinition{Type: "ADD_MARKUP", Value: "lots"}, "", true},
		{"negative", types.ActionDefinition{Type: "APPLY_FIXED_DISCOUNT", Value: -1}, "", true},
		{"percent over 100", types.ActionDefinition{Type: "APPLY_DISCOUNT_PERCENTAGE", Value: 120}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := CompileAction(tt.def, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, action.Type())
		})
	}
}

func TestCompileActionOverrides(t *testing.T) {
	action, err := CompileAction(
		types.ActionDefinition{Type: "ADD_MARKUP", Value: 10, Metadata: map[string]interface{}{"source": "catalog"}},
		map[string]interface{}{"value": "12.5", "campaign": "spring"},
	)
	require.NoError(t, err)

	markup, ok := action.(types.AddMarkup)
	require.True(t, ok)
	assert.True(t, markup.Amount.Equal(d("12.5")))
	assert.Equal(t, "catalog", markup.Meta()["source"])
	assert.Equal(t, "spring", markup.Meta()["campaign"])
}

func TestCompileBlock(t *testing.T) {
	def := blockDef("israeli-card-discount", "APPLY_DISCOUNT_PERCENTAGE", 10)
	def.Conditions = []types.RuleCondition{
		{Field: "paymentMethod", Operator: "equals", Value: "ISRAELI_CARD"},
	}

	block, err := CompileBlock(def, nil)
	require.NoError(t, err)
	assert.Equal(t, "israeli-card-discount", block.Name)
	assert.Equal(t, types.CategoryMarkup, block.Category)
	assert.Equal(t, types.OpEquals, block.Conditions[0].Operator)
}

func TestCompileBlockRejects(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(*types.BlockDefinition)
	}{
		{"missing id", func(b *types.BlockDefinition) { b.ID = "" }},
		{"inverted window", func(b *types.BlockDefinition) { b.ValidFrom, b.ValidUntil = &from, &until }},
		{"unknown operator", func(b *types.BlockDefinition) {
			b.Conditions = []types.RuleCondition{{Field: "group", Operator: "LIKE", Value: "vip"}}
		}},
		{"unknown field", func(b *types.BlockDefinition) {
			b.Conditions = []types.RuleCondition{{Field: "shoeSize", Operator: types.OpEquals, Value: 42}}
		}},
		{"between with one bound", func(b *types.BlockDefinition) {
			b.Conditions = []types.RuleCondition{{Field: "validityDays", Operator: types.OpBetween, Value: []interface{}{1}}}
		}},
		{"between inverted", func(b *types.BlockDefinition) {
			b.Conditions = []types.RuleCondition{{Field: "validityDays", Operator: types.OpBetween, Value: []interface{}{30, 1}}}
		}},
		{"in without list", func(b *types.BlockDefinition) {
			b.Conditions = []types.RuleCondition{{Field: "country", Operator: types.OpIn, Value: "IL"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := blockDef("b1", "ADD_MARKUP", 1)
			tt.mutate(&def)
			_, err := CompileBlock(def, nil)
			assert.Error(t, err)
		})
	}
}

func TestCompileStrategyReportsAllProblems(t *testing.T) {
	def := types.StrategyDefinition{
		ID: "default",
		Blocks: []types.StrategyBlockDefinition{
			{Priority: 100, IsEnabled: true, Block: blockDef("markup", "ADD_MARKUP", 10)},
			{Priority: 90, IsEnabled: true, Block: blockDef("markup", "ADD_MARKUP", 5)},
			{Priority: 80, IsEnabled: true, Block: blockDef("broken", "ADD_MARKUP", "x")},
		},
	}

	_, err := CompileStrategy(def)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeStrategy))
	assert.Contains(t, err.Error(), "duplicate block id")
	assert.Contains(t, err.Error(), "broken")
}

func TestCompileStrategy(t *testing.T) {
	def := types.StrategyDefinition{
		ID:      "default",
		Name:    "Default",
		Version: 3,
		Blocks: []types.StrategyBlockDefinition{
			{Priority: 100, IsEnabled: true, Block: blockDef("markup", "ADD_MARKUP", 10)},
			{Priority: 50, IsEnabled: false, Block: blockDef("loyalty", "SET_LOYALTY_POINTS", 1)},
		},
	}

	strategy, err := CompileStrategy(def)
	require.NoError(t, err)
	assert.Equal(t, "default", strategy.Code)
	assert.Len(t, strategy.Blocks, 2)
	assert.False(t, strategy.Blocks[1].IsEnabled)
	assert.Equal(t, types.ActionType("SET_LOYALTY_POINTS"), strategy.Blocks[1].Block.Action.Type())
}
