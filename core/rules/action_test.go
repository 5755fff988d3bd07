package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundle-pricing/core/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func applyAll(t *testing.T, state types.PriceState, facts FactSet, actions ...types.RuleAction) types.PriceState {
	t.Helper()
	for _, a := range actions {
		var err error
		state, _, err = ApplyAction(a, state, facts)
		require.NoError(t, err)
	}
	return state
}

func TestApplyActionIsraeliCardExample(t *testing.T) {
	state := applyAll(t, types.NewPriceState(d("8.00")), testFacts(),
		types.AddMarkup{Amount: d("10")},
		types.DiscountPercentage{Percent: d("10")},
		types.ProcessingRate{Percent: d("1.4")},
	)

	assert.True(t, state.SellingPrice.Equal(d("18")), "selling %s", state.SellingPrice)
	assert.True(t, state.DiscountValue.Equal(d("1.8")), "discount %s", state.DiscountValue)
	assert.True(t, state.PriceAfterDiscount.Equal(d("16.2")), "price %s", state.PriceAfterDiscount)
	assert.True(t, state.ProcessingCost.Equal(d("0.2268")), "processing %s", state.ProcessingCost)
	assert.True(t, state.NetProfit.Equal(d("7.9732")), "net %s", state.NetProfit)
	assert.True(t, state.DiscountRate.Equal(d("0.1")))
	assert.True(t, state.ProcessingRate.Equal(d("0.014")))
	assert.False(t, state.ConstraintBinding)
}

func TestApplyActionMinimumProfitFloor(t *testing.T) {
	state := applyAll(t, types.NewPriceState(d("8.00")), testFacts(),
		types.AddMarkup{Amount: d("10")},
		types.DiscountPercentage{Percent: d("90")},
	)
	require.True(t, state.PriceAfterDiscount.Equal(d("1.8")))

	state, out, err := ApplyAction(types.MinimumProfit{Margin: d("1.50")}, state, testFacts())
	require.NoError(t, err)

	assert.True(t, state.PriceAfterDiscount.Equal(d("9.5")), "price %s", state.PriceAfterDiscount)
	assert.True(t, state.ConstraintBinding)
	assert.Equal(t, true, out.Metadata["clamped"])
	assert.Equal(t, "1.8", out.Metadata["raisedFrom"])
}

func TestApplyActionMinimumPrice(t *testing.T) {
	state := applyAll(t, types.NewPriceState(d("5")), testFacts(),
		types.FixedDiscount{Amount: d("3")},
	)

	state, out, err := ApplyAction(types.MinimumPrice{Floor: d("4")}, state, testFacts())
	require.NoError(t, err)
	assert.True(t, state.PriceAfterDiscount.Equal(d("4")))
	assert.Equal(t, true, out.Metadata["clamped"])

	// a lower floor never lowers an existing one
	state, out, err = ApplyAction(types.MinimumPrice{Floor: d("1")}, state, testFacts())
	require.NoError(t, err)
	assert.True(t, state.MinimumPrice.Equal(d("4")))
	assert.Equal(t, false, out.Metadata["clamped"])
}

func TestApplyActionDiscountsAccumulate(t *testing.T) {
	state := applyAll(t, types.NewPriceState(d("10")), testFacts(),
		types.AddMarkup{Amount: d("10")},
		types.DiscountPercentage{Percent: d("10")},
		types.FixedDiscount{Amount: d("1")},
		types.DiscountPerUnusedDay{PerDay: d("0.5")},
	)

	// 2 + 1 + 2*0.5
	assert.True(t, state.DiscountValue.Equal(d("4")), "discount %s", state.DiscountValue)
	assert.True(t, state.PriceAfterDiscount.Equal(d("16")))
}

func TestApplyActionPriceNeverNegative(t *testing.T) {
	state := applyAll(t, types.NewPriceState(d("2")), testFacts(),
		types.FixedDiscount{Amount: d("50")},
	)
	assert.True(t, state.PriceAfterDiscount.IsZero())
	assert.True(t, state.NetProfit.Equal(d("-2")))
}

func TestApplyActionUnknownIsInert(t *testing.T) {
	start := Settle(types.NewPriceState(d("8")))
	state, _, err := ApplyAction(types.UnknownAction{RawType: "SET_LOYALTY_POINTS"}, start, testFacts())
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Equal(t, start, state)
}

func TestRoundToNinetyNine(t *testing.T) {
	tests := []struct {
		name       string
		actions    []types.RuleAction
		wantFinal  string
		wantApply  bool
		wantReason string
	}{
		{
			name:      "rounds down to nearest .99",
			actions:   []types.RuleAction{types.AddMarkup{Amount: d("8.20")}},
			wantFinal: "15.99",
			wantApply: true,
		},
		{
			name:      "rounds up to nearest .99",
			actions:   []types.RuleAction{types.AddMarkup{Amount: d("8.70")}},
			wantFinal: "16.99",
			wantApply: true,
		},
		{
			name: "clamped price still rounds above the floor",
			actions: []types.RuleAction{
				types.AddMarkup{Amount: d("10")},
				types.DiscountPercentage{Percent: d("90")},
				types.MinimumProfit{Margin: d("1.50")},
			},
			wantFinal: "9.99",
			wantApply: true,
		},
		{
			name: "skipped when it would break the profit floor",
			actions: []types.RuleAction{
				types.AddMarkup{Amount: d("1.20")},
				types.MinimumProfit{Margin: d("1.20")},
			},
			wantFinal:  "9.2",
			wantReason: "minimum_profit_floor",
		},
		{
			name: "skipped when it would break the price floor",
			actions: []types.RuleAction{
				types.AddMarkup{Amount: d("1.30")},
				types.MinimumPrice{Floor: d("9.30")},
			},
			wantFinal:  "9.3",
			wantReason: "minimum_price_floor",
		},
		{
			name:       "already rounded",
			actions:    []types.RuleAction{types.AddMarkup{Amount: d("1.99")}},
			wantFinal:  "9.99",
			wantReason: "already_rounded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := applyAll(t, types.NewPriceState(d("8")), testFacts(), tt.actions...)
			rounded, result := RoundToNinetyNine(state)

			assert.Equal(t, tt.wantApply, result.Applied)
			assert.Equal(t, tt.wantReason, result.SkipReason)
			assert.True(t, rounded.FinalPrice.Equal(d(tt.wantFinal)), "final %s", rounded.FinalPrice)
			assert.True(t, rounded.PriceAfterDiscount.Equal(state.PriceAfterDiscount))
		})
	}
}
