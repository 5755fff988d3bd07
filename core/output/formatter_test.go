package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundle-pricing/core/types"
)

func sampleBreakdown() *types.PricingBreakdown {
	bd := &types.PricingBreakdown{
		BundleID:        "il-7",
		BundleName:      "Israel 7d",
		ValidityDays:    7,
		Countries:       []string{"IL"},
		Currency:        types.CurrencyUSD,
		StrategyID:      "standard",
		StrategyVersion: 3,
		CalculatedAt:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		PricingSteps: []types.PricingStep{
			{Name: "base-markup", Order: 1, RuleID: "base-markup", PriceBefore: decimal.NewFromInt(8), PriceAfter: decimal.NewFromInt(18), Impact: decimal.NewFromInt(10)},
			{Name: "card-fee", Order: 2, RuleID: "card-fee", PriceBefore: decimal.NewFromInt(18), PriceAfter: decimal.NewFromInt(18), Impact: decimal.RequireFromString("-0.25")},
		},
		SkippedRules: []types.SkippedRule{{RuleID: "long-stay", Name: "long-stay", Reason: "CONDITIONS_NOT_MET"}},
	}
	bd.Cost = decimal.NewFromInt(8)
	bd.FinalPrice = decimal.NewFromInt(18)
	bd.NetProfit = decimal.RequireFromString("9.75")
	return bd
}

func TestNew(t *testing.T) {
	tests := []struct {
		format Format
		want   Format
	}{
		{format: "", want: FormatCLI},
		{format: "cli", want: FormatCLI},
		{format: "JSON", want: FormatJSON},
		{format: "markdown", want: FormatMarkdown},
	}
	for _, tt := range tests {
		f, err := New(tt.format, true)
		require.NoError(t, err)
		assert.Equal(t, tt.want, f.Format())
	}

	_, err := New("html", true)
	assert.Error(t, err)
}

func TestJSONRoundTripsBreakdown(t *testing.T) {
	f, err := New(FormatJSON, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Render(&buf, sampleBreakdown()))

	var got types.PricingBreakdown
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.True(t, got.FinalPrice.Equal(decimal.NewFromInt(18)))
	assert.Len(t, got.PricingSteps, 2)
}

func TestCLIRendersStepsAndSummary(t *testing.T) {
	f, err := New(FormatCLI, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Render(&buf, sampleBreakdown()))
	out := buf.String()

	assert.Contains(t, out, "Israel 7d (IL, 7 days)")
	assert.Contains(t, out, "base-markup")
	assert.Contains(t, out, "+10.00")
	assert.Contains(t, out, "-0.25")
	assert.Contains(t, out, "Final Price: 18.00 USD")
	assert.Contains(t, out, "Strategy: standard v3")
	assert.Contains(t, out, "Rules applied: 0, skipped: 1")
	assert.NotContains(t, out, "\033[", "colour disabled")
}

func TestMarkdown(t *testing.T) {
	f, err := New(FormatMarkdown, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Render(&buf, sampleBreakdown()))
	assert.Contains(t, buf.String(), "| Final price | **18.00 USD** |")
	assert.Contains(t, buf.String(), "| 2 | card-fee | 18.00 | 18.00 | -0.25 |")
}
