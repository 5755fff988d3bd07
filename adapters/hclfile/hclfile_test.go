package hclfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bundle-pricing/core/engine"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

const strategySrc = `
strategy "retail" {
  id         = "s1"
  name       = "Retail"
  is_default = true
  version    = 4

  block "markup" {
    priority  = 100
    category  = "markup"
    overrides = { value = 12, source = "campaign" }

    action {
      type     = "ADD_MARKUP"
      value    = 10
      metadata = { owner = "pricing" }
    }
  }

  block "promo" {
    priority    = 50
    enabled     = false
    active      = true
    valid_from  = "2026-01-01T00:00:00Z"
    valid_until = "2026-12-31T00:00:00Z"

    condition {
      field    = "promoCode"
      operator = "in"
      value    = ["SUMMER", "SUN"]
    }

    condition {
      field    = "validityDays"
      operator = "BETWEEN"
      value    = [7, 30]
    }

    action {
      type  = "APPLY_DISCOUNT_PERCENTAGE"
      value = "12.5"
    }
  }
}
`

func TestParseStrategies(t *testing.T) {
	defs, err := ParseStrategies([]byte(strategySrc), "retail.hcl")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "s1", def.ID)
	assert.Equal(t, "retail", def.Code)
	assert.True(t, def.IsDefault)
	assert.Equal(t, 4, def.Version)
	require.Len(t, def.Blocks, 2)

	markup := def.Blocks[0]
	assert.Equal(t, 100, markup.Priority)
	assert.True(t, markup.IsEnabled)
	assert.Equal(t, "markup", markup.Block.Name)
	assert.True(t, markup.Block.IsActive)
	assert.Equal(t, json.Number("12"), markup.ConfigOverrides["value"])
	assert.Equal(t, json.Number("10"), markup.Block.Action.Value)
	assert.Equal(t, "pricing", markup.Block.Action.Metadata["owner"])

	promo := def.Blocks[1]
	assert.False(t, promo.IsEnabled)
	require.NotNil(t, promo.Block.ValidFrom)
	assert.Equal(t, 2026, promo.Block.ValidFrom.Year())
	require.Len(t, promo.Block.Conditions, 2)
	assert.Equal(t, []interface{}{"SUMMER", "SUN"}, promo.Block.Conditions[0].Value)
	assert.Equal(t, "12.5", promo.Block.Action.Value)
}

func TestCompileParsedStrategy(t *testing.T) {
	defs, err := ParseStrategies([]byte(strategySrc), "retail.hcl")
	require.NoError(t, err)

	byID, fallback, err := Compile(defs)
	require.NoError(t, err)
	require.NotNil(t, fallback)
	assert.Same(t, byID["s1"], fallback)

	markup, ok := fallback.Blocks[0].Block.Action.(types.AddMarkup)
	require.True(t, ok)
	// strategy overrides win over the block's own value
	assert.True(t, markup.Amount.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, "campaign", markup.Metadata["source"])
	assert.Equal(t, types.CategoryMarkup, fallback.Blocks[0].Block.Category)

	promo, ok := fallback.Blocks[1].Block.Action.(types.DiscountPercentage)
	require.True(t, ok)
	assert.True(t, promo.Percent.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, types.OpIn, fallback.Blocks[1].Block.Conditions[0].Operator)
}

func TestParseStrategiesRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "syntax error",
			src:  `strategy "x" {`,
		},
		{
			name: "missing id",
			src: `strategy "x" {
  block "b" {
    action {
      type = "ADD_MARKUP"
    }
  }
}`,
		},
		{
			name: "no action",
			src: `strategy "x" {
  id = "x"
  block "b" {
    priority = 1
  }
}`,
		},
		{
			name: "two actions",
			src: `strategy "x" {
  id = "x"
  block "b" {
    action {
      type = "ADD_MARKUP"
    }
    action {
      type = "ADD_MARKUP"
    }
  }
}`,
		},
		{
			name: "references are not allowed",
			src: `strategy "x" {
  id = var.id
}`,
		},
		{
			name: "bad timestamp",
			src: `strategy "x" {
  id = "x"
  block "b" {
    valid_from = "tomorrow"
    action {
      type = "ADD_MARKUP"
    }
  }
}`,
		},
		{
			name: "unknown attribute",
			src: `strategy "x" {
  id    = "x"
  color = "red"
}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStrategies([]byte(tt.src), "bad.hcl")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.TypeStrategy))
		})
	}
}

func TestCompileRejectsInvalidStrategies(t *testing.T) {
	tests := []struct {
		name string
		defs []types.StrategyDefinition
	}{
		{
			name: "two defaults",
			defs: []types.StrategyDefinition{{ID: "a", IsDefault: true}, {ID: "b", IsDefault: true}},
		},
		{
			name: "duplicate id",
			defs: []types.StrategyDefinition{{ID: "a"}, {ID: "a"}},
		},
		{
			name: "percentage above 100",
			defs: []types.StrategyDefinition{{ID: "a", Blocks: []types.StrategyBlockDefinition{{
				Block: types.BlockDefinition{ID: "b", Action: types.ActionDefinition{Type: "APPLY_DISCOUNT_PERCENTAGE", Value: json.Number("150")}},
			}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compile(tt.defs)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.TypeStrategy))
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStrategySourceReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", strategySrc)
	writeFile(t, dir, "notes.txt", "ignored")

	src, err := NewStrategySource(dir, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	def, err := src.DefaultStrategy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, def.Version)

	missing, err := src.StrategyByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	writeFile(t, dir, "b.hcl", `strategy "extra" {
  id = "s2"
  block "m" {
    action {
      type  = "ADD_MARKUP"
      value = 1
    }
  }
}`)
	require.NoError(t, src.Reload())
	assert.Len(t, src.Strategies(), 2)

	// a broken file keeps the previous strategies in service
	writeFile(t, dir, "c.hcl", `strategy "broken" {`)
	assert.Error(t, src.Reload())
	got, err := src.StrategyByID(ctx, "s2")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

const catalogSrc = `
bundle "IL" {
  days      = 30
  base_cost = "19.50"
  name      = "Israel 30 days"
}

bundle "il" {
  days      = 7
  base_cost = 8
  name      = "Israel 7 days"
  provider  = "esim-go"
}

bundle "europe" {
  days      = 30
  base_cost = 20
}
`

func TestCatalogLookup(t *testing.T) {
	parsed, err := ParseCatalog([]byte(catalogSrc), "catalog.hcl")
	require.NoError(t, err)
	catalog := NewCatalog(parsed)
	assert.Equal(t, 3, catalog.Len())

	bundles := catalog.Bundles()
	require.Len(t, bundles["IL"], 2)
	assert.Equal(t, 7, bundles["IL"][0].ValidityDays, "sorted by validity")
	bundles["IL"][0].ValidityDays = 99
	assert.Equal(t, 7, catalog.Bundles()["IL"][0].ValidityDays, "copies are independent")

	tests := []struct {
		name     string
		code     string
		days     int
		wantName string
		wantCost string
	}{
		{name: "exact", code: "IL", days: 7, wantName: "Israel 7 days", wantCost: "8"},
		{name: "shortest covering bundle", code: "il", days: 10, wantName: "Israel 30 days", wantCost: "19.5"},
		{name: "region", code: "EUROPE", days: 30, wantCost: "20"},
		{name: "too long", code: "IL", days: 31},
		{name: "unknown", code: "FR", days: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := catalog.Lookup(context.Background(), tt.code, tt.days)
			require.NoError(t, err)
			if tt.wantCost == "" {
				assert.Nil(t, info)
				return
			}
			require.NotNil(t, info)
			assert.Equal(t, tt.wantName, info.BundleName)
			assert.True(t, info.BaseCost.Equal(decimal.RequireFromString(tt.wantCost)), "cost %s", info.BaseCost)
		})
	}
}

func TestParseCatalogRejectsBadBundles(t *testing.T) {
	for _, src := range []string{
		`bundle "IL" { base_cost = 8 }`,
		`bundle "IL" {
  days      = 0
  base_cost = 8
}`,
		`bundle "IL" {
  days      = 7
  base_cost = -1
}`,
		`bundle "IL" {
  days      = 7
  base_cost = "cheap"
}`,
	} {
		_, err := ParseCatalog([]byte(src), "catalog.hcl")
		require.Error(t, err, src)
		assert.True(t, errors.IsType(err, errors.TypeConfig))
	}
}

func TestSampleConfigDrivesEngine(t *testing.T) {
	strategies, err := NewStrategySource(filepath.Join("..", "..", "config", "strategies"), zap.NewNop())
	require.NoError(t, err)
	catalog, err := LoadCatalog(filepath.Join("..", "..", "config", "catalog.hcl"))
	require.NoError(t, err)

	eng := engine.NewEngine(strategies, catalog, engine.Config{Logger: zap.NewNop()})
	bd, err := eng.Calculate(context.Background(), types.RequestFacts{
		BundleID:      "il-7",
		ValidityDays:  7,
		Countries:     []string{"IL"},
		PaymentMethod: "ISRAELI_CARD",
	})
	require.NoError(t, err)

	assert.Equal(t, "standard", bd.StrategyID)
	assert.True(t, bd.SellingPrice.Equal(decimal.NewFromInt(18)), "selling %s", bd.SellingPrice)
	assert.True(t, bd.FinalPrice.Equal(decimal.NewFromInt(18)), "final %s", bd.FinalPrice)
	assert.True(t, bd.ProcessingCost.Equal(decimal.RequireFromString("0.252")), "processing %s", bd.ProcessingCost)
}
