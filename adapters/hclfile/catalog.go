package hclfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/shopspring/decimal"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

var catalogFileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "bundle", LabelNames: []string{"code"}},
	},
}

var bundleSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "days", Required: true},
		{Name: "base_cost", Required: true},
		{Name: "name"},
		{Name: "provider"},
	},
}

// Catalog is an engine.BundleCatalog read from HCL. Bundles are keyed by
// country ISO code or region code, case-insensitively.
//
//	bundle "IL" {
//	  days      = 7
//	  base_cost = 8
//	  name      = "Israel 7 days"
//	  provider  = "maya"
//	}
type Catalog struct {
	bundles map[string][]types.BundleInfo
}

// NewCatalog builds a catalog from bundles keyed by code
func NewCatalog(bundles map[string][]types.BundleInfo) *Catalog {
	c := &Catalog{bundles: make(map[string][]types.BundleInfo, len(bundles))}
	for code, list := range bundles {
		key := strings.ToUpper(strings.TrimSpace(code))
		c.bundles[key] = append(c.bundles[key], list...)
	}
	for _, list := range c.bundles {
		sort.SliceStable(list, func(i, j int) bool { return list[i].ValidityDays < list[j].ValidityDays })
	}
	return c
}

// LoadCatalog parses every bundle at path
func LoadCatalog(path string) (*Catalog, error) {
	paths, err := files(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeConfig, "failed to read catalog", err).WithContext("path", path)
	}

	bundles := make(map[string][]types.BundleInfo)
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrap(errors.TypeConfig, "failed to read catalog", err).WithContext("path", p)
		}
		parsed, err := ParseCatalog(src, p)
		if err != nil {
			return nil, err
		}
		for code, list := range parsed {
			bundles[code] = append(bundles[code], list...)
		}
	}
	return NewCatalog(bundles), nil
}

// ParseCatalog decodes the bundle blocks in src
func ParseCatalog(src []byte, filename string) (map[string][]types.BundleInfo, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.TypeConfig, "failed to parse "+filename, diags)
	}
	content, diags := file.Body.Content(catalogFileSchema)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.TypeConfig, "invalid catalog file "+filename, diags)
	}

	out := make(map[string][]types.BundleInfo)
	for _, block := range content.Blocks {
		body, bdiags := block.Body.Content(bundleSchema)
		diags = append(diags, bdiags...)
		if bdiags.HasErrors() {
			continue
		}

		a := &attrs{byName: body.Attributes}
		info := types.BundleInfo{
			BundleName:   a.str("name"),
			Provider:     a.str("provider"),
			ValidityDays: a.integer("days"),
		}
		if v, ok := a.value("base_cost"); ok {
			cost, err := money(v)
			if err != nil {
				a.fail(body.Attributes["base_cost"], "Invalid base cost", err)
			}
			info.BaseCost = cost
		}
		if info.ValidityDays <= 0 {
			a.fail(body.Attributes["days"], "Invalid validity", fmt.Errorf("must be positive"))
		}
		diags = append(diags, a.diags...)
		out[block.Labels[0]] = append(out[block.Labels[0]], info)
	}
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.TypeConfig, "invalid catalog file "+filename, diags)
	}
	return out, nil
}

func money(v interface{}) (decimal.Decimal, error) {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = n
	default:
		return decimal.Zero, fmt.Errorf("expected a number, got %T", v)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative")
	}
	return d, nil
}

// Lookup implements engine.BundleCatalog. It returns the shortest bundle
// for code that covers at least days, or nil when none does.
func (c *Catalog) Lookup(_ context.Context, code string, days int) (*types.BundleInfo, error) {
	for _, b := range c.bundles[strings.ToUpper(strings.TrimSpace(code))] {
		if b.ValidityDays >= days {
			info := b
			return &info, nil
		}
	}
	return nil, nil
}

// Len returns the number of bundles
func (c *Catalog) Len() int {
	n := 0
	for _, list := range c.bundles {
		n += len(list)
	}
	return n
}

// Bundles returns a copy of the catalog keyed by upper-case code
func (c *Catalog) Bundles() map[string][]types.BundleInfo {
	out := make(map[string][]types.BundleInfo, len(c.bundles))
	for code, list := range c.bundles {
		out[code] = append([]types.BundleInfo(nil), list...)
	}
	return out
}
