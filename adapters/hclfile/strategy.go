package hclfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"go.uber.org/zap"

	"bundle-pricing/core/rules"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// FileExtension marks strategy and catalog files in a directory
const FileExtension = ".hcl"

var strategyFileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "strategy", LabelNames: []string{"code"}},
	},
}

var strategySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "id", Required: true},
		{Name: "name"},
		{Name: "is_default"},
		{Name: "version"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "block", LabelNames: []string{"id"}},
	},
}

var blockSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		// binding into the strategy
		{Name: "priority"},
		{Name: "enabled"},
		{Name: "overrides"},

		// the pricing block itself
		{Name: "name"},
		{Name: "category"},
		{Name: "block_priority"},
		{Name: "active"},
		{Name: "valid_from"},
		{Name: "valid_until"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "condition"},
		{Type: "action"},
	},
}

var conditionSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "field", Required: true},
		{Name: "operator", Required: true},
		{Name: "value"},
	},
}

var actionSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type", Required: true},
		{Name: "value"},
		{Name: "metadata"},
	},
}

// ParseStrategies decodes every strategy block in src. Parsing is purely
// structural; rule validation happens when the definitions are compiled.
func ParseStrategies(src []byte, filename string) ([]types.StrategyDefinition, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.TypeStrategy, "failed to parse "+filename, diags)
	}

	content, diags := file.Body.Content(strategyFileSchema)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.TypeStrategy, "invalid strategy file "+filename, diags)
	}

	defs := make([]types.StrategyDefinition, 0, len(content.Blocks))
	for _, block := range content.Blocks {
		def, diags := decodeStrategy(block)
		if diags.HasErrors() {
			return nil, errors.Wrap(errors.TypeStrategy, "invalid strategy file "+filename, diags)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func decodeStrategy(block *hcl.Block) (types.StrategyDefinition, hcl.Diagnostics) {
	content, diags := block.Body.Content(strategySchema)
	if diags.HasErrors() {
		return types.StrategyDefinition{}, diags
	}

	a := &attrs{byName: content.Attributes}
	def := types.StrategyDefinition{
		Code:      block.Labels[0],
		ID:        a.str("id"),
		Name:      a.str("name"),
		IsDefault: a.boolean("is_default", false),
		Version:   a.integer("version"),
	}
	diags = append(diags, a.diags...)

	for _, b := range content.Blocks {
		sb, bdiags := decodeBlock(b)
		diags = append(diags, bdiags...)
		def.Blocks = append(def.Blocks, sb)
	}
	return def, diags
}

func decodeBlock(block *hcl.Block) (types.StrategyBlockDefinition, hcl.Diagnostics) {
	content, diags := block.Body.Content(blockSchema)
	if diags.HasErrors() {
		return types.StrategyBlockDefinition{}, diags
	}

	a := &attrs{byName: content.Attributes}
	sb := types.StrategyBlockDefinition{
		Priority:        a.integer("priority"),
		IsEnabled:       a.boolean("enabled", true),
		ConfigOverrides: a.object("overrides"),
		Block: types.BlockDefinition{
			ID:         block.Labels[0],
			Name:       a.str("name"),
			Category:   a.str("category"),
			Priority:   a.integer("block_priority"),
			IsActive:   a.boolean("active", true),
			ValidFrom:  a.timestamp("valid_from"),
			ValidUntil: a.timestamp("valid_until"),
		},
	}
	if sb.Block.Name == "" {
		sb.Block.Name = sb.Block.ID
	}
	diags = append(diags, a.diags...)

	actions := 0
	for _, b := range content.Blocks {
		switch b.Type {
		case "condition":
			cond, cdiags := decodeCondition(b)
			diags = append(diags, cdiags...)
			sb.Block.Conditions = append(sb.Block.Conditions, cond)
		case "action":
			actions++
			action, adiags := decodeAction(b)
			diags = append(diags, adiags...)
			sb.Block.Action = action
		}
	}
	if actions != 1 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Exactly one action required",
			Detail:   fmt.Sprintf("block %q declares %d action blocks", block.Labels[0], actions),
			Subject:  block.DefRange.Ptr(),
		})
	}
	return sb, diags
}

func decodeCondition(block *hcl.Block) (types.RuleCondition, hcl.Diagnostics) {
	content, diags := block.Body.Content(conditionSchema)
	if diags.HasErrors() {
		return types.RuleCondition{}, diags
	}
	a := &attrs{byName: content.Attributes}
	cond := types.RuleCondition{
		Field:    a.str("field"),
		Operator: types.Operator(a.str("operator")),
	}
	cond.Value, _ = a.value("value")
	return cond, append(diags, a.diags...)
}

func decodeAction(block *hcl.Block) (types.ActionDefinition, hcl.Diagnostics) {
	content, diags := block.Body.Content(actionSchema)
	if diags.HasErrors() {
		return types.ActionDefinition{}, diags
	}
	a := &attrs{byName: content.Attributes}
	action := types.ActionDefinition{
		Type:     a.str("type"),
		Metadata: a.object("metadata"),
	}
	action.Value, _ = a.value("value")
	return action, append(diags, a.diags...)
}

// files lists the HCL files at path: the file itself, or every
// FileExtension file of a directory in name order
func files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), FileExtension) {
			out = append(out, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadStrategies parses every strategy at path
func LoadStrategies(path string) ([]types.StrategyDefinition, error) {
	paths, err := files(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeConfig, "failed to read strategies", err).WithContext("path", path)
	}

	var defs []types.StrategyDefinition
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrap(errors.TypeConfig, "failed to read strategies", err).WithContext("path", p)
		}
		parsed, err := ParseStrategies(src, p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, parsed...)
	}
	return defs, nil
}

// StrategySource serves compiled strategies loaded from HCL files.
// It implements engine.StrategySource and can be reloaded in place.
type StrategySource struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	byID     map[string]*types.PricingStrategy
	fallback *types.PricingStrategy
}

// NewStrategySource loads and compiles the strategies at path
func NewStrategySource(path string, logger *zap.Logger) (*StrategySource, error) {
	s := &StrategySource{
		path:   path,
		logger: logging.Component(logger, "hcl-strategies"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the files. On failure the previous strategies stay
// in service.
func (s *StrategySource) Reload() error {
	defs, err := LoadStrategies(s.path)
	if err != nil {
		return err
	}
	byID, fallback, err := Compile(defs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.byID, s.fallback = byID, fallback
	s.mu.Unlock()

	s.logger.Info("strategies loaded", zap.String("path", s.path), zap.Int("count", len(byID)))
	return nil
}

// Compile validates definitions and indexes them by id. At most one
// strategy may be the default.
func Compile(defs []types.StrategyDefinition) (map[string]*types.PricingStrategy, *types.PricingStrategy, error) {
	byID := make(map[string]*types.PricingStrategy, len(defs))
	var fallback *types.PricingStrategy
	for _, def := range defs {
		strategy, err := rules.CompileStrategy(def)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := byID[strategy.ID]; dup {
			return nil, nil, errors.Strategy(fmt.Sprintf("duplicate strategy id %q", strategy.ID), nil)
		}
		if strategy.IsDefault {
			if fallback != nil {
				return nil, nil, errors.Strategy(
					fmt.Sprintf("strategies %q and %q are both marked default", fallback.ID, strategy.ID), nil)
			}
			fallback = strategy
		}
		byID[strategy.ID] = strategy
	}
	return byID, fallback, nil
}

// DefaultStrategy implements engine.StrategySource
func (s *StrategySource) DefaultStrategy(context.Context) (*types.PricingStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback, nil
}

// StrategyByID implements engine.StrategySource
func (s *StrategySource) StrategyByID(_ context.Context, id string) (*types.PricingStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id], nil
}

// Strategies returns every loaded strategy ordered by id
func (s *StrategySource) Strategies() []*types.PricingStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.PricingStrategy, 0, len(s.byID))
	for _, st := range s.byID {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
