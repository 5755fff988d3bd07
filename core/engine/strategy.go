package engine

import (
	"context"

	"golang.org/x/sync/singleflight"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

// StrategySource provides pricing strategies. StrategyByID returns
// (nil, nil) when no strategy has that id.
type StrategySource interface {
	DefaultStrategy(ctx context.Context) (*types.PricingStrategy, error)
	StrategyByID(ctx context.Context, id string) (*types.PricingStrategy, error)
}

// BundleCatalog resolves the bundle that seeds PriceState.Cost.
// countryISO carries the region code for region bundles.
type BundleCatalog interface {
	Lookup(ctx context.Context, countryISO string, days int) (*types.BundleInfo, error)
}

const defaultStrategyKey = "\x00default"

// StrategyLoader collapses concurrent loads of the same strategy into a
// single call to the underlying source.
type StrategyLoader struct {
	source StrategySource
	group  singleflight.Group
}

// NewStrategyLoader wraps a source
func NewStrategyLoader(source StrategySource) *StrategyLoader {
	if l, ok := source.(*StrategyLoader); ok {
		return l
	}
	return &StrategyLoader{source: source}
}

// DefaultStrategy implements StrategySource
func (l *StrategyLoader) DefaultStrategy(ctx context.Context) (*types.PricingStrategy, error) {
	return l.load(ctx, defaultStrategyKey, func() (*types.PricingStrategy, error) {
		return l.source.DefaultStrategy(ctx)
	})
}

// StrategyByID implements StrategySource
func (l *StrategyLoader) StrategyByID(ctx context.Context, id string) (*types.PricingStrategy, error) {
	return l.load(ctx, id, func() (*types.PricingStrategy, error) {
		return l.source.StrategyByID(ctx, id)
	})
}

// Load resolves id, or the default strategy when id is empty.
// A missing strategy is reported as a NotFound error.
func (l *StrategyLoader) Load(ctx context.Context, id string) (*types.PricingStrategy, error) {
	var (
		strategy *types.PricingStrategy
		err      error
	)
	if id == "" {
		strategy, err = l.DefaultStrategy(ctx)
		id = "default"
	} else {
		strategy, err = l.StrategyByID(ctx, id)
	}
	if err != nil {
		if errors.TypeOf(err) != "" {
			return nil, err
		}
		return nil, errors.Strategy("failed to load strategy "+id, err)
	}
	if strategy == nil {
		return nil, errors.NotFound("strategy", id)
	}
	return strategy, nil
}

func (l *StrategyLoader) load(ctx context.Context, key string, fn func() (*types.PricingStrategy, error)) (*types.PricingStrategy, error) {
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return fn()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		strategy, _ := res.Val.(*types.PricingStrategy)
		return strategy, nil
	}
}
