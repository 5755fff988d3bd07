package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// Invalidator removes cached breakdowns by scope. Every method returns
// the number of entries removed.
type Invalidator struct {
	store  Store
	logger *zap.Logger
}

// NewInvalidator creates an invalidator over store
func NewInvalidator(store Store, logger *zap.Logger) *Invalidator {
	return &Invalidator{
		store:  store,
		logger: logging.Component(logger, "invalidator"),
	}
}

// InvalidateAll removes every pricing entry
func (i *Invalidator) InvalidateAll(ctx context.Context) (int, error) {
	return i.deleteWhere(ctx, "all", "", func(KeyParts) bool { return true })
}

// InvalidateBundle removes entries for a bundle id
func (i *Invalidator) InvalidateBundle(ctx context.Context, bundleID string) (int, error) {
	bundleID = sanitize(bundleID)
	return i.deleteWhere(ctx, "bundle", bundleID, func(p KeyParts) bool {
		return p.BundleID == bundleID
	})
}

// InvalidateCountry removes entries covering a country or region code
func (i *Invalidator) InvalidateCountry(ctx context.Context, iso string) (int, error) {
	return i.deleteWhere(ctx, "country", iso, func(p KeyParts) bool {
		return p.HasCountry(iso) || strings.EqualFold(p.Region, strings.TrimSpace(iso))
	})
}

// InvalidatePaymentMethod removes entries priced for a payment method
func (i *Invalidator) InvalidatePaymentMethod(ctx context.Context, method string) (int, error) {
	method = sanitize(method)
	return i.deleteWhere(ctx, "payment_method", method, func(p KeyParts) bool {
		return p.PaymentMethod == method
	})
}

// InvalidateUser removes entries priced for a user
func (i *Invalidator) InvalidateUser(ctx context.Context, userID string) (int, error) {
	userID = sanitize(userID)
	return i.deleteWhere(ctx, "user", userID, func(p KeyParts) bool {
		return p.UserID == userID
	})
}

// InvalidateByRuleChange dispatches to the narrowest invalidator for a
// rule category. Global categories, or a change with no affected
// entities, invalidate everything.
func (i *Invalidator) InvalidateByRuleChange(ctx context.Context, category types.Category, entities []string) (int, error) {
	var scoped func(context.Context, string) (int, error)
	switch types.Category(strings.ToUpper(string(category))) {
	case types.CategoryBundleAdjustment:
		scoped = i.InvalidateBundle
	case types.CategoryRegionAdjustment:
		scoped = i.InvalidateCountry
	case types.CategoryProcessingFee:
		scoped = i.InvalidatePaymentMethod
	case types.CategoryPromotion, types.CategoryUserSegment:
		scoped = i.InvalidateUser
	}

	if scoped == nil || len(entities) == 0 {
		return i.InvalidateAll(ctx)
	}

	total := 0
	for _, entity := range entities {
		n, err := scoped(ctx, entity)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (i *Invalidator) deleteWhere(ctx context.Context, scope, value string, match func(KeyParts) bool) (int, error) {
	start := time.Now()
	n, err := i.store.DeleteMatching(ctx, func(key string) bool {
		parts, err := ParseFingerprint(key)
		if err != nil {
			// foreign keys under the prefix only go with a full flush
			return scope == "all" && strings.HasPrefix(key, KeyPrefix+delimiter)
		}
		return match(parts)
	})
	if err != nil {
		cerr := errors.CacheUnavailable("invalidate "+scope, err)
		i.logger.Warn("cache invalidation failed", zap.String("scope", scope), zap.String("value", value), zap.Error(cerr))
		return n, cerr
	}

	i.logger.Info("cache invalidated",
		zap.String("scope", scope),
		zap.String("value", value),
		zap.Int("affected", n),
		zap.Duration("took", time.Since(start)),
	)
	return n, nil
}
