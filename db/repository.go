package db

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bundle-pricing/core/rules"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// PoolConfig tunes the connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and verifies the connection
func Open(ctx context.Context, dsn string, pool PoolConfig) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return gdb, nil
}

// Repository reads and writes strategies and bundles. It implements
// engine.StrategySource and engine.BundleCatalog.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository creates a repository
func NewRepository(gdb *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     gdb,
		logger: logging.Component(logger, "strategy-repository"),
	}
}

// Migrate creates or updates the schema
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return errors.Wrap(errors.TypeConfig, "failed to migrate pricing schema", err)
	}
	return nil
}

func (r *Repository) withBlocks(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Blocks.Block")
}

// DefaultStrategy implements engine.StrategySource
func (r *Repository) DefaultStrategy(ctx context.Context) (*types.PricingStrategy, error) {
	var rec StrategyRecord
	err := r.withBlocks(ctx).Where("is_default = ?", true).Order("updated_at DESC").First(&rec).Error
	return r.compile(rec, err)
}

// StrategyByID implements engine.StrategySource
func (r *Repository) StrategyByID(ctx context.Context, id string) (*types.PricingStrategy, error) {
	var rec StrategyRecord
	err := r.withBlocks(ctx).Where("id = ?", id).First(&rec).Error
	return r.compile(rec, err)
}

func (r *Repository) compile(rec StrategyRecord, err error) (*types.PricingStrategy, error) {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Strategy("failed to load strategy", err)
	}

	def, err := ToDefinition(rec)
	if err != nil {
		return nil, errors.Strategy("malformed strategy row", err).WithContext("strategy_id", rec.ID)
	}
	strategy, err := rules.CompileStrategy(def)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("strategy loaded",
		logging.StrategyID(strategy.ID),
		zap.Int("version", strategy.Version),
		zap.Int("blocks", len(strategy.Blocks)),
	)
	return strategy, nil
}

// SaveStrategy validates def and stores it, replacing any previous version
// of the same strategy. Marking it default clears the flag elsewhere.
func (r *Repository) SaveStrategy(ctx context.Context, def types.StrategyDefinition) error {
	if _, err := rules.CompileStrategy(def); err != nil {
		return err
	}
	rec, err := ToRecords(def)
	if err != nil {
		return errors.Strategy("failed to encode strategy", err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.IsDefault {
			if err := tx.Model(&StrategyRecord{}).Where("id <> ?", rec.ID).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Omit("Blocks").Create(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("strategy_id = ?", rec.ID).Delete(&StrategyBlockRecord{}).Error; err != nil {
			return err
		}
		for i := range rec.Blocks {
			sb := rec.Blocks[i]
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&sb.Block).Error; err != nil {
				return err
			}
			if err := tx.Omit("Block").Create(&sb).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.TypeInternal, "failed to save strategy", err).WithContext("strategy_id", def.ID)
	}

	r.logger.Info("strategy saved", logging.StrategyID(def.ID), zap.Int("blocks", len(def.Blocks)))
	return nil
}

// Lookup implements engine.BundleCatalog. It returns the shortest bundle
// for code that covers at least days, or nil when none does.
func (r *Repository) Lookup(ctx context.Context, code string, days int) (*types.BundleInfo, error) {
	var rec BundleRecord
	err := r.db.WithContext(ctx).
		Where("code = ? AND validity_days >= ?", strings.ToUpper(strings.TrimSpace(code)), days).
		Order("validity_days ASC").
		First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.TypeInternal, "bundle lookup failed", err)
	}
	return &types.BundleInfo{
		BundleName:   rec.Name,
		Provider:     rec.Provider,
		BaseCost:     rec.BaseCost,
		ValidityDays: rec.ValidityDays,
	}, nil
}

// SaveBundles upserts catalog rows keyed by code and validity
func (r *Repository) SaveBundles(ctx context.Context, bundles map[string][]types.BundleInfo) (int, error) {
	var rows []BundleRecord
	for code, list := range bundles {
		for _, b := range list {
			rows = append(rows, BundleRecord{
				Code:         strings.ToUpper(strings.TrimSpace(code)),
				ValidityDays: b.ValidityDays,
				Name:         b.BundleName,
				Provider:     b.Provider,
				BaseCost:     b.BaseCost,
			})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}, {Name: "validity_days"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "provider", "base_cost", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, errors.Wrap(errors.TypeInternal, "failed to save bundles", err)
	}
	return len(rows), nil
}
