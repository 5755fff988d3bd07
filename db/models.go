// Package db - Relational store for pricing strategies and the bundle catalog
// Rows are mapped to the same raw definitions the HCL files produce, so both
// sources share one compile path.
package db

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyRecord is a row of pricing_strategies
type StrategyRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Code      string    `gorm:"size:128;not null;uniqueIndex:idx_pricing_strategies_code" json:"code"`
	Name      string    `gorm:"size:255" json:"name"`
	IsDefault bool      `gorm:"not null;default:false;index:idx_pricing_strategies_default" json:"is_default"`
	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Blocks []StrategyBlockRecord `gorm:"foreignKey:StrategyID;constraint:OnDelete:CASCADE" json:"blocks"`
}

func (StrategyRecord) TableName() string {
	return "pricing_strategies"
}

// PricingBlockRecord is a row of pricing_blocks. Blocks are shared between
// strategies; conditions and action parameters are JSON columns.
type PricingBlockRecord struct {
	ID             string          `gorm:"primaryKey;size:64" json:"id"`
	Name           string          `gorm:"size:255" json:"name"`
	Category       string          `gorm:"size:64;index:idx_pricing_blocks_category" json:"category"`
	Conditions     json.RawMessage `gorm:"type:jsonb" json:"conditions"`
	ActionType     string          `gorm:"size:64;not null" json:"action_type"`
	ActionValue    json.RawMessage `gorm:"type:jsonb" json:"action_value"`
	ActionMetadata json.RawMessage `gorm:"type:jsonb" json:"action_metadata"`
	Priority       int             `gorm:"not null;default:0" json:"priority"`
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	ValidFrom      *time.Time      `json:"valid_from"`
	ValidUntil     *time.Time      `json:"valid_until"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (PricingBlockRecord) TableName() string {
	return "pricing_blocks"
}

// StrategyBlockRecord binds a block into a strategy
type StrategyBlockRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	StrategyID      string          `gorm:"size:64;not null;uniqueIndex:idx_strategy_blocks_pair" json:"strategy_id"`
	BlockID         string          `gorm:"size:64;not null;uniqueIndex:idx_strategy_blocks_pair" json:"block_id"`
	Position        int             `gorm:"not null;default:0" json:"position"`
	Priority        int             `gorm:"not null;default:0" json:"priority"`
	IsEnabled       bool            `gorm:"not null;default:true" json:"is_enabled"`
	ConfigOverrides json.RawMessage `gorm:"type:jsonb" json:"config_overrides"`

	Block PricingBlockRecord `gorm:"foreignKey:BlockID;references:ID" json:"pricing_block"`
}

func (StrategyBlockRecord) TableName() string {
	return "strategy_blocks"
}

// BundleRecord is a row of bundles. Code is a country ISO code or a
// region code, stored upper-case.
type BundleRecord struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Code         string          `gorm:"size:64;not null;uniqueIndex:idx_bundles_code_days" json:"code"`
	ValidityDays int             `gorm:"not null;uniqueIndex:idx_bundles_code_days" json:"validity_days"`
	Name         string          `gorm:"size:255" json:"name"`
	Provider     string          `gorm:"size:128" json:"provider"`
	BaseCost     decimal.Decimal `gorm:"type:numeric(12,4);not null" json:"base_cost"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (BundleRecord) TableName() string {
	return "bundles"
}

// Models lists every table for migration
func Models() []interface{} {
	return []interface{}{&StrategyRecord{}, &PricingBlockRecord{}, &StrategyBlockRecord{}, &BundleRecord{}}
}
