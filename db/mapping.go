package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"bundle-pricing/core/types"
)

// ToDefinition maps a strategy row with its preloaded bindings to a raw
// definition. Bindings keep their stored position order.
func ToDefinition(rec StrategyRecord) (types.StrategyDefinition, error) {
	def := types.StrategyDefinition{
		ID:        rec.ID,
		Code:      rec.Code,
		Name:      rec.Name,
		IsDefault: rec.IsDefault,
		Version:   rec.Version,
		Blocks:    make([]types.StrategyBlockDefinition, 0, len(rec.Blocks)),
	}

	bindings := append([]StrategyBlockRecord(nil), rec.Blocks...)
	sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].Position < bindings[j].Position })

	for _, sb := range bindings {
		block, err := toBlockDefinition(sb.Block)
		if err != nil {
			return types.StrategyDefinition{}, fmt.Errorf("strategy %s block %s: %w", rec.ID, sb.BlockID, err)
		}
		var overrides map[string]interface{}
		if err := decodeJSON(sb.ConfigOverrides, &overrides); err != nil {
			return types.StrategyDefinition{}, fmt.Errorf("strategy %s block %s: config overrides: %w", rec.ID, sb.BlockID, err)
		}
		def.Blocks = append(def.Blocks, types.StrategyBlockDefinition{
			Priority:        sb.Priority,
			IsEnabled:       sb.IsEnabled,
			ConfigOverrides: overrides,
			Block:           block,
		})
	}
	return def, nil
}

func toBlockDefinition(rec PricingBlockRecord) (types.BlockDefinition, error) {
	def := types.BlockDefinition{
		ID:         rec.ID,
		Name:       rec.Name,
		Category:   rec.Category,
		Priority:   rec.Priority,
		IsActive:   rec.IsActive,
		ValidFrom:  rec.ValidFrom,
		ValidUntil: rec.ValidUntil,
		Action:     types.ActionDefinition{Type: rec.ActionType},
	}
	if err := decodeJSON(rec.Conditions, &def.Conditions); err != nil {
		return def, fmt.Errorf("conditions: %w", err)
	}
	if err := decodeJSON(rec.ActionValue, &def.Action.Value); err != nil {
		return def, fmt.Errorf("action value: %w", err)
	}
	if err := decodeJSON(rec.ActionMetadata, &def.Action.Metadata); err != nil {
		return def, fmt.Errorf("action metadata: %w", err)
	}
	return def, nil
}

// ToRecords maps a raw definition to the rows that store it
func ToRecords(def types.StrategyDefinition) (StrategyRecord, error) {
	rec := StrategyRecord{
		ID:        def.ID,
		Code:      def.Code,
		Name:      def.Name,
		IsDefault: def.IsDefault,
		Version:   def.Version,
	}
	if rec.Code == "" {
		rec.Code = def.ID
	}
	if rec.Version == 0 {
		rec.Version = 1
	}

	for i, sb := range def.Blocks {
		block, err := toBlockRecord(sb.Block)
		if err != nil {
			return StrategyRecord{}, fmt.Errorf("block %s: %w", sb.Block.ID, err)
		}
		overrides, err := encodeJSON(sb.ConfigOverrides)
		if err != nil {
			return StrategyRecord{}, fmt.Errorf("block %s: config overrides: %w", sb.Block.ID, err)
		}
		rec.Blocks = append(rec.Blocks, StrategyBlockRecord{
			StrategyID:      def.ID,
			BlockID:         sb.Block.ID,
			Position:        i,
			Priority:        sb.Priority,
			IsEnabled:       sb.IsEnabled,
			ConfigOverrides: overrides,
			Block:           block,
		})
	}
	return rec, nil
}

func toBlockRecord(def types.BlockDefinition) (PricingBlockRecord, error) {
	rec := PricingBlockRecord{
		ID:         def.ID,
		Name:       def.Name,
		Category:   strings.ToUpper(def.Category),
		ActionType: strings.ToUpper(def.Action.Type),
		Priority:   def.Priority,
		IsActive:   def.IsActive,
		ValidFrom:  def.ValidFrom,
		ValidUntil: def.ValidUntil,
	}

	var err error
	if rec.Conditions, err = encodeJSON(def.Conditions); err != nil {
		return rec, fmt.Errorf("conditions: %w", err)
	}
	if rec.ActionValue, err = encodeJSON(def.Action.Value); err != nil {
		return rec, fmt.Errorf("action value: %w", err)
	}
	if rec.ActionMetadata, err = encodeJSON(def.Action.Metadata); err != nil {
		return rec, fmt.Errorf("action metadata: %w", err)
	}
	return rec, nil
}

// decodeJSON keeps numbers as json.Number so money values stay exact
func decodeJSON(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func encodeJSON(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
