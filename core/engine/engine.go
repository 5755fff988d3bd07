// Package engine provides the pricing pipeline runner.
// HTTP, websocket and CLI surfaces are thin wrappers around this engine.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bundle-pricing/core/rules"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// RoundingMode selects the final psychological rounding stage
type RoundingMode string

const (
	// RoundingNone leaves the price as computed
	RoundingNone RoundingMode = "none"
	// RoundingNearest99 moves the price to the nearest x.99
	RoundingNearest99 RoundingMode = "nearest_99"
)

// Config configures the pricing engine
type Config struct {
	// Strict fails the calculation on unknown action types
	Strict bool

	// Rounding is the final rounding stage
	Rounding RoundingMode

	// Currency labels every breakdown
	Currency types.Currency

	// DefaultStrategyID is used when a run names no strategy.
	// Empty means the source's default strategy.
	DefaultStrategyID string

	// Logger defaults to the global logger
	Logger *zap.Logger

	// Clock supplies the evaluation time. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// Engine runs pricing strategies against request facts.
// An Engine is safe for concurrent use; each run owns its own PriceState.
type Engine struct {
	strategies *StrategyLoader
	catalog    BundleCatalog
	config     Config
	logger     *zap.Logger
}

// NewEngine creates a new pricing engine
func NewEngine(strategies StrategySource, catalog BundleCatalog, config Config) *Engine {
	if config.Rounding == "" {
		config.Rounding = RoundingNone
	}
	if config.Currency == "" {
		config.Currency = types.CurrencyUSD
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		strategies: NewStrategyLoader(strategies),
		catalog:    catalog,
		config:     config,
		logger:     logging.Component(config.Logger, "engine"),
	}
}

// RunOptions tune a single run
type RunOptions struct {
	// StrategyID overrides the configured strategy
	StrategyID string

	// Strict fails the run on unknown action types
	Strict bool

	// CorrelationID is stamped on every envelope sent to Sink
	CorrelationID string

	// Sink receives step envelopes as they are produced
	Sink StepSink
}

// Calculate prices facts and returns the breakdown
func (e *Engine) Calculate(ctx context.Context, facts types.RequestFacts) (*types.PricingBreakdown, error) {
	return e.Run(ctx, facts, RunOptions{})
}

// StreamCalculate prices facts and calls onStep once per step and once
// more with IsComplete set.
func (e *Engine) StreamCalculate(
	ctx context.Context,
	facts types.RequestFacts,
	correlationID string,
	onStep func(types.StepEnvelope),
) (*types.PricingBreakdown, error) {
	var sink StepSink = discardSink{}
	if onStep != nil {
		sink = SinkFunc(onStep)
	}
	return e.Run(ctx, facts, RunOptions{CorrelationID: correlationID, Sink: sink})
}

// Run is the full form of Calculate.
// Only ValidationError, strategy and catalog failures are returned; rule
// failures are recorded in the breakdown.
func (e *Engine) Run(ctx context.Context, facts types.RequestFacts, opts RunOptions) (*types.PricingBreakdown, error) {
	r := &run{
		engine: e,
		facts:  facts,
		opts:   opts,
		strict: e.config.Strict || opts.Strict,
		sink:   opts.Sink,
		logger: e.logger,
	}
	if r.sink == nil {
		r.sink = discardSink{}
	}
	if opts.CorrelationID != "" {
		r.logger = r.logger.With(logging.CorrelationID(opts.CorrelationID))
	}

	bd, err := r.execute(ctx)
	if err != nil {
		r.emit(types.StepEnvelope{
			IsComplete:     true,
			TotalSteps:     len(r.steps),
			CompletedSteps: len(r.steps),
			Error:          err.Error(),
		})
		return nil, err
	}
	r.emit(types.StepEnvelope{
		IsComplete:     true,
		TotalSteps:     len(bd.PricingSteps),
		CompletedSteps: len(bd.PricingSteps),
		FinalBreakdown: bd,
	})
	return bd, nil
}

// run holds the state of one calculation
type run struct {
	engine *Engine
	facts  types.RequestFacts
	opts   RunOptions
	strict bool
	sink   StepSink
	logger *zap.Logger

	now     time.Time
	state   types.PriceState
	total   int
	steps   []types.PricingStep
	applied []types.AppliedRule
	skipped []types.SkippedRule
	debug   map[string]interface{}
}

func (r *run) execute(ctx context.Context) (*types.PricingBreakdown, error) {
	if err := Validate(r.facts); err != nil {
		return nil, err
	}

	strategyID := r.opts.StrategyID
	if strategyID == "" {
		strategyID = r.engine.config.DefaultStrategyID
	}
	strategy, err := r.engine.strategies.Load(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	lookupKey := r.facts.Region
	if lookupKey == "" {
		lookupKey = r.facts.PrimaryCountry()
	}
	bundle, err := r.engine.catalog.Lookup(ctx, lookupKey, r.facts.ValidityDays)
	if err != nil {
		if errors.TypeOf(err) != "" {
			return nil, err
		}
		return nil, errors.Wrapf(errors.TypeNotFound, err, "bundle lookup failed for %s/%dd", lookupKey, r.facts.ValidityDays)
	}
	if bundle == nil {
		return nil, errors.NotFound("bundle", fmt.Sprintf("%s/%dd", lookupKey, r.facts.ValidityDays))
	}

	// ctx is not consulted past this point: a started calculation
	// always runs to completion.
	r.now = r.engine.config.Clock()
	r.state = rules.Settle(types.NewPriceState(bundle.BaseCost))
	r.debug = map[string]interface{}{
		"strategyCode": strategy.Code,
		"lookupKey":    lookupKey,
	}
	facts := rules.NewFactSet(r.facts, &bundle.BaseCost)

	plan := r.plan(strategy, facts)
	r.total = r.plannedSteps(plan)
	r.debug["eligibleBlocks"] = len(plan)

	for _, sb := range plan {
		if err := r.apply(sb, facts); err != nil {
			return nil, err
		}
	}

	r.round()

	if r.state.ConstraintBinding {
		r.logger.Debug("price floor is binding",
			zap.Error(errors.New(errors.TypeConstraintViolation, "discounts pushed the price below an active floor")),
			zap.String("price", r.state.PriceAfterDiscount.String()),
		)
	}

	return r.breakdown(strategy, bundle), nil
}

// plan returns the eligible blocks in execution order: formula phase
// first, then strategy priority descending, then list order.
func (r *run) plan(strategy *types.PricingStrategy, facts rules.FactSet) []types.StrategyBlock {
	eligible := make([]types.StrategyBlock, 0, len(strategy.Blocks))
	for _, sb := range strategy.Blocks {
		if reason, errMsg := r.eligibility(sb, facts); reason != "" {
			r.skip(sb, reason, errMsg)
			continue
		}
		eligible = append(eligible, sb)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := phaseOf(eligible[i]), phaseOf(eligible[j])
		if pi != pj {
			return pi < pj
		}
		return eligible[i].Priority > eligible[j].Priority
	})
	return eligible
}

// plannedSteps counts the blocks that will record a step. Outside strict
// mode an unknown action is skipped without one, so the streamed total
// never shrinks mid-run.
func (r *run) plannedSteps(plan []types.StrategyBlock) int {
	n := 0
	for _, sb := range plan {
		if _, unknown := sb.Block.Action.(types.UnknownAction); unknown && !r.strict {
			continue
		}
		n++
	}
	return n
}

func phaseOf(sb types.StrategyBlock) types.Phase {
	if sb.Block.Action == nil {
		return types.PhaseUnknown
	}
	return sb.Block.Action.Type().Phase()
}

func (r *run) eligibility(sb types.StrategyBlock, facts rules.FactSet) (reason types.SkipReason, errMsg string) {
	defer func() {
		if p := recover(); p != nil {
			reason, errMsg = types.SkipError, fmt.Sprintf("panic evaluating conditions: %v", p)
			r.logger.Error("condition evaluation panicked",
				logging.RuleID(sb.Block.ID), zap.Any("panic", p))
		}
	}()

	switch {
	case !sb.IsEnabled:
		return types.SkipDisabled, ""
	case !sb.Block.IsActive:
		return types.SkipInactive, ""
	case !sb.Block.ActiveAt(r.now):
		return types.SkipOutsideWindow, ""
	case !rules.EvaluateAll(sb.Block.Conditions, facts):
		return types.SkipConditions, ""
	}
	return "", ""
}

// apply runs one block. Block failures are recorded and absorbed; only
// strict-mode unknown actions abort the run.
func (r *run) apply(sb types.StrategyBlock, facts rules.FactSet) (fatal error) {
	block := sb.Block
	before := r.state

	next, outcome, err := safeApply(block.Action, before, facts)
	if err != nil {
		if stderrors.Is(err, rules.ErrUnknownAction) {
			if r.strict {
				return errors.RuleEvaluation(block.ID, err).WithContext("strict", true)
			}
			r.logger.Warn("unknown action type ignored",
				logging.RuleID(block.ID), zap.Error(err))
			r.skip(sb, types.SkipUnknownAction, err.Error())
			return nil
		}

		ruleErr := errors.RuleEvaluation(block.ID, err)
		r.logger.Warn("pricing block failed", logging.RuleID(block.ID), zap.Error(ruleErr))
		r.skip(sb, types.SkipError, ruleErr.Error())
		r.record(types.PricingStep{
			Name:        block.Name,
			Status:      types.StepFailed,
			RuleID:      block.ID,
			Category:    block.Category,
			ActionType:  actionTypeOf(block.Action),
			PriceBefore: before.FinalPrice,
			PriceAfter:  before.FinalPrice,
			Impact:      decimal.Zero,
			Metadata:    map[string]interface{}{"error": ruleErr.Error()},
		})
		return nil
	}

	r.state = next
	step := types.PricingStep{
		Name:        block.Name,
		Status:      types.StepApplied,
		RuleID:      block.ID,
		Category:    block.Category,
		ActionType:  block.Action.Type(),
		PriceBefore: before.FinalPrice,
		PriceAfter:  next.FinalPrice,
		Impact:      next.FinalPrice.Sub(before.FinalPrice),
		Metadata:    stepMetadata(block.Action, outcome),
	}
	r.applied = append(r.applied, types.AppliedRule{
		RuleID:     block.ID,
		Name:       block.Name,
		Category:   block.Category,
		ActionType: step.ActionType,
		Impact:     step.Impact,
	})
	r.record(step)
	return nil
}

func safeApply(action types.RuleAction, state types.PriceState, facts rules.FactSet) (next types.PriceState, out rules.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			next, err = state, fmt.Errorf("panic applying action: %v", p)
		}
	}()
	if action == nil {
		return state, out, fmt.Errorf("block has no action")
	}
	return rules.ApplyAction(action, state, facts)
}

// round runs the configured rounding stage
func (r *run) round() {
	if r.engine.config.Rounding != RoundingNearest99 {
		return
	}
	before := r.state
	next, result := rules.RoundToNinetyNine(before)
	if !result.Applied {
		r.debug["roundingSkipped"] = result.SkipReason
		return
	}
	r.state = next
	r.total++
	r.record(types.PricingStep{
		Name:        "Round to .99",
		Status:      types.StepRounded,
		RuleID:      "rounding:" + string(RoundingNearest99),
		PriceBefore: before.FinalPrice,
		PriceAfter:  next.FinalPrice,
		Impact:      next.FinalPrice.Sub(before.FinalPrice),
		Metadata: map[string]interface{}{
			"adjustment": next.RoundingAdjustment.String(),
		},
	})
}

// record stamps and appends a step, then emits it immediately
func (r *run) record(step types.PricingStep) {
	step.Order = len(r.steps) + 1
	step.Timestamp = r.now
	r.steps = append(r.steps, step)

	r.emit(types.StepEnvelope{
		Step:           &step,
		TotalSteps:     r.total,
		CompletedSteps: len(r.steps),
	})
}

func (r *run) skip(sb types.StrategyBlock, reason types.SkipReason, errMsg string) {
	r.skipped = append(r.skipped, types.SkippedRule{
		RuleID: sb.Block.ID,
		Name:   sb.Block.Name,
		Reason: reason,
		Error:  errMsg,
	})
}

// emit delivers to the sink; a misbehaving sink never breaks the run
func (r *run) emit(env types.StepEnvelope) {
	env.CorrelationID = r.opts.CorrelationID
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("step sink panicked", zap.Any("panic", p))
		}
	}()
	r.sink.Emit(env)
}

func (r *run) breakdown(strategy *types.PricingStrategy, bundle *types.BundleInfo) *types.PricingBreakdown {
	days := bundle.ValidityDays
	if days == 0 {
		days = r.facts.ValidityDays
	}

	bd := &types.PricingBreakdown{
		PriceState:      r.state,
		BundleID:        r.facts.BundleID,
		BundleName:      bundle.BundleName,
		Provider:        bundle.Provider,
		ValidityDays:    days,
		Countries:       r.facts.SortedCountries(),
		Region:          r.facts.Region,
		Currency:        r.engine.config.Currency,
		StrategyID:      strategy.ID,
		StrategyVersion: strategy.Version,
		AppliedRules:    r.applied,
		SkippedRules:    r.skipped,
		PricingSteps:    r.steps,
		Debug:           r.debug,
		CalculatedAt:    r.now,
	}
	if bd.AppliedRules == nil {
		bd.AppliedRules = []types.AppliedRule{}
	}
	if bd.SkippedRules == nil {
		bd.SkippedRules = []types.SkippedRule{}
	}
	if bd.PricingSteps == nil {
		bd.PricingSteps = []types.PricingStep{}
	}
	return bd
}

func stepMetadata(action types.RuleAction, outcome rules.Outcome) map[string]interface{} {
	meta := make(map[string]interface{}, len(action.Meta())+len(outcome.Metadata)+1)
	for k, v := range action.Meta() {
		meta[k] = v
	}
	for k, v := range outcome.Metadata {
		meta[k] = v
	}
	meta["phase"] = int(action.Type().Phase())
	return meta
}

func actionTypeOf(action types.RuleAction) types.ActionType {
	if action == nil {
		return ""
	}
	return action.Type()
}
