// Package orchestrator implements per-strategy condition combination
// and triggering (C5): runs every condition through the evaluator,
// combines the results via the strategy's condition_logic, and fires
// the ACTIVE->TRIGGERED transition when the combined verdict is true.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/evaluator"
	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/market"
	"github.com/ibx/engine/internal/marketcache"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/metrics"
	"github.com/ibx/engine/internal/rules"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/logger"
)

const (
	lookbackBuffer   = 3
	minMonitorPeriod = 20 * time.Second
	maxMonitorPeriod = 300 * time.Second
)

// Outcome mirrors the reference implementation's decision labels —
// consumers (logging, the scheduler's run record) branch on these.
const (
	OutcomeNoConditions  = "no_conditions_configured"
	OutcomeConfigInvalid = "condition_config_invalid"
	OutcomeWaiting       = "waiting_for_market_data"
	OutcomeGatewayDown   = "gateway_not_work"
	OutcomeEvaluated     = "evaluated"
)

type Decision struct {
	Outcome        string
	ConditionMet   bool
	DecisionReason string
	TriggerEventID string
}

type Orchestrator struct {
	store           store.Store
	cache           *marketcache.Cache
	rules           *rules.Rules
	prices          *marketcache.LastPriceTracker
	monitorInterval time.Duration

	gatewayNotWorkThrottle       time.Duration
	waitingForMarketDataThrottle time.Duration
}

func New(st store.Store, cache *marketcache.Cache, rs *rules.Rules, prices *marketcache.LastPriceTracker, monitorInterval time.Duration) *Orchestrator {
	return &Orchestrator{
		store:           st,
		cache:           cache,
		rules:           rs,
		prices:          prices,
		monitorInterval: clampMonitorInterval(monitorInterval),

		gatewayNotWorkThrottle:       300 * time.Second,
		waitingForMarketDataThrottle: 120 * time.Second,
	}
}

// WithEventThrottles overrides the default GATEWAY_NOT_WORK/
// WAITING_FOR_MARKET_DATA throttle windows; a non-positive value leaves
// the corresponding default in place.
func (o *Orchestrator) WithEventThrottles(gatewayNotWork, waitingForMarketData time.Duration) *Orchestrator {
	if gatewayNotWork > 0 {
		o.gatewayNotWorkThrottle = gatewayNotWork
	}
	if waitingForMarketData > 0 {
		o.waitingForMarketDataThrottle = waitingForMarketData
	}
	return o
}

func clampMonitorInterval(d time.Duration) time.Duration {
	if d < minMonitorPeriod {
		logger.Warn("monitor interval %s below floor, clamping to %s", d, minMonitorPeriod)
		return minMonitorPeriod
	}
	if d > maxMonitorPeriod {
		logger.Warn("monitor interval %s above ceiling, clamping to %s", d, maxMonitorPeriod)
		return maxMonitorPeriod
	}
	return d
}

// EvaluateStrategy runs one full evaluation pass over an ACTIVE
// strategy, persists the run record, and transitions the strategy to
// TRIGGERED when its conditions fire.
func (o *Orchestrator) EvaluateStrategy(ctx context.Context, detail models.StrategyDetail, now time.Time) (Decision, error) {
	if len(detail.Conditions) == 0 {
		return o.finish(ctx, detail, now, Decision{
			Outcome:        OutcomeNoConditions,
			DecisionReason: OutcomeNoConditions,
		})
	}

	prepared := make([]evaluator.Prepared, 0, len(detail.Conditions))
	for _, cond := range detail.Conditions {
		p, err := evaluator.Prepare(cond, o.rules)
		if err != nil {
			return o.finish(ctx, detail, now, Decision{
				Outcome:        OutcomeConfigInvalid,
				DecisionReason: OutcomeConfigInvalid,
			})
		}
		prepared = append(prepared, p)
	}

	runtime, err := o.store.GetRuntimeState(ctx, detail.Strategy.ID)
	if err != nil {
		return Decision{}, err
	}

	var results []bool
	hasWaiting := false
	for i, p := range prepared {
		input, err := o.buildInput(ctx, detail.Strategy, p, runtime)
		if err != nil {
			if apperr.Is(err, apperr.CodeGatewayUnavailable) {
				return o.finish(ctx, detail, now, Decision{
					Outcome:        OutcomeGatewayDown,
					DecisionReason: OutcomeGatewayDown,
				})
			}
			return Decision{}, err
		}
		result := evaluator.Evaluate(p, input)
		metrics.ConditionsEvaluated.WithLabelValues(result.State).Inc()
		logger.Info("condition evaluate strategy=%s condition_id=%s state=%s reason=%s",
			detail.Strategy.ID, detail.Conditions[i].ConditionID, result.State, result.Reason)
		if result.State == evaluator.StateWaiting {
			hasWaiting = true
			continue
		}
		results = append(results, result.State == evaluator.StateTrue)
	}

	logic := detail.Strategy.ConditionLogic
	anyFalse := anyFalse(results)
	anyTrue := anyTrue(results)

	switch {
	case logic == models.ConditionLogicAnd && anyFalse:
		return o.finish(ctx, detail, now, Decision{Outcome: OutcomeEvaluated, DecisionReason: "conditions_not_met"})
	case logic != models.ConditionLogicAnd && anyTrue:
		return o.finish(ctx, detail, now, Decision{Outcome: OutcomeEvaluated, ConditionMet: true, DecisionReason: "conditions_met"})
	case hasWaiting:
		return o.finish(ctx, detail, now, Decision{Outcome: OutcomeWaiting, DecisionReason: OutcomeWaiting})
	}

	conditionMet := anyTrue
	if logic == models.ConditionLogicAnd {
		conditionMet = !anyFalse && len(results) > 0
	}
	reason := "conditions_not_met"
	if conditionMet {
		reason = "conditions_met"
	}
	return o.finish(ctx, detail, now, Decision{Outcome: OutcomeEvaluated, ConditionMet: conditionMet, DecisionReason: reason})
}

func anyFalse(results []bool) bool {
	for _, r := range results {
		if !r {
			return true
		}
	}
	return false
}

func anyTrue(results []bool) bool {
	for _, r := range results {
		if r {
			return true
		}
	}
	return false
}

// buildInput loads the bar window each prepared condition's products
// need and folds in the since-activation extrema state.
func (o *Orchestrator) buildInput(ctx context.Context, strat models.Strategy, p evaluator.Prepared, runtime models.StrategyRuntimeState) (evaluator.Input, error) {
	values := map[string][]decimal.Decimal{}
	for _, productReq := range p.Requirement.Products {
		key := market.ContractKeyFor(strat, productReq.Product)
		barSize := market.BarSizeForWindow(productReq.BaseBar)
		span := marketcache.BarDuration(barSize) * time.Duration(productReq.RequiredPoints+lookbackBuffer)
		end := time.Now().UTC()
		start := end.Add(-span)
		bars, _, err := o.cache.GetHistoricalBars(ctx, marketcache.Request{
			Contract:   key,
			Start:      start,
			End:        end,
			BarSize:    barSize,
			WhatToShow: gateway.ShowTrades,
			MaxBars:    productReq.RequiredPoints + lookbackBuffer,
		})
		if err != nil {
			return evaluator.Input{}, err
		}
		if o.prices != nil {
			o.prices.Observe(key, bars)
		}
		series := make([]decimal.Decimal, 0, len(bars))
		for _, b := range bars {
			series = append(series, barValueForMetric(p.Metric, p.WindowPriceBasis, b))
		}
		values[productReq.Product] = series
	}

	state := evaluator.StateValues{}
	if !runtime.SinceActivationHigh.IsZero() {
		high := runtime.SinceActivationHigh
		state.SinceActivationHigh = &high
	}
	if !runtime.SinceActivationLow.IsZero() {
		low := runtime.SinceActivationLow
		state.SinceActivationLow = &low
	}
	return evaluator.Input{ValuesByProduct: values, State: state}, nil
}

// barPriceForBasis resolves a single bar's price per window_price_basis:
// HIGH/LOW read the bar's high/low, AVG is the OHLC average (no WAP
// field on this bar shape), anything else (including the CLOSE
// default) reads close.
func barPriceForBasis(basis string, b models.Bar) decimal.Decimal {
	switch basis {
	case "HIGH":
		return b.High
	case "LOW":
		return b.Low
	case "AVG":
		four := decimal.NewFromInt(4)
		return b.Open.Add(b.High).Add(b.Low).Add(b.Close).Div(four)
	default:
		return b.Close
	}
}

// barValueForMetric resolves a single bar's contribution to a
// condition's observed series: PRICE/DRAWDOWN_PCT/RALLY_PCT/SPREAD read
// a price per window_price_basis, VOLUME_RATIO reads raw volume, and
// AMOUNT_RATIO reads volume*price (notional turnover) — never a price
// ratio, since the two sides of those metrics are meant to compare
// trade flow, not price level.
func barValueForMetric(metric, basis string, b models.Bar) decimal.Decimal {
	switch metric {
	case "VOLUME_RATIO":
		return b.Volume
	case "AMOUNT_RATIO":
		return b.Volume.Mul(barPriceForBasis(basis, b))
	default:
		return barPriceForBasis(basis, b)
	}
}

// finish persists the run record and, on a true verdict, fires the
// ACTIVE->TRIGGERED transition.
func (o *Orchestrator) finish(ctx context.Context, detail models.StrategyDetail, now time.Time, decision Decision) (Decision, error) {
	prior, found, err := o.store.GetStrategyRun(ctx, detail.Strategy.ID)
	if err != nil {
		return Decision{}, err
	}
	firstEvaluatedAt := now
	runCount := 1
	gatewayNotWorkEventAt := prior.GatewayNotWorkEventAt
	waitingForMarketDataEventAt := prior.WaitingForMarketDataEventAt
	if found {
		firstEvaluatedAt = prior.FirstEvaluatedAt
		runCount = prior.RunCount + 1
	}

	outcomeChanged := !found || prior.DecisionReason != decision.DecisionReason
	switch decision.Outcome {
	case OutcomeGatewayDown:
		if outcomeChanged || o.shouldEmitThrottled(gatewayNotWorkEventAt, now, o.gatewayNotWorkThrottle) {
			if err := o.store.AppendEvent(ctx, detail.Strategy.ID, "GATEWAY_NOT_WORK", "gateway unavailable, skipping this scan"); err != nil {
				return Decision{}, err
			}
			gatewayNotWorkEventAt = &now
		}
	case OutcomeWaiting:
		if outcomeChanged || o.shouldEmitThrottled(waitingForMarketDataEventAt, now, o.waitingForMarketDataThrottle) {
			if err := o.store.AppendEvent(ctx, detail.Strategy.ID, "WAITING_FOR_MARKET_DATA", "market data not ready, skipping this scan"); err != nil {
				return Decision{}, err
			}
			waitingForMarketDataEventAt = &now
		}
	}

	if decision.ConditionMet {
		decision.TriggerEventID = uuid.New().String()
		if err := o.store.Transition(ctx, store.TransitionRequest{
			StrategyID:      detail.Strategy.ID,
			From:            models.StatusActive,
			To:              models.StatusTriggered,
			ExpectedVersion: detail.Strategy.Version,
			EventType:       "TRIGGERED",
			EventDetail:     decision.DecisionReason,
		}); err != nil {
			return Decision{}, err
		}
	}

	run := models.StrategyRun{
		StrategyID:                  detail.Strategy.ID,
		FirstEvaluatedAt:            firstEvaluatedAt,
		EvaluatedAt:                 now,
		SuggestedNextMonitorAt:      now.Add(o.monitorInterval),
		ConditionMet:                decision.ConditionMet,
		DecisionReason:              decision.DecisionReason,
		RunCount:                    runCount,
		GatewayNotWorkEventAt:       gatewayNotWorkEventAt,
		WaitingForMarketDataEventAt: waitingForMarketDataEventAt,
	}
	if err := o.store.PutStrategyRun(ctx, run); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// shouldEmitThrottled reports whether enough of the throttle window has
// elapsed since lastEmittedAt to append another low-signal event; a nil
// lastEmittedAt (never emitted) always permits emission.
func (o *Orchestrator) shouldEmitThrottled(lastEmittedAt *time.Time, now time.Time, throttle time.Duration) bool {
	if lastEmittedAt == nil {
		return true
	}
	return now.Sub(*lastEmittedAt) >= throttle
}
