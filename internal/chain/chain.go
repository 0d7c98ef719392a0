// Package chain implements strategy activation (C6): the
// PENDING_ACTIVATION -> VERIFYING -> ACTIVE sequence every strategy
// goes through, whether triggered manually or by an upstream
// strategy's fill. Downstream activation is guarded by an
// at-most-once insert keyed on (trigger_event_id, to_strategy_id), so
// a retried trigger can never double-activate the same chain link.
package chain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/market"
	"github.com/ibx/engine/internal/marketcache"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/internal/verifier"
	"github.com/ibx/engine/pkg/apperr"
)

type Activator struct {
	store    store.Store
	verifier *verifier.Verifier
	cache    *marketcache.Cache
	gateway  gateway.Client
}

func New(st store.Store, v *verifier.Verifier, cache *marketcache.Cache, gw gateway.Client) *Activator {
	return &Activator{store: st, verifier: v, cache: cache, gateway: gw}
}

// Activate runs the manual/initial activation path: logical and
// physical activation time are the same instant.
func (a *Activator) Activate(ctx context.Context, strategyID string, now time.Time) error {
	return a.activate(ctx, strategyID, now, now, store.EligibleForActivate)
}

// anchorSnapshot is the shape chain.go writes into and reads back from
// StrategyRuntimeState.MarketSnapshotJSON — the anchor price the
// downstream strategy's extrema tracking starts from.
type anchorSnapshot struct {
	AnchorPrice decimal.Decimal `json:"anchor_price"`
}

// ActivateDownstream is called once an upstream strategy fires: it
// inserts the activation guard row and, if this is the first time this
// trigger has reached this downstream strategy, activates it with
// logical_activated_at pinned to the trigger's effective time even
// though the physical activation happens later (now).
func (a *Activator) ActivateDownstream(ctx context.Context, from models.StrategyDetail, triggerEventID string, effectiveActivatedAt time.Time, anchorPrice decimal.Decimal) error {
	if from.Strategy.NextStrategyID == nil {
		return nil
	}
	nextID := *from.Strategy.NextStrategyID

	snapshot, err := json.Marshal(anchorSnapshot{AnchorPrice: anchorPrice})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "marshal anchor snapshot")
	}

	inserted, err := a.store.InsertActivation(ctx, models.ActivationEvent{
		FromStrategyID:       from.Strategy.ID,
		ToStrategyID:         nextID,
		TriggerEventID:       triggerEventID,
		EffectiveActivatedAt: effectiveActivatedAt,
		MarketSnapshotJSON:   snapshot,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	now := time.Now().UTC()
	if err := a.activate(ctx, nextID, now, effectiveActivatedAt, store.EligibleForDownstreamActivate); err != nil {
		return err
	}

	// Extrema back-fill: when the engine only gets around to processing
	// the activation after the logical trigger instant, the downstream
	// strategy's high/low tracking must still reflect whatever the
	// market actually did between the logical trigger and the physical
	// activation, not just the anchor snapshot taken at the trigger
	// instant — replay C1's bars over that gap and fold max/min into the
	// anchor price.
	high, low := a.backfillExtrema(ctx, nextID, effectiveActivatedAt, now, anchorPrice)

	return a.store.PutRuntimeState(ctx, models.StrategyRuntimeState{
		StrategyID:          nextID,
		SinceActivationHigh: high,
		SinceActivationLow:  low,
		AnchorPrice:         &anchorPrice,
		MarketSnapshotJSON:  snapshot,
	})
}

// backfillExtrema folds max/min over the bars observed for a
// strategy's primary symbol in [start, end], seeded with anchorPrice so
// a strategy with no symbols, no cache, or no bars in range still gets
// a sane (flat) extrema pair.
func (a *Activator) backfillExtrema(ctx context.Context, strategyID string, start, end time.Time, anchorPrice decimal.Decimal) (high, low decimal.Decimal) {
	high, low = anchorPrice, anchorPrice
	if a.cache == nil || !end.After(start) {
		return high, low
	}
	detail, err := a.store.Get(ctx, strategyID)
	if err != nil || len(detail.Symbols) == 0 {
		return high, low
	}
	contract := market.ContractKeyFor(detail.Strategy, detail.Symbols[0].Symbol)
	bars, _, err := a.cache.GetHistoricalBars(ctx, marketcache.Request{
		Contract:   contract,
		Start:      start,
		End:        end,
		BarSize:    "1m",
		WhatToShow: gateway.ShowTrades,
	})
	if err != nil {
		return high, low
	}
	for _, b := range bars {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}
	return high, low
}

func (a *Activator) activate(ctx context.Context, strategyID string, now, logicalActivatedAt time.Time, eligible func(models.StrategyDetail) bool) error {
	detail, err := a.store.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	if detail.Strategy.Status != models.StatusPendingActivation {
		return apperr.New(apperr.CodeInvalidTransition, "strategy is not pending activation")
	}
	if !eligible(detail) {
		return apperr.New(apperr.CodeInvalidTransition, "strategy does not meet activation eligibility")
	}

	if err := a.store.Transition(ctx, store.TransitionRequest{
		StrategyID:      strategyID,
		From:            models.StatusPendingActivation,
		To:              models.StatusVerifying,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "VERIFYING",
		EventDetail:     "activation eligibility confirmed",
	}); err != nil {
		return err
	}

	detail, err = a.store.Get(ctx, strategyID)
	if err != nil {
		return err
	}

	if snapshotOK, reason, err := store.ResolveActivation(ctx, a.gateway, detail); err != nil {
		return err
	} else if !snapshotOK {
		return a.store.Transition(ctx, store.TransitionRequest{
			StrategyID:      strategyID,
			From:            models.StatusVerifying,
			To:              models.StatusVerifyFailed,
			ExpectedVersion: detail.Strategy.Version,
			EventType:       "VERIFY_FAILED",
			EventDetail:     reason,
		})
	}

	passed, reason, err := a.verifier.Verify(ctx, detail, "")
	if err != nil {
		return err
	}
	if !passed {
		return a.store.Transition(ctx, store.TransitionRequest{
			StrategyID:      strategyID,
			From:            models.StatusVerifying,
			To:              models.StatusVerifyFailed,
			ExpectedVersion: detail.Strategy.Version,
			EventType:       "VERIFY_FAILED",
			EventDetail:     reason,
		})
	}

	mutations := map[string]any{
		"activated_at":         now,
		"logical_activated_at": logicalActivatedAt,
	}
	if detail.Strategy.ExpireMode == models.ExpireModeRelative && detail.Strategy.ExpireInSeconds != nil {
		mutations["expire_at"] = now.Add(time.Duration(*detail.Strategy.ExpireInSeconds) * time.Second)
	}

	return a.store.Transition(ctx, store.TransitionRequest{
		StrategyID:      strategyID,
		From:            models.StatusVerifying,
		To:              models.StatusActive,
		ExpectedVersion: detail.Strategy.Version,
		Mutations:       mutations,
		EventType:       "ACTIVATED",
		EventDetail:     "verification passed",
	})
}
