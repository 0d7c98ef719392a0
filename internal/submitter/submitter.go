// Package submitter implements order submission (C8): turns a
// TRIGGERED strategy into a live order (or, for a pure chain gate with
// no trade_action, straight into FILLED), tracks fills from the
// gateway's status stream, and hands off to chain activation once the
// trade is complete. FUT_ROLL actions submit a close leg and an open
// leg under one trade_id, sequenced close-then-open.
package submitter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/alerts"
	"github.com/ibx/engine/internal/chain"
	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/market"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/metrics"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/internal/verifier"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/logger"
)

// PriceSource resolves the anchor price handed to the downstream chain
// link when this strategy completes.
type PriceSource interface {
	LastPrice(contract models.ContractKey) (decimal.Decimal, bool)
}

// pendingOpenLeg is a FUT_ROLL's open leg, held back until the close
// leg's fill confirms — submitting it any earlier would leave the
// account double-exposed if the close leg never actually fills.
type pendingOpenLeg struct {
	strategyID     string
	tradeID        string
	leg            leg
	orderType      string
	limitPrice     *decimal.Decimal
	allowOvernight bool
}

type Submitter struct {
	store    store.Store
	gw       gateway.Client
	verifier *verifier.Verifier
	chain    *chain.Activator
	prices   PriceSource
	alerts   alerts.Notifier

	mu           sync.Mutex
	pendingOpens map[string]pendingOpenLeg // keyed by trade_id
}

func New(st store.Store, gw gateway.Client, v *verifier.Verifier, ch *chain.Activator, prices PriceSource, notifier alerts.Notifier) *Submitter {
	return &Submitter{
		store: st, gw: gw, verifier: v, chain: ch, prices: prices, alerts: notifier,
		pendingOpens: make(map[string]pendingOpenLeg),
	}
}

// HandleTriggered is called once a strategy has moved to TRIGGERED. It
// either completes immediately (no trade_action) or re-verifies and
// submits the order.
func (s *Submitter) HandleTriggered(ctx context.Context, detail models.StrategyDetail, now time.Time) error {
	if detail.Action == nil {
		return s.complete(ctx, detail, now)
	}

	tradeID := "T-" + uuid.New().String()[:8]
	passed, reason, err := s.verifier.Verify(ctx, detail, tradeID)
	if err != nil {
		return err
	}
	if !passed {
		return s.store.Transition(ctx, store.TransitionRequest{
			StrategyID:      detail.Strategy.ID,
			From:            models.StatusTriggered,
			To:              models.StatusFailed,
			ExpectedVersion: detail.Strategy.Version,
			EventType:       "FAILED",
			EventDetail:     reason,
		})
	}

	legs, err := s.buildLegs(detail)
	if err != nil {
		return err
	}

	if err := s.store.InsertTradeInstruction(ctx, models.TradeInstruction{
		TradeID:            tradeID,
		StrategyID:         detail.Strategy.ID,
		InstructionSummary: instructionSummary(detail, legs),
		Status:             models.TradeInstructionPending,
		ExpireAt:           detail.Strategy.ExpireAt,
	}); err != nil {
		return err
	}

	// FUT_ROLL submits close-then-open: only the close leg goes out now,
	// the open leg is held back until the close leg's fill confirms (see
	// handleStatusEvent). Any other action shape submits every leg here.
	submitNow := legs
	if len(legs) == 2 && legs[0].name == "close" && legs[1].name == "open" {
		submitNow = legs[:1]
		s.mu.Lock()
		s.pendingOpens[tradeID] = pendingOpenLeg{
			strategyID:     detail.Strategy.ID,
			tradeID:        tradeID,
			leg:            legs[1],
			orderType:      detail.Action.OrderType,
			limitPrice:     detail.Action.LimitPrice,
			allowOvernight: detail.Action.AllowOvernight,
		}
		s.mu.Unlock()
	}

	for _, leg := range submitNow {
		payload := gateway.OrderPayload{
			TradeID:        tradeID,
			Contract:       leg.contract,
			Side:           leg.side,
			OrderType:      detail.Action.OrderType,
			LimitPrice:     detail.Action.LimitPrice,
			Quantity:       leg.quantity,
			TIF:            "DAY",
			AllowOvernight: detail.Action.AllowOvernight,
		}
		gatewayOrderID, err := s.gw.SubmitOrder(ctx, payload)
		if err != nil {
			metrics.OrdersSubmitted.WithLabelValues("failed").Inc()
			logger.Error("order submission failed for strategy=%s trade=%s leg=%s: %v", detail.Strategy.ID, tradeID, leg.name, err)
			s.clearPendingOpen(tradeID)
			_ = s.store.UpdateTradeInstruction(ctx, models.TradeInstruction{TradeID: tradeID, StrategyID: detail.Strategy.ID, Status: models.TradeInstructionFailed})
			return s.store.Transition(ctx, store.TransitionRequest{
				StrategyID:      detail.Strategy.ID,
				From:            models.StatusTriggered,
				To:              models.StatusFailed,
				ExpectedVersion: detail.Strategy.Version,
				EventType:       "FAILED",
				EventDetail:     "order submission failed: " + err.Error(),
			})
		}
		if err := s.store.InsertOrder(ctx, models.Order{
			TradeID:        tradeID,
			StrategyID:     detail.Strategy.ID,
			Leg:            leg.name,
			GatewayOrderID: gatewayOrderID,
			Status:         models.OrderStatusSubmitted,
			Quantity:       leg.quantity,
		}); err != nil {
			return err
		}
		metrics.OrdersSubmitted.WithLabelValues("submitted").Inc()
	}

	if err := s.store.UpdateTradeInstruction(ctx, models.TradeInstruction{
		TradeID:    tradeID,
		StrategyID: detail.Strategy.ID,
		Status:     models.TradeInstructionActive,
	}); err != nil {
		return err
	}

	return s.store.Transition(ctx, store.TransitionRequest{
		StrategyID:      detail.Strategy.ID,
		From:            models.StatusTriggered,
		To:              models.StatusOrderSubmitted,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "ORDER_SUBMITTED",
		EventDetail:     tradeID,
	})
}

// RunFillListener drains the gateway's status stream until ctx is
// cancelled, updating orders and completing strategies as their trades
// fill.
func (s *Submitter) RunFillListener(ctx context.Context) error {
	events, err := s.gw.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleStatusEvent(ctx, ev)
		}
	}
}

// Reconcile applies a gateway status event outside the subscription
// stream — used by the boot-time recovery sweep to catch up on fills
// the engine missed while it was down.
func (s *Submitter) Reconcile(ctx context.Context, ev gateway.OrderStatusEvent) {
	s.handleStatusEvent(ctx, ev)
}

func (s *Submitter) handleStatusEvent(ctx context.Context, ev gateway.OrderStatusEvent) {
	orders, err := s.store.GetOrdersByTrade(ctx, ev.TradeID)
	if err != nil || len(orders) == 0 {
		return
	}
	strategyID := orders[0].StrategyID

	for i := range orders {
		if orders[i].GatewayOrderID != ev.GatewayOrderID {
			continue
		}
		orders[i].Status = ev.Status
		orders[i].FilledQty = ev.FilledQty
		orders[i].AvgFillPrice = ev.AvgFillPrice
		if err := s.store.UpdateOrder(ctx, orders[i]); err != nil {
			logger.Error("update order failed for trade=%s: %v", ev.TradeID, err)
			return
		}
		if err := s.store.InsertTradeLog(ctx, models.TradeLogEntry{
			StrategyID: strategyID, TradeID: ev.TradeID, Stage: "fill",
			Message: fmt.Sprintf("leg=%s status=%s filled=%s", orders[i].Leg, ev.Status, ev.FilledQty.String()),
		}); err != nil {
			logger.Error("trade log insert failed: %v", err)
		}
	}

	if closedLeg := s.filledCloseLeg(orders, ev); closedLeg != nil {
		s.submitGatedOpenLeg(ctx, ev.TradeID, strategyID)
		return
	}

	if !allLegsFilled(orders, ev) {
		return
	}

	if err := s.store.UpdateTradeInstruction(ctx, models.TradeInstruction{
		TradeID: ev.TradeID, StrategyID: strategyID, Status: models.TradeInstructionFilled,
	}); err != nil {
		logger.Error("update trade instruction failed: %v", err)
		return
	}

	detail, err := s.store.Get(ctx, strategyID)
	if err != nil {
		logger.Error("load strategy %s after fill failed: %v", strategyID, err)
		return
	}
	if detail.Strategy.Status != models.StatusOrderSubmitted {
		return
	}
	if err := s.store.Transition(ctx, store.TransitionRequest{
		StrategyID:      strategyID,
		From:            models.StatusOrderSubmitted,
		To:              models.StatusFilled,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "FILLED",
		EventDetail:     ev.TradeID,
	}); err != nil {
		logger.Error("transition to FILLED failed for %s: %v", strategyID, err)
		return
	}

	detail.Strategy.Version++
	if err := s.activateDownstream(ctx, detail, ev.TradeID, time.Now().UTC(), ev.AvgFillPrice); err != nil {
		logger.Error("downstream activation failed for %s: %v", strategyID, err)
	}
}

// filledCloseLeg reports whether ev just filled a FUT_ROLL's close leg
// whose open leg is still held back in pendingOpens, returning that
// order. Once the open leg has been submitted (or failed), the trade's
// pendingOpens entry is gone and every subsequent close-leg fill event
// (replays, reconcile) falls through to the ordinary allLegsFilled path.
func (s *Submitter) filledCloseLeg(orders []models.Order, ev gateway.OrderStatusEvent) *models.Order {
	if ev.Status != models.OrderStatusFilled {
		return nil
	}
	s.mu.Lock()
	_, pending := s.pendingOpens[ev.TradeID]
	s.mu.Unlock()
	if !pending {
		return nil
	}
	for i := range orders {
		if orders[i].GatewayOrderID == ev.GatewayOrderID && orders[i].Leg == "close" {
			return &orders[i]
		}
	}
	return nil
}

// submitGatedOpenLeg submits a FUT_ROLL's open leg now that its close
// leg has confirmed filled. A failure here leaves the account flat on
// the near contract with no replacement exposure, so the strategy is
// failed outright and an operator alert is raised rather than letting
// the trade silently stall in ORDER_SUBMITTED.
func (s *Submitter) submitGatedOpenLeg(ctx context.Context, tradeID, strategyID string) {
	s.mu.Lock()
	pending, ok := s.pendingOpens[tradeID]
	delete(s.pendingOpens, tradeID)
	s.mu.Unlock()
	if !ok {
		return
	}

	payload := gateway.OrderPayload{
		TradeID:        tradeID,
		Contract:       pending.leg.contract,
		Side:           pending.leg.side,
		OrderType:      pending.orderType,
		LimitPrice:     pending.limitPrice,
		Quantity:       pending.leg.quantity,
		TIF:            "DAY",
		AllowOvernight: pending.allowOvernight,
	}
	gatewayOrderID, err := s.gw.SubmitOrder(ctx, payload)
	if err != nil {
		metrics.OrdersSubmitted.WithLabelValues("failed").Inc()
		logger.Error("open leg submission failed for strategy=%s trade=%s: %v", strategyID, tradeID, err)
		_ = s.store.UpdateTradeInstruction(ctx, models.TradeInstruction{TradeID: tradeID, StrategyID: strategyID, Status: models.TradeInstructionFailed})
		if detail, getErr := s.store.Get(ctx, strategyID); getErr == nil {
			if tErr := s.store.Transition(ctx, store.TransitionRequest{
				StrategyID:      strategyID,
				From:            models.StatusOrderSubmitted,
				To:              models.StatusFailed,
				ExpectedVersion: detail.Strategy.Version,
				EventType:       "FAILED",
				EventDetail:     "open leg submission failed: " + err.Error(),
			}); tErr != nil {
				logger.Error("transition to FAILED failed for %s: %v", strategyID, tErr)
			}
		}
		if s.alerts != nil {
			s.alerts.Send(alerts.NakedRisk(strategyID, tradeID, err.Error()))
		}
		return
	}
	if err := s.store.InsertOrder(ctx, models.Order{
		TradeID:        tradeID,
		StrategyID:     strategyID,
		Leg:            pending.leg.name,
		GatewayOrderID: gatewayOrderID,
		Status:         models.OrderStatusSubmitted,
		Quantity:       pending.leg.quantity,
	}); err != nil {
		logger.Error("insert open leg order failed for strategy=%s trade=%s: %v", strategyID, tradeID, err)
		return
	}
	metrics.OrdersSubmitted.WithLabelValues("submitted").Inc()
}

func (s *Submitter) clearPendingOpen(tradeID string) {
	s.mu.Lock()
	delete(s.pendingOpens, tradeID)
	s.mu.Unlock()
}

func allLegsFilled(orders []models.Order, latest gateway.OrderStatusEvent) bool {
	if latest.Status != models.OrderStatusFilled {
		return false
	}
	for _, o := range orders {
		status := o.Status
		if o.GatewayOrderID == latest.GatewayOrderID {
			status = latest.Status
		}
		if status != models.OrderStatusFilled {
			return false
		}
	}
	return true
}

// complete handles a pure chain-gate strategy (no trade_action): the
// condition firing IS the trade, so it goes straight to FILLED.
func (s *Submitter) complete(ctx context.Context, detail models.StrategyDetail, now time.Time) error {
	if err := s.store.Transition(ctx, store.TransitionRequest{
		StrategyID:      detail.Strategy.ID,
		From:            models.StatusTriggered,
		To:              models.StatusFilled,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "FILLED",
		EventDetail:     "chain_gate",
	}); err != nil {
		return err
	}
	detail.Strategy.Version++

	var anchor *decimal.Decimal
	if s.prices != nil && len(detail.Symbols) > 0 {
		contract := market.ContractKeyFor(detail.Strategy, detail.Symbols[0].Symbol)
		if p, ok := s.prices.LastPrice(contract); ok {
			anchor = &p
		}
	}
	return s.activateDownstream(ctx, detail, "", now, anchor)
}

func (s *Submitter) activateDownstream(ctx context.Context, detail models.StrategyDetail, tradeID string, now time.Time, anchor *decimal.Decimal) error {
	if detail.Strategy.NextStrategyID == nil {
		return nil
	}
	triggerEventID := tradeID
	if triggerEventID == "" {
		triggerEventID = uuid.New().String()
	}
	price := decimal.Zero
	if anchor != nil {
		price = *anchor
	}
	return s.chain.ActivateDownstream(ctx, detail, triggerEventID, now, price)
}

type leg struct {
	name     string
	side     string
	contract models.ContractKey
	quantity decimal.Decimal
}

// buildLegs resolves a strategy's trade_action into one order (single
// leg) or two (FUT_ROLL: close the near contract, open the far one).
func (s *Submitter) buildLegs(detail models.StrategyDetail) ([]leg, error) {
	action := detail.Action
	primary, ok := primaryTradeSymbol(detail)
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidArgument, "strategy has a trade_action but no tradable symbol")
	}
	nearContract := market.ContractKeyFor(detail.Strategy, primary.Symbol)

	if action.FutRollTarget != nil {
		farContract := market.ContractKeyFor(detail.Strategy, *action.FutRollTarget)
		return []leg{
			{name: "close", side: sideFor(primary.TradeType, true), contract: nearContract, quantity: action.Quantity},
			{name: "open", side: sideFor(primary.TradeType, false), contract: farContract, quantity: action.Quantity},
		}, nil
	}
	return []leg{{name: "", side: sideFor(primary.TradeType, false), contract: nearContract, quantity: action.Quantity}}, nil
}

func primaryTradeSymbol(detail models.StrategyDetail) (models.StrategySymbol, bool) {
	for _, sym := range detail.Symbols {
		if sym.TradeType != models.SymbolTradeRef {
			return sym, true
		}
	}
	return models.StrategySymbol{}, false
}

func sideFor(tradeType models.SymbolTradeType, closing bool) string {
	switch tradeType {
	case models.SymbolTradeBuy, models.SymbolTradeOpen:
		if closing {
			return "SELL"
		}
		return "BUY"
	case models.SymbolTradeSell, models.SymbolTradeClose:
		if closing {
			return "BUY"
		}
		return "SELL"
	default:
		return "BUY"
	}
}

func instructionSummary(detail models.StrategyDetail, legs []leg) string {
	parts := make([]string, 0, len(legs))
	for _, l := range legs {
		name := l.name
		if name == "" {
			name = "single"
		}
		parts = append(parts, fmt.Sprintf("%s:%s %s x%s", name, l.side, l.contract.Symbol, l.quantity.String()))
	}
	return fmt.Sprintf("%s %s", detail.Action.OrderType, strings.Join(parts, ", "))
}
