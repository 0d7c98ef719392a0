// Package storetest is a test-only in-memory implementation of
// store.Store, grounded on the stub-repository pattern the
// easyweb3tools-easy-paas polymarket strategy package uses to test its
// evaluators without a database: it implements the full interface but
// most callers only exercise a handful of methods.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/pkg/apperr"
)

type Fake struct {
	mu sync.Mutex

	strategies map[string]models.StrategyDetail
	runtime    map[string]models.StrategyRuntimeState
	events     map[string][]models.StrategyEvent
	orders     map[string][]models.Order // keyed by trade_id
	tradeInstr map[string]models.TradeInstruction
	leases     map[string]time.Time
}

func New() *Fake {
	return &Fake{
		strategies: map[string]models.StrategyDetail{},
		runtime:    map[string]models.StrategyRuntimeState{},
		events:     map[string][]models.StrategyEvent{},
		orders:     map[string][]models.Order{},
		tradeInstr: map[string]models.TradeInstruction{},
		leases:     map[string]time.Time{},
	}
}

// Put seeds a strategy directly, bypassing Create's idempotency logic.
func (f *Fake) Put(detail models.StrategyDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[detail.Strategy.ID] = detail
}

func (f *Fake) Create(ctx context.Context, detail models.StrategyDetail) (models.StrategyDetail, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.strategies[detail.Strategy.ID]; ok {
		return existing, false, nil
	}
	detail.Strategy.Version = 1
	f.strategies[detail.Strategy.ID] = detail
	return detail, true, nil
}

func (f *Fake) Get(ctx context.Context, id string) (models.StrategyDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.strategies[id]
	if !ok {
		return models.StrategyDetail{}, apperr.New(apperr.CodeNotFound, "strategy not found")
	}
	return detail, nil
}

func (f *Fake) List(ctx context.Context, filter store.ListFilter) ([]models.StrategyDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.StrategyDetail, 0, len(f.strategies))
	for _, d := range f.strategies {
		if filter.Status != "" && d.Strategy.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *Fake) PatchBasic(ctx context.Context, id string, expectedVersion int, mutate func(*models.Strategy)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.strategies[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "strategy not found")
	}
	if detail.Strategy.Version != expectedVersion {
		return apperr.New(apperr.CodeVersionMismatch, "version mismatch")
	}
	mutate(&detail.Strategy)
	detail.Strategy.Version++
	f.strategies[id] = detail
	return nil
}

func (f *Fake) PutConditions(ctx context.Context, id string, expectedVersion int, conditions []models.Condition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.strategies[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "strategy not found")
	}
	if detail.Strategy.Version != expectedVersion {
		return apperr.New(apperr.CodeVersionMismatch, "version mismatch")
	}
	detail.Conditions = conditions
	detail.Strategy.Version++
	f.strategies[id] = detail
	return nil
}

func (f *Fake) PutActions(ctx context.Context, id string, expectedVersion int, action *models.TradeAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.strategies[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "strategy not found")
	}
	if detail.Strategy.Version != expectedVersion {
		return apperr.New(apperr.CodeVersionMismatch, "version mismatch")
	}
	detail.Action = action
	detail.Strategy.Version++
	f.strategies[id] = detail
	return nil
}

func (f *Fake) Transition(ctx context.Context, req store.TransitionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.strategies[req.StrategyID]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "strategy not found")
	}
	if detail.Strategy.Version != req.ExpectedVersion {
		return apperr.New(apperr.CodeVersionMismatch, "version mismatch")
	}
	if detail.Strategy.Status != req.From || !store.Admissible(req.From, req.To) {
		return apperr.New(apperr.CodeInvalidTransition, "transition not admissible")
	}
	detail.Strategy.Status = req.To
	detail.Strategy.Version++
	f.strategies[req.StrategyID] = detail
	f.events[req.StrategyID] = append(f.events[req.StrategyID], models.StrategyEvent{
		StrategyID: req.StrategyID,
		EventType:  req.EventType,
		Detail:     req.EventDetail,
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

func (f *Fake) SoftDelete(ctx context.Context, id string, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.strategies[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "strategy not found")
	}
	detail.Strategy.IsDeleted = true
	f.strategies[id] = detail
	return nil
}

func (f *Fake) GetRuntimeState(ctx context.Context, id string) (models.StrategyRuntimeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.runtime[id]
	st.StrategyID = id
	return st, nil
}

func (f *Fake) PutRuntimeState(ctx context.Context, state models.StrategyRuntimeState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtime[state.StrategyID] = state
	return nil
}

func (f *Fake) AppendEvent(ctx context.Context, id string, eventType, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id] = append(f.events[id], models.StrategyEvent{StrategyID: id, EventType: eventType, Detail: detail, Timestamp: time.Now().UTC()})
	return nil
}

func (f *Fake) ListEvents(ctx context.Context, id string, limit int) ([]models.StrategyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id], nil
}

func (f *Fake) PutStrategyRun(ctx context.Context, run models.StrategyRun) error { return nil }

func (f *Fake) GetStrategyRun(ctx context.Context, strategyID string) (models.StrategyRun, bool, error) {
	return models.StrategyRun{}, false, nil
}

func (f *Fake) ClaimLease(ctx context.Context, strategyID string, ttl time.Duration) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	if until, ok := f.leases[strategyID]; ok && until.After(now) {
		return until, apperr.WithLease(apperr.CodeLeaseHeld, "lease held", until)
	}
	until := now.Add(ttl)
	f.leases[strategyID] = until
	return until, nil
}

func (f *Fake) ReleaseLease(ctx context.Context, strategyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, strategyID)
	return nil
}

func (f *Fake) ClearStaleLeases(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	cleared := 0
	for id, until := range f.leases {
		if until.Before(now) {
			delete(f.leases, id)
			cleared++
		}
	}
	return cleared, nil
}

func (f *Fake) InsertActivation(ctx context.Context, ev models.ActivationEvent) (bool, error) {
	return true, nil
}

func (f *Fake) InsertOrder(ctx context.Context, order models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.TradeID] = append(f.orders[order.TradeID], order)
	return nil
}

func (f *Fake) UpdateOrder(ctx context.Context, order models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	orders := f.orders[order.TradeID]
	for i, o := range orders {
		if o.GatewayOrderID == order.GatewayOrderID {
			orders[i] = order
		}
	}
	f.orders[order.TradeID] = orders
	return nil
}

func (f *Fake) GetOrdersByTrade(ctx context.Context, tradeID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[tradeID], nil
}

func (f *Fake) InsertTradeInstruction(ctx context.Context, ti models.TradeInstruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeInstr[ti.TradeID] = ti
	return nil
}

func (f *Fake) UpdateTradeInstruction(ctx context.Context, ti models.TradeInstruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeInstr[ti.TradeID] = ti
	return nil
}

func (f *Fake) ListActiveTradeInstructions(ctx context.Context) ([]models.TradeInstruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TradeInstruction, 0, len(f.tradeInstr))
	for _, ti := range f.tradeInstr {
		out = append(out, ti)
	}
	return out, nil
}

func (f *Fake) InsertVerificationEvent(ctx context.Context, ev models.VerificationEvent) error {
	return nil
}

func (f *Fake) InsertTradeLog(ctx context.Context, entry models.TradeLogEntry) error { return nil }

func (f *Fake) ListEligibleForScan(ctx context.Context, now time.Time, limit int) ([]models.StrategyDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.StrategyDetail, 0)
	for _, d := range f.strategies {
		if d.Strategy.Status == models.StatusActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Fake) ListExpiring(ctx context.Context, now time.Time) ([]models.StrategyDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.StrategyDetail, 0)
	for _, d := range f.strategies {
		if d.Strategy.ExpireAt != nil && !d.Strategy.ExpireAt.After(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Fake) ListOrderSubmitted(ctx context.Context) ([]models.StrategyDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.StrategyDetail, 0)
	for _, d := range f.strategies {
		if d.Strategy.Status == models.StatusOrderSubmitted {
			out = append(out, d)
		}
	}
	return out, nil
}

var _ store.Store = (*Fake)(nil)
