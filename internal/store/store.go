// Package store implements the Strategy Store (C3): transactional
// CRUD plus the single state-transition gate every other component
// writes status changes through.
package store

import (
	"context"
	"time"

	"github.com/ibx/engine/internal/models"
)

// ListFilter narrows Store.List; zero-value fields are unconstrained.
type ListFilter struct {
	Status   models.StrategyStatus
	SecType  string
	Symbol   string
	Limit    int
	Offset   int
}

// TransitionRequest describes one attempted status change, carried by
// transition(). Mutations is an optional free-form field set applied in
// the same statement as the status write (e.g. activated_at, expire_at).
type TransitionRequest struct {
	StrategyID      string
	From            models.StrategyStatus
	To              models.StrategyStatus
	ExpectedVersion int
	Mutations       map[string]any
	EventType       string
	EventDetail     string
}

// Store is the engine-wide persistence boundary. Every component reads
// and writes strategy state exclusively through it.
type Store interface {
	Create(ctx context.Context, detail models.StrategyDetail) (models.StrategyDetail, bool, error)
	Get(ctx context.Context, id string) (models.StrategyDetail, error)
	List(ctx context.Context, filter ListFilter) ([]models.StrategyDetail, error)
	PatchBasic(ctx context.Context, id string, expectedVersion int, mutate func(*models.Strategy)) error
	PutConditions(ctx context.Context, id string, expectedVersion int, conditions []models.Condition) error
	PutActions(ctx context.Context, id string, expectedVersion int, action *models.TradeAction) error
	Transition(ctx context.Context, req TransitionRequest) error
	SoftDelete(ctx context.Context, id string, expectedVersion int) error

	GetRuntimeState(ctx context.Context, id string) (models.StrategyRuntimeState, error)
	PutRuntimeState(ctx context.Context, state models.StrategyRuntimeState) error

	AppendEvent(ctx context.Context, id string, eventType, detail string) error
	ListEvents(ctx context.Context, id string, limit int) ([]models.StrategyEvent, error)

	PutStrategyRun(ctx context.Context, run models.StrategyRun) error
	GetStrategyRun(ctx context.Context, strategyID string) (models.StrategyRun, bool, error)

	// ClaimLease acquires an exclusive execution lease for strategyID
	// valid until now+ttl, iff the row has no lease or its lock_until has
	// expired. Returns apperr(CodeLeaseHeld) with LockUntil on contention.
	ClaimLease(ctx context.Context, strategyID string, ttl time.Duration) (time.Time, error)
	ReleaseLease(ctx context.Context, strategyID string) error
	ClearStaleLeases(ctx context.Context) (int, error)

	// InsertActivation inserts the (trigger_event_id, downstream_id)
	// guard row. Returns inserted=false on a unique-constraint no-op.
	InsertActivation(ctx context.Context, ev models.ActivationEvent) (inserted bool, err error)

	InsertOrder(ctx context.Context, order models.Order) error
	UpdateOrder(ctx context.Context, order models.Order) error
	GetOrdersByTrade(ctx context.Context, tradeID string) ([]models.Order, error)

	InsertTradeInstruction(ctx context.Context, ti models.TradeInstruction) error
	UpdateTradeInstruction(ctx context.Context, ti models.TradeInstruction) error
	ListActiveTradeInstructions(ctx context.Context) ([]models.TradeInstruction, error)

	InsertVerificationEvent(ctx context.Context, ev models.VerificationEvent) error
	InsertTradeLog(ctx context.Context, entry models.TradeLogEntry) error

	// ListEligibleForScan returns ACTIVE strategies whose next scheduled
	// evaluation is due.
	ListEligibleForScan(ctx context.Context, now time.Time, limit int) ([]models.StrategyDetail, error)
	// ListExpiring returns strategies with expire_at <= now across all
	// non-terminal statuses, for C9's sweep.
	ListExpiring(ctx context.Context, now time.Time) ([]models.StrategyDetail, error)
	// ListOrderSubmitted returns strategies stuck in ORDER_SUBMITTED, for
	// C10 recovery reconciliation.
	ListOrderSubmitted(ctx context.Context) ([]models.StrategyDetail, error)
}
