package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Order is the engine-owned record of a single leg submitted to the
// gateway. A FUT_ROLL trade_action produces two Orders (close, open)
// sharing a trade_id.
type Order struct {
	TradeID       string
	StrategyID    string
	Leg           string // "" for single-leg, "close"/"open" for FUT_ROLL
	GatewayOrderID string
	Status        OrderStatus
	Quantity      decimal.Decimal
	FilledQty     decimal.Decimal
	AvgFillPrice  *decimal.Decimal
	PayloadJSON   []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type TradeInstructionStatus string

const (
	TradeInstructionPending   TradeInstructionStatus = "PENDING"
	TradeInstructionActive    TradeInstructionStatus = "ACTIVE"
	TradeInstructionFilled    TradeInstructionStatus = "FILLED"
	TradeInstructionCancelled TradeInstructionStatus = "CANCELLED"
	TradeInstructionFailed    TradeInstructionStatus = "FAILED"
)

// TradeInstruction is the external-facing projection of an Order.
type TradeInstruction struct {
	TradeID            string
	StrategyID         string
	InstructionSummary string
	Status             TradeInstructionStatus
	ExpireAt           *time.Time
	UpdatedAt          time.Time
}

type VerificationEvent struct {
	ID         int64
	StrategyID string
	TradeID    string
	RuleID     string
	RuleVersion int
	Passed     bool
	Reason     string
	SnapshotJSON []byte
	CreatedAt  time.Time
}

type TradeLogEntry struct {
	ID         int64
	StrategyID string
	TradeID    string
	Stage      string // verification | submission | fill | cancel | reject
	Message    string
	CreatedAt  time.Time
}

// ActivationEvent is the strategy_activations audit row: the
// at-most-once guard for chain activation, keyed by
// (trigger_event_id, downstream_id).
type ActivationEvent struct {
	ID                  int64
	FromStrategyID      string
	ToStrategyID        string
	TriggerEventID      string
	EffectiveActivatedAt time.Time
	MarketSnapshotJSON  []byte
	ContextJSON         []byte
	CreatedAt           time.Time
}

// StrategyRun is the durable scheduling-state row C4 writes once per
// processed scan. The per-metric last_monitoring_data_end_at map is
// persisted with the row, but the orchestrator leaves it empty and
// recovery does not read strategy_runs.
type StrategyRun struct {
	StrategyID              string
	FirstEvaluatedAt        time.Time
	EvaluatedAt             time.Time
	SuggestedNextMonitorAt  time.Time
	ConditionMet            bool
	DecisionReason          string
	LastMonitoringDataEndAt map[string]map[string]time.Time // condition_id -> contract_id -> ts
	RunCount                int

	// GatewayNotWorkEventAt/WaitingForMarketDataEventAt record when a
	// GATEWAY_NOT_WORK/WAITING_FOR_MARKET_DATA StrategyEvent was last
	// appended, so repeated low-signal outcomes emit at most once per
	// throttle window instead of flooding the audit stream.
	GatewayNotWorkEventAt       *time.Time
	WaitingForMarketDataEventAt *time.Time
}
