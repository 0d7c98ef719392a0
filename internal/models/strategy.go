// Package models holds the persistent entities of the execution engine:
// Strategy and everything owned by it.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type StrategyStatus string

const (
	StatusPendingActivation StrategyStatus = "PENDING_ACTIVATION"
	StatusVerifying         StrategyStatus = "VERIFYING"
	StatusVerifyFailed      StrategyStatus = "VERIFY_FAILED"
	StatusActive            StrategyStatus = "ACTIVE"
	StatusPaused            StrategyStatus = "PAUSED"
	StatusTriggered         StrategyStatus = "TRIGGERED"
	StatusOrderSubmitted    StrategyStatus = "ORDER_SUBMITTED"
	StatusFilled            StrategyStatus = "FILLED"
	StatusExpired           StrategyStatus = "EXPIRED"
	StatusCancelled         StrategyStatus = "CANCELLED"
	StatusFailed            StrategyStatus = "FAILED"
)

// Terminal reports whether no further transition is ever admissible from
// this status.
func (s StrategyStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusExpired, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

type TradeType string

const (
	TradeTypeBuy    TradeType = "buy"
	TradeTypeSell   TradeType = "sell"
	TradeTypeSwitch TradeType = "switch"
	TradeTypeOpen   TradeType = "open"
	TradeTypeClose  TradeType = "close"
	TradeTypeSpread TradeType = "spread"
)

type SymbolTradeType string

const (
	SymbolTradeBuy   SymbolTradeType = "buy"
	SymbolTradeSell  SymbolTradeType = "sell"
	SymbolTradeOpen  SymbolTradeType = "open"
	SymbolTradeClose SymbolTradeType = "close"
	SymbolTradeRef   SymbolTradeType = "ref"
)

type ConditionLogic string

const (
	ConditionLogicAnd ConditionLogic = "AND"
	ConditionLogicOr  ConditionLogic = "OR"
)

type ExpireMode string

const (
	ExpireModeRelative ExpireMode = "relative"
	ExpireModeAbsolute ExpireMode = "absolute"
)

// ValidSymbolTradeTypes returns the admissible child trade types for a
// given strategy trade_type, per spec.md §3's pairing constraints:
// {buy,sell,switch} => child in {buy,sell,ref}; {open,close,spread} =>
// child in {open,close,ref}.
func ValidSymbolTradeTypes(t TradeType) map[SymbolTradeType]struct{} {
	switch t {
	case TradeTypeBuy, TradeTypeSell, TradeTypeSwitch:
		return map[SymbolTradeType]struct{}{
			SymbolTradeBuy: {}, SymbolTradeSell: {}, SymbolTradeRef: {},
		}
	case TradeTypeOpen, TradeTypeClose, TradeTypeSpread:
		return map[SymbolTradeType]struct{}{
			SymbolTradeOpen: {}, SymbolTradeClose: {}, SymbolTradeRef: {},
		}
	default:
		return nil
	}
}

// Strategy is the top-level entity: the persistent rule plus its
// lifecycle bookkeeping. conditions/actions/symbols are owned children,
// loaded separately by the store (see StrategyDetail).
type Strategy struct {
	ID                 string
	IdempotencyKey      *string
	Market              string
	SecType             string
	Exchange            string
	Currency            string
	TradeType           TradeType
	ConditionLogic      ConditionLogic
	UpstreamOnlyActivation bool
	UpstreamStrategyID  *string
	NextStrategyID      *string

	ExpireMode       ExpireMode
	ExpireInSeconds  *int
	ExpireAt         *time.Time

	ActivatedAt        *time.Time
	LogicalActivatedAt *time.Time

	Status    StrategyStatus
	Version   int
	IsDeleted bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type StrategySymbol struct {
	StrategyID string
	Position   int
	Symbol     string
	TradeType  SymbolTradeType
}

// ConditionProduct pins which symbol position(s) a condition's metric is
// computed over: one for SINGLE_PRODUCT metrics, two for PAIR_PRODUCTS
// metrics (e.g. SPREAD, VOLUME_RATIO).
type ConditionProductMode string

const (
	SingleProduct ConditionProductMode = "SINGLE_PRODUCT"
	PairProducts  ConditionProductMode = "PAIR_PRODUCTS"
)

type Condition struct {
	StrategyID       string
	ConditionID      string
	ConditionType    ConditionProductMode
	Metric           string
	TriggerMode      string
	EvaluationWindow string
	WindowPriceBasis string
	Operator         string
	Value            decimal.Decimal
	ProductA         string
	ProductB         string // empty for SINGLE_PRODUCT
}

// TradeAction is the optional order intent attached to a strategy. A nil
// *TradeAction means the strategy is a pure chain gate.
type TradeAction struct {
	StrategyID     string
	OrderType      string // MKT | LMT
	LimitPrice     *decimal.Decimal
	Quantity       decimal.Decimal
	AllowOvernight bool
	CancelOnExpiry bool
	FutRollTarget  *string // far-contract key, FUT_ROLL only
}

type ConditionRuntimeState struct {
	StrategyID      string
	ConditionID     string
	State           string // TRUE | FALSE | WAITING | NOT_EVALUATED
	LastValue       *decimal.Decimal
	LastEvaluatedAt *time.Time
}

// StrategyRuntimeState is per-strategy scratch: extrema since activation,
// the anchor snapshot from chain activation, and the one-shot futures
// roll flag.
type StrategyRuntimeState struct {
	StrategyID           string
	SinceActivationHigh  decimal.Decimal
	SinceActivationLow   decimal.Decimal
	AnchorPrice          *decimal.Decimal
	MarketSnapshotJSON   []byte
	RolledAt             *time.Time
}

type StrategyEvent struct {
	ID         int64
	StrategyID string
	Timestamp  time.Time
	EventType  string
	Detail     string
}

// StrategyDetail bundles a Strategy with its owned children — the shape
// returned by Store.Get.
type StrategyDetail struct {
	Strategy    Strategy
	Symbols     []StrategySymbol
	Conditions  []Condition
	Action      *TradeAction
}
