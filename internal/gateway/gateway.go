// Package gateway defines the outbound brokerage gateway contract
// (spec.md §6) and the two concrete clients: paper (simulated) and
// ibsocket (a partial real-protocol client, health-check only).
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/models"
)

type WhatToShow string

const (
	ShowTrades WhatToShow = "TRADES"
	ShowMidpoint WhatToShow = "MIDPOINT"
	ShowBid    WhatToShow = "BID"
	ShowAsk    WhatToShow = "ASK"
)

type OrderPayload struct {
	TradeID        string
	Contract       models.ContractKey
	Side           string // BUY | SELL
	OrderType      string // MKT | LMT
	LimitPrice     *decimal.Decimal
	Quantity       decimal.Decimal
	TIF            string
	AllowOvernight bool
}

type OrderStatusEvent struct {
	TradeID       string
	GatewayOrderID string
	Status        models.OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  *decimal.Decimal
	At            time.Time
}

// Client is the opaque gateway adapter spec.md §6 requires: bars in,
// orders out, a subscription for status. Host/port/client-id/trading
// mode are bound at construction from configuration.
type Client interface {
	HealthCheck(ctx context.Context) error
	FetchBars(ctx context.Context, contract models.ContractKey, start, end time.Time, barSize string, show WhatToShow, useRTH bool) ([]models.Bar, error)
	SubmitOrder(ctx context.Context, payload OrderPayload) (gatewayOrderID string, err error)
	CancelOrder(ctx context.Context, gatewayOrderID string) error
	GetOrderStatus(ctx context.Context, gatewayOrderID string) (OrderStatusEvent, error)
	GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error)
	ResolveContractID(ctx context.Context, key models.ContractKey) (string, error)
	// Subscribe delivers order/fill status events until ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan OrderStatusEvent, error)
}

var ErrNotImplemented = notImplementedError{}

type notImplementedError struct{}

func (notImplementedError) Error() string { return "gateway operation not implemented over this transport" }
