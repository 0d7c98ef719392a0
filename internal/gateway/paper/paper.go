// Package paper implements a simulated gateway.Client: no network I/O,
// deterministic fills, used as the engine's default trading_mode per
// spec.md §6. It is the harness the scenario tests in spec.md §8 run
// their strategies against.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/apperr"
)

// PriceSource supplies the last-traded price paper fills against.
// The engine's market cache satisfies this in production; tests inject
// a fixed map.
type PriceSource interface {
	LastPrice(contract models.ContractKey) (decimal.Decimal, bool)
}

type Client struct {
	mu        sync.Mutex
	prices    PriceSource
	bars      map[string][]models.Bar
	events    chan gateway.OrderStatusEvent
	snapshot  models.AccountSnapshot
}

func New(prices PriceSource) *Client {
	return &Client{
		prices: prices,
		bars:   map[string][]models.Bar{},
		events: make(chan gateway.OrderStatusEvent, 64),
		snapshot: models.AccountSnapshot{
			NetLiquidationUSD: decimal.NewFromInt(1_000_000),
			AvailableFundsUSD: decimal.NewFromInt(1_000_000),
			AsOf:              time.Now().UTC(),
		},
	}
}

// SeedBars lets tests preload a deterministic bar series for a contract.
func (c *Client) SeedBars(contract models.ContractKey, barSize string, bars []models.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars[barKey(contract, barSize)] = bars
}

func barKey(contract models.ContractKey, barSize string) string {
	return contract.String() + "|" + barSize
}

func (c *Client) HealthCheck(ctx context.Context) error { return nil }

func (c *Client) FetchBars(ctx context.Context, contract models.ContractKey, start, end time.Time, barSize string, show gateway.WhatToShow, useRTH bool) ([]models.Bar, error) {
	if !end.After(start) {
		return nil, apperr.New(apperr.CodeInvalidArgument, "end must be after start")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.bars[barKey(contract, barSize)]
	var out []models.Bar
	for _, b := range all {
		if !b.Ts.Before(start) && b.Ts.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Client) SubmitOrder(ctx context.Context, payload gateway.OrderPayload) (string, error) {
	gatewayOrderID := "PAPER-" + uuid.New().String()[:8]

	fillPrice, ok := decimal.Decimal{}, false
	if c.prices != nil {
		fillPrice, ok = c.prices.LastPrice(payload.Contract)
	}
	if !ok {
		if payload.LimitPrice != nil {
			fillPrice = *payload.LimitPrice
		} else {
			fillPrice = decimal.Zero
		}
	}

	go func() {
		c.events <- gateway.OrderStatusEvent{
			TradeID:        payload.TradeID,
			GatewayOrderID: gatewayOrderID,
			Status:         models.OrderStatusFilled,
			FilledQty:      payload.Quantity,
			AvgFillPrice:   &fillPrice,
			At:             time.Now().UTC(),
		}
	}()

	return gatewayOrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, gatewayOrderID string) error {
	return nil
}

func (c *Client) GetOrderStatus(ctx context.Context, gatewayOrderID string) (gateway.OrderStatusEvent, error) {
	return gateway.OrderStatusEvent{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("no status recorded for %s", gatewayOrderID))
}

func (c *Client) GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	return c.snapshot, nil
}

func (c *Client) ResolveContractID(ctx context.Context, key models.ContractKey) (string, error) {
	return key.String(), nil
}

func (c *Client) Subscribe(ctx context.Context) (<-chan gateway.OrderStatusEvent, error) {
	return c.events, nil
}
