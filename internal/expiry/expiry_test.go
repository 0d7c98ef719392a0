package expiry_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibx/engine/internal/expiry"
	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/storetest"
)

// stubGateway is a minimal gateway.Client used only to observe cancel
// calls; every other method is unused by the sweep and returns zero values.
type stubGateway struct {
	cancelled []string
}

func (g *stubGateway) HealthCheck(ctx context.Context) error { return nil }
func (g *stubGateway) FetchBars(ctx context.Context, contract models.ContractKey, start, end time.Time, barSize string, show gateway.WhatToShow, useRTH bool) ([]models.Bar, error) {
	return nil, nil
}
func (g *stubGateway) SubmitOrder(ctx context.Context, payload gateway.OrderPayload) (string, error) {
	return "", nil
}
func (g *stubGateway) CancelOrder(ctx context.Context, gatewayOrderID string) error {
	g.cancelled = append(g.cancelled, gatewayOrderID)
	return nil
}
func (g *stubGateway) GetOrderStatus(ctx context.Context, gatewayOrderID string) (gateway.OrderStatusEvent, error) {
	return gateway.OrderStatusEvent{}, nil
}
func (g *stubGateway) GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	return models.AccountSnapshot{}, nil
}
func (g *stubGateway) ResolveContractID(ctx context.Context, key models.ContractKey) (string, error) {
	return "", nil
}
func (g *stubGateway) Subscribe(ctx context.Context) (<-chan gateway.OrderStatusEvent, error) {
	return nil, nil
}

func TestSweepOnce_ExpiresEligibleStatusOutright(t *testing.T) {
	st := storetest.New()
	past := time.Now().UTC().Add(-time.Hour)
	st.Put(models.StrategyDetail{Strategy: models.Strategy{
		ID: "s1", Status: models.StatusActive, Version: 1, ExpireAt: &past,
	}})

	sw := expiry.New(st, &stubGateway{})
	sw.SweepOnce(context.Background(), time.Now().UTC())

	detail, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, detail.Strategy.Status)
}

func TestSweepOnce_CancelsOrderSubmittedWhenActionAllows(t *testing.T) {
	st := storetest.New()
	past := time.Now().UTC().Add(-time.Hour)
	st.Put(models.StrategyDetail{
		Strategy: models.Strategy{ID: "s2", Status: models.StatusOrderSubmitted, Version: 1, ExpireAt: &past},
		Action:   &models.TradeAction{CancelOnExpiry: true},
	})
	require.NoError(t, st.InsertTradeInstruction(context.Background(), models.TradeInstruction{TradeID: "t2", StrategyID: "s2"}))
	require.NoError(t, st.InsertOrder(context.Background(), models.Order{
		TradeID: "t2", StrategyID: "s2", GatewayOrderID: "gw-1", Status: models.OrderStatusSubmitted, Quantity: decimal.NewFromInt(1),
	}))

	gw := &stubGateway{}
	sw := expiry.New(st, gw)
	sw.SweepOnce(context.Background(), time.Now().UTC())

	detail, err := st.Get(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, detail.Strategy.Status)
	assert.Equal(t, []string{"gw-1"}, gw.cancelled)

	orders, err := st.GetOrdersByTrade(context.Background(), "t2")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusCancelled, orders[0].Status)
}

func TestSweepOnce_LeavesOrderSubmittedAloneWhenCancelNotAllowed(t *testing.T) {
	st := storetest.New()
	past := time.Now().UTC().Add(-time.Hour)
	st.Put(models.StrategyDetail{
		Strategy: models.Strategy{ID: "s3", Status: models.StatusOrderSubmitted, Version: 1, ExpireAt: &past},
		Action:   &models.TradeAction{CancelOnExpiry: false},
	})

	gw := &stubGateway{}
	sw := expiry.New(st, gw)
	sw.SweepOnce(context.Background(), time.Now().UTC())

	detail, err := st.Get(context.Background(), "s3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOrderSubmitted, detail.Strategy.Status)
	assert.Empty(t, gw.cancelled)
}

func TestSweepOnce_RollsFuturesInsteadOfExpiring(t *testing.T) {
	st := storetest.New()
	past := time.Now().UTC().Add(-time.Hour)
	rollTarget := "ESZ6"
	st.Put(models.StrategyDetail{
		Strategy: models.Strategy{ID: "s4", Status: models.StatusActive, Version: 1, ExpireAt: &past},
		Action:   &models.TradeAction{FutRollTarget: &rollTarget},
	})

	sw := expiry.New(st, &stubGateway{})
	sw.SweepOnce(context.Background(), time.Now().UTC())

	detail, err := st.Get(context.Background(), "s4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, detail.Strategy.Status)
	require.NotNil(t, detail.Strategy.ExpireAt)
	assert.True(t, detail.Strategy.ExpireAt.After(past))

	runtime, err := st.GetRuntimeState(context.Background(), "s4")
	require.NoError(t, err)
	assert.NotNil(t, runtime.RolledAt)
}

func TestSweepOnce_RollOnlyAppliesOnce(t *testing.T) {
	st := storetest.New()
	past := time.Now().UTC().Add(-time.Hour)
	rollTarget := "ESZ6"
	st.Put(models.StrategyDetail{
		Strategy: models.Strategy{ID: "s5", Status: models.StatusActive, Version: 1, ExpireAt: &past},
		Action:   &models.TradeAction{FutRollTarget: &rollTarget},
	})

	sw := expiry.New(st, &stubGateway{})
	now := time.Now().UTC()
	sw.SweepOnce(context.Background(), now)

	// Second sweep: rolled_at is already set, so this time the strategy
	// must expire outright rather than roll again.
	detail, err := st.Get(context.Background(), "s5")
	require.NoError(t, err)
	pastAgain := now.Add(-time.Hour)
	require.NoError(t, st.PatchBasic(context.Background(), "s5", detail.Strategy.Version, func(strat *models.Strategy) {
		strat.ExpireAt = &pastAgain
	}))

	sw.SweepOnce(context.Background(), now.Add(2*time.Hour))

	detail, err = st.Get(context.Background(), "s5")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, detail.Strategy.Status)
}
