package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibx/engine/internal/chain"
	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/storetest"
	"github.com/ibx/engine/internal/verifier"
)

// stubGateway is a minimal gateway.Client whose account-snapshot
// behavior each test controls; every other method is unused here.
type stubGateway struct {
	snapshotErr error
}

func (g *stubGateway) HealthCheck(ctx context.Context) error { return nil }
func (g *stubGateway) FetchBars(ctx context.Context, contract models.ContractKey, start, end time.Time, barSize string, show gateway.WhatToShow, useRTH bool) ([]models.Bar, error) {
	return nil, nil
}
func (g *stubGateway) SubmitOrder(ctx context.Context, payload gateway.OrderPayload) (string, error) {
	return "", nil
}
func (g *stubGateway) CancelOrder(ctx context.Context, gatewayOrderID string) error { return nil }
func (g *stubGateway) GetOrderStatus(ctx context.Context, gatewayOrderID string) (gateway.OrderStatusEvent, error) {
	return gateway.OrderStatusEvent{}, nil
}
func (g *stubGateway) GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	if g.snapshotErr != nil {
		return models.AccountSnapshot{}, g.snapshotErr
	}
	return models.AccountSnapshot{NetLiquidationUSD: decimal.NewFromInt(100000)}, nil
}
func (g *stubGateway) ResolveContractID(ctx context.Context, key models.ContractKey) (string, error) {
	return "", nil
}
func (g *stubGateway) Subscribe(ctx context.Context) (<-chan gateway.OrderStatusEvent, error) {
	return nil, nil
}

func pendingStrategy(id string, upstreamOnly bool) models.StrategyDetail {
	return models.StrategyDetail{
		Strategy: models.Strategy{
			ID:                     id,
			SecType:                "STK",
			Exchange:               "SMART",
			Currency:               "USD",
			TradeType:              models.TradeTypeBuy,
			Status:                 models.StatusPendingActivation,
			Version:                1,
			UpstreamOnlyActivation: upstreamOnly,
		},
		Symbols: []models.StrategySymbol{
			{Position: 0, Symbol: "AAPL", TradeType: models.SymbolTradeBuy},
		},
		Conditions: []models.Condition{
			{ConditionID: "c1", ConditionType: models.SingleProduct, Metric: "LAST_PRICE", Operator: ">=", Value: decimal.NewFromInt(100), ProductA: "AAPL"},
		},
		Action: &models.TradeAction{OrderType: "MKT", Quantity: decimal.NewFromInt(1)},
	}
}

func newVerifier(st *storetest.Fake) *verifier.Verifier {
	return verifier.New(st, config.VerificationConfig{AllowedOrderTypes: []string{"MKT", "LMT"}}, nil)
}

func TestActivate_UpstreamOnlyActivationIsNotManuallyActivatable(t *testing.T) {
	st := storetest.New()
	detail := pendingStrategy("s1", true)
	st.Put(detail)

	act := chain.New(st, newVerifier(st), nil, &stubGateway{})
	err := act.Activate(context.Background(), "s1", time.Now().UTC())
	require.Error(t, err)

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingActivation, got.Strategy.Status)
}

func TestActivate_EligibleStrategyReachesActive(t *testing.T) {
	st := storetest.New()
	st.Put(pendingStrategy("s1", false))

	act := chain.New(st, newVerifier(st), nil, &stubGateway{})
	err := act.Activate(context.Background(), "s1", time.Now().UTC())
	require.NoError(t, err)

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Strategy.Status)
}

// TestActivateDownstream_UpstreamOnlyActivationIsActivatedByTrigger covers
// spec.md §8 Scenario 2: a strategy with upstream_only_activation=true can
// never be activated manually, but must still reach ACTIVE once its
// upstream fires.
func TestActivateDownstream_UpstreamOnlyActivationIsActivatedByTrigger(t *testing.T) {
	st := storetest.New()
	next := "s1"
	upstream := pendingStrategy("s0", false)
	upstream.Strategy.NextStrategyID = &next
	upstream.Strategy.Status = models.StatusTriggered
	st.Put(upstream)
	st.Put(pendingStrategy("s1", true))

	act := chain.New(st, newVerifier(st), nil, &stubGateway{})
	now := time.Now().UTC()
	err := act.ActivateDownstream(context.Background(), upstream, "trigger-1", now, decimal.NewFromInt(150))
	require.NoError(t, err)

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Strategy.Status)
}

func TestActivate_NoConditionsIsNotEligible(t *testing.T) {
	st := storetest.New()
	detail := pendingStrategy("s1", false)
	detail.Conditions = nil
	st.Put(detail)

	act := chain.New(st, newVerifier(st), nil, &stubGateway{})
	err := act.Activate(context.Background(), "s1", time.Now().UTC())
	require.Error(t, err)
}

func TestActivate_FailedAccountSnapshotGateGoesToVerifyFailed(t *testing.T) {
	st := storetest.New()
	st.Put(pendingStrategy("s1", false))

	act := chain.New(st, newVerifier(st), nil, &stubGateway{snapshotErr: errors.New("dial: connection refused")})
	err := act.Activate(context.Background(), "s1", time.Now().UTC())
	require.NoError(t, err)

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerifyFailed, got.Strategy.Status)
}

func TestActivate_NoGatewayConfiguredSkipsSnapshotGate(t *testing.T) {
	st := storetest.New()
	st.Put(pendingStrategy("s1", false))

	act := chain.New(st, newVerifier(st), nil, nil)
	err := act.Activate(context.Background(), "s1", time.Now().UTC())
	require.NoError(t, err)

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Strategy.Status)
}
