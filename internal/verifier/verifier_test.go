package verifier_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/storetest"
	"github.com/ibx/engine/internal/verifier"
	"github.com/ibx/engine/pkg/logger"
)

// stubPrices is a PriceSource a test can seed with fixed quotes.
type stubPrices struct {
	prices map[models.ContractKey]decimal.Decimal
}

func (p *stubPrices) LastPrice(contract models.ContractKey) (decimal.Decimal, bool) {
	v, ok := p.prices[contract]
	return v, ok
}

func detailWithAction(action *models.TradeAction) models.StrategyDetail {
	return models.StrategyDetail{
		Strategy: models.Strategy{ID: "s1", SecType: "STK", Exchange: "SMART", Currency: "USD"},
		Symbols:  []models.StrategySymbol{{Position: 0, Symbol: "AAPL", TradeType: models.SymbolTradeBuy}},
		Action:   action,
	}
}

func TestVerify_NoTradeActionAlwaysPasses(t *testing.T) {
	st := storetest.New()
	v := verifier.New(st, config.VerificationConfig{}, nil)
	detail := models.StrategyDetail{Strategy: models.Strategy{ID: "s1"}}

	passed, reason, err := v.Verify(context.Background(), detail, "")
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, "no_trade_action", reason)
}

func TestVerify_OrderTypeNotAllowedFails(t *testing.T) {
	st := storetest.New()
	cfg := config.VerificationConfig{AllowedOrderTypes: []string{"LMT"}}
	v := verifier.New(st, cfg, nil)
	detail := detailWithAction(&models.TradeAction{OrderType: "MKT", Quantity: decimal.NewFromInt(1)})

	passed, reason, err := v.Verify(context.Background(), detail, "t1")
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Contains(t, reason, "order_type_not_allowed")
}

func TestVerify_NotionalWithinCapPasses(t *testing.T) {
	st := storetest.New()
	cfg := config.VerificationConfig{AllowedOrderTypes: []string{"LMT"}, MaxNotionalUSD: 10000}
	limit := decimal.NewFromInt(100)
	v := verifier.New(st, cfg, nil)
	detail := detailWithAction(&models.TradeAction{OrderType: "LMT", LimitPrice: &limit, Quantity: decimal.NewFromInt(10)})

	passed, reason, err := v.Verify(context.Background(), detail, "t1")
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, "verified", reason)
}

func TestVerify_NotionalExceedsCapFails(t *testing.T) {
	st := storetest.New()
	cfg := config.VerificationConfig{AllowedOrderTypes: []string{"LMT"}, MaxNotionalUSD: 100}
	limit := decimal.NewFromInt(100)
	v := verifier.New(st, cfg, nil)
	detail := detailWithAction(&models.TradeAction{OrderType: "LMT", LimitPrice: &limit, Quantity: decimal.NewFromInt(10)})

	passed, reason, err := v.Verify(context.Background(), detail, "t1")
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Contains(t, reason, "notional_exceeds_cap")
}

func TestVerify_MktOrderPricedFromLastPriceTracker(t *testing.T) {
	st := storetest.New()
	cfg := config.VerificationConfig{AllowedOrderTypes: []string{"MKT"}, MaxNotionalUSD: 100}
	contract := models.ContractKey{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}
	prices := &stubPrices{prices: map[models.ContractKey]decimal.Decimal{contract: decimal.NewFromInt(1000)}}
	v := verifier.New(st, cfg, prices)
	detail := detailWithAction(&models.TradeAction{OrderType: "MKT", Quantity: decimal.NewFromInt(1)})

	passed, reason, err := v.Verify(context.Background(), detail, "t1")
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Contains(t, reason, "notional_exceeds_cap")
}

func TestVerify_MktOrderWithNoKnownPriceFails(t *testing.T) {
	st := storetest.New()
	cfg := config.VerificationConfig{AllowedOrderTypes: []string{"MKT"}, MaxNotionalUSD: 100}
	v := verifier.New(st, cfg, &stubPrices{prices: map[models.ContractKey]decimal.Decimal{}})
	detail := detailWithAction(&models.TradeAction{OrderType: "MKT", Quantity: decimal.NewFromInt(1)})

	passed, reason, err := v.Verify(context.Background(), detail, "t1")
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Equal(t, "price_unavailable_for_notional_check", reason)
}

func TestVerify_StopsAtFirstFailingRule(t *testing.T) {
	st := storetest.New()
	cfg := config.VerificationConfig{AllowedOrderTypes: []string{"LMT"}, MaxNotionalUSD: 1}
	detail := detailWithAction(&models.TradeAction{OrderType: "MKT", Quantity: decimal.NewFromInt(1)})
	v := verifier.New(st, cfg, nil)

	passed, reason, err := v.Verify(context.Background(), detail, "t1")
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Contains(t, reason, "order_type_not_allowed")
}

func TestVerify_UnknownRuleIDInConfigIsSkipped(t *testing.T) {
	logger.Init(zap.NewNop(), zap.NewNop())
	st := storetest.New()
	cfg := config.VerificationConfig{
		AllowedOrderTypes: []string{"MKT"},
		RuleSet: []config.VerifierRule{
			{ID: "not_a_real_rule", Version: 1},
			{ID: "order_type_allowed", Version: 1},
		},
	}
	v := verifier.New(st, cfg, nil)
	detail := detailWithAction(&models.TradeAction{OrderType: "MKT", Quantity: decimal.NewFromInt(1)})

	passed, reason, err := v.Verify(context.Background(), detail, "t1")
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, "verified", reason)
}
