package chainvalidator_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibx/engine/internal/chainvalidator"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/apperr"
)

func TestValidateSecTypeTradeType(t *testing.T) {
	assert.NoError(t, chainvalidator.ValidateSecTypeTradeType("STK", models.TradeTypeBuy))
	assert.NoError(t, chainvalidator.ValidateSecTypeTradeType("FUT", models.TradeTypeOpen))

	err := chainvalidator.ValidateSecTypeTradeType("STK", models.TradeTypeOpen)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	err = chainvalidator.ValidateSecTypeTradeType("FUT", models.TradeTypeBuy)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestValidateSymbolTradeTypes(t *testing.T) {
	symbols := []models.StrategySymbol{{Symbol: "AAPL", TradeType: models.SymbolTradeBuy}}
	assert.NoError(t, chainvalidator.ValidateSymbolTradeTypes(models.TradeTypeBuy, symbols))

	bad := []models.StrategySymbol{{Symbol: "AAPL", TradeType: models.SymbolTradeOpen}}
	err := chainvalidator.ValidateSymbolTradeTypes(models.TradeTypeBuy, bad)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestValidateExpiry(t *testing.T) {
	seconds := 3600
	assert.NoError(t, chainvalidator.ValidateExpiry(models.ExpireModeRelative, &seconds, nil))

	at := time.Now().Add(time.Hour)
	assert.NoError(t, chainvalidator.ValidateExpiry(models.ExpireModeAbsolute, nil, &at))

	err := chainvalidator.ValidateExpiry(models.ExpireModeRelative, nil, nil)
	require.Error(t, err)

	err = chainvalidator.ValidateExpiry(models.ExpireModeRelative, &seconds, &at)
	require.Error(t, err)

	tooLarge := 700000
	err = chainvalidator.ValidateExpiry(models.ExpireModeRelative, &tooLarge, nil)
	require.Error(t, err)

	err = chainvalidator.ValidateExpiry(models.ExpireModeAbsolute, nil, nil)
	require.Error(t, err)
}

func TestValidateConditions(t *testing.T) {
	symbols := []models.StrategySymbol{{Symbol: "AAPL"}, {Symbol: "MSFT"}}
	conditions := []models.Condition{{ProductA: "AAPL", ProductB: "MSFT"}}
	assert.NoError(t, chainvalidator.ValidateConditions(conditions, symbols, 5))

	bad := []models.Condition{{ProductA: "GOOG"}}
	err := chainvalidator.ValidateConditions(bad, symbols, 5)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	tooMany := make([]models.Condition, 6)
	for i := range tooMany {
		tooMany[i] = models.Condition{ProductA: "AAPL"}
	}
	err = chainvalidator.ValidateConditions(tooMany, symbols, 5)
	require.Error(t, err)
}

func TestValidateAction(t *testing.T) {
	assert.NoError(t, chainvalidator.ValidateAction(nil))
	assert.NoError(t, chainvalidator.ValidateAction(&models.TradeAction{OrderType: "MKT"}))

	err := chainvalidator.ValidateAction(&models.TradeAction{OrderType: "LMT"})
	require.Error(t, err)

	zero := decimal.Zero
	err = chainvalidator.ValidateAction(&models.TradeAction{OrderType: "LMT", LimitPrice: &zero})
	require.Error(t, err)

	price := decimal.NewFromFloat(10.5)
	assert.NoError(t, chainvalidator.ValidateAction(&models.TradeAction{OrderType: "LMT", LimitPrice: &price}))
}
