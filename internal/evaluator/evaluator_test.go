package evaluator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/rules"
)

func mustRules(t *testing.T) *rules.Rules {
	t.Helper()
	rs, err := rules.Load("")
	require.NoError(t, err)
	return rs
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPrepare_LevelInstantPrice(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		ConditionType:    models.SingleProduct,
		Metric:           "PRICE",
		TriggerMode:      rules.LevelInstant,
		EvaluationWindow: "1m",
		Operator:         ">=",
		Value:            dec("100"),
		ProductA:         "FUT:GLOBEX:ES:USD",
	}
	prepared, err := Prepare(cond, rs)
	require.NoError(t, err)
	assert.Equal(t, "PRICE", prepared.Metric)
	require.Len(t, prepared.Requirement.Products, 1)
	assert.Equal(t, 1, prepared.Requirement.Products[0].RequiredPoints)
}

func TestPrepare_RejectsDisallowedOperator(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		Metric:           "DRAWDOWN_PCT",
		TriggerMode:      rules.LevelInstant,
		EvaluationWindow: "1m",
		Operator:         "<=",
		Value:            dec("0.1"),
		ProductA:         "FUT:GLOBEX:ES:USD",
	}
	_, err := Prepare(cond, rs)
	assert.Error(t, err)
}

func TestPrepare_PairedMetricRequiresProductB(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		ConditionType:    models.PairProducts,
		Metric:           "SPREAD",
		TriggerMode:      rules.LevelInstant,
		EvaluationWindow: "1m",
		Operator:         ">=",
		Value:            dec("1"),
		ProductA:         "FUT:GLOBEX:ES:USD",
	}
	_, err := Prepare(cond, rs)
	assert.Error(t, err)
}

func TestEvaluate_PriceLevelTrue(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		Metric:           "PRICE",
		TriggerMode:      rules.LevelInstant,
		EvaluationWindow: "1m",
		Operator:         ">=",
		Value:            dec("100"),
		ProductA:         "ES",
	}
	prepared, err := Prepare(cond, rs)
	require.NoError(t, err)

	result := Evaluate(prepared, Input{
		ValuesByProduct: map[string][]decimal.Decimal{"ES": {dec("101")}},
	})
	assert.Equal(t, StateTrue, result.State)
	require.NotNil(t, result.ObservedValue)
	assert.True(t, result.ObservedValue.Equal(dec("101")))
}

func TestEvaluate_WaitsOnInsufficientPoints(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		Metric:           "PRICE",
		TriggerMode:      rules.LevelConfirm,
		EvaluationWindow: "30m",
		Operator:         ">=",
		Value:            dec("100"),
		ProductA:         "ES",
	}
	prepared, err := Prepare(cond, rs)
	require.NoError(t, err)

	result := Evaluate(prepared, Input{
		ValuesByProduct: map[string][]decimal.Decimal{"ES": {dec("101")}},
	})
	assert.Equal(t, StateWaiting, result.State)
	assert.Contains(t, result.Reason, "insufficient_points")
}

func TestEvaluate_CrossUpInstant(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		Metric:           "PRICE",
		TriggerMode:      rules.CrossUpInstant,
		EvaluationWindow: "1m",
		Operator:         ">=",
		Value:            dec("100"),
		ProductA:         "ES",
	}
	prepared, err := Prepare(cond, rs)
	require.NoError(t, err)

	result := Evaluate(prepared, Input{
		ValuesByProduct: map[string][]decimal.Decimal{"ES": {dec("98"), dec("102")}},
	})
	assert.Equal(t, StateTrue, result.State)

	noCross := Evaluate(prepared, Input{
		ValuesByProduct: map[string][]decimal.Decimal{"ES": {dec("102"), dec("103")}},
	})
	assert.Equal(t, StateFalse, noCross.State)
}

func TestEvaluate_DrawdownPctNeedsState(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		Metric:           "DRAWDOWN_PCT",
		TriggerMode:      rules.LevelInstant,
		EvaluationWindow: "1m",
		Operator:         ">=",
		Value:            dec("0.05"),
		ProductA:         "ES",
	}
	prepared, err := Prepare(cond, rs)
	require.NoError(t, err)

	waiting := Evaluate(prepared, Input{
		ValuesByProduct: map[string][]decimal.Decimal{"ES": {dec("95")}},
	})
	assert.Equal(t, StateWaiting, waiting.State)

	high := dec("100")
	triggered := Evaluate(prepared, Input{
		ValuesByProduct: map[string][]decimal.Decimal{"ES": {dec("94")}},
		State:           StateValues{SinceActivationHigh: &high},
	})
	assert.Equal(t, StateTrue, triggered.State)
}

func TestEvaluate_SpreadRequiresAlignment(t *testing.T) {
	rs := mustRules(t)
	cond := models.Condition{
		ConditionID:      "c1",
		ConditionType:    models.PairProducts,
		Metric:           "SPREAD",
		TriggerMode:      rules.LevelInstant,
		EvaluationWindow: "1m",
		Operator:         ">=",
		Value:            dec("5"),
		ProductA:         "ES",
		ProductB:         "NQ",
	}
	prepared, err := Prepare(cond, rs)
	require.NoError(t, err)

	result := Evaluate(prepared, Input{
		ValuesByProduct: map[string][]decimal.Decimal{
			"ES": {dec("110")},
			"NQ": {dec("100")},
		},
	})
	assert.Equal(t, StateTrue, result.State)
	assert.True(t, result.ObservedValue.Equal(dec("10")))
}
