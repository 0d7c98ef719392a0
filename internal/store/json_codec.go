package store

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/models"
)

type jsonSymbol struct {
	Position  int    `json:"position"`
	Symbol    string `json:"symbol"`
	TradeType string `json:"trade_type"`
}

type jsonCondition struct {
	ConditionID      string          `json:"condition_id"`
	ConditionType    string          `json:"condition_type"`
	Metric           string          `json:"metric"`
	TriggerMode      string          `json:"trigger_mode"`
	EvaluationWindow string          `json:"evaluation_window"`
	WindowPriceBasis string          `json:"window_price_basis"`
	Operator         string          `json:"operator"`
	Value            decimal.Decimal `json:"value"`
	ProductA         string          `json:"product_a"`
	ProductB         string          `json:"product_b,omitempty"`
}

type jsonTradeAction struct {
	OrderType      string           `json:"order_type"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	Quantity       decimal.Decimal  `json:"quantity"`
	AllowOvernight bool             `json:"allow_overnight"`
	CancelOnExpiry bool             `json:"cancel_on_expiry"`
	FutRollTarget  *string          `json:"fut_roll_target,omitempty"`
}

func encodeSymbols(strategyID string, symbols []models.StrategySymbol) ([]byte, error) {
	out := make([]jsonSymbol, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, jsonSymbol{Position: s.Position, Symbol: s.Symbol, TradeType: string(s.TradeType)})
	}
	return json.Marshal(out)
}

func decodeSymbols(strategyID string, raw []byte) ([]models.StrategySymbol, error) {
	var in []jsonSymbol
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]models.StrategySymbol, 0, len(in))
	for _, s := range in {
		out = append(out, models.StrategySymbol{
			StrategyID: strategyID,
			Position:   s.Position,
			Symbol:     s.Symbol,
			TradeType:  models.SymbolTradeType(s.TradeType),
		})
	}
	return out, nil
}

func encodeConditions(conditions []models.Condition) ([]byte, error) {
	out := make([]jsonCondition, 0, len(conditions))
	for _, c := range conditions {
		out = append(out, jsonCondition{
			ConditionID:      c.ConditionID,
			ConditionType:    string(c.ConditionType),
			Metric:           c.Metric,
			TriggerMode:      c.TriggerMode,
			EvaluationWindow: c.EvaluationWindow,
			WindowPriceBasis: c.WindowPriceBasis,
			Operator:         c.Operator,
			Value:            c.Value,
			ProductA:         c.ProductA,
			ProductB:         c.ProductB,
		})
	}
	return json.Marshal(out)
}

func decodeConditions(strategyID string, raw []byte) ([]models.Condition, error) {
	var in []jsonCondition
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]models.Condition, 0, len(in))
	for _, c := range in {
		out = append(out, models.Condition{
			StrategyID:       strategyID,
			ConditionID:      c.ConditionID,
			ConditionType:    models.ConditionProductMode(c.ConditionType),
			Metric:           c.Metric,
			TriggerMode:      c.TriggerMode,
			EvaluationWindow: c.EvaluationWindow,
			WindowPriceBasis: c.WindowPriceBasis,
			Operator:         c.Operator,
			Value:            c.Value,
			ProductA:         c.ProductA,
			ProductB:         c.ProductB,
		})
	}
	return out, nil
}

func encodeAction(strategyID string, action *models.TradeAction) ([]byte, error) {
	if action == nil {
		return nil, nil
	}
	return json.Marshal(jsonTradeAction{
		OrderType:      action.OrderType,
		LimitPrice:     action.LimitPrice,
		Quantity:       action.Quantity,
		AllowOvernight: action.AllowOvernight,
		CancelOnExpiry: action.CancelOnExpiry,
		FutRollTarget:  action.FutRollTarget,
	})
}

func decodeAction(strategyID string, raw []byte) (*models.TradeAction, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var in jsonTradeAction
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	return &models.TradeAction{
		StrategyID:     strategyID,
		OrderType:      in.OrderType,
		LimitPrice:     in.LimitPrice,
		Quantity:       in.Quantity,
		AllowOvernight: in.AllowOvernight,
		CancelOnExpiry: in.CancelOnExpiry,
		FutRollTarget:  in.FutRollTarget,
	}, nil
}
