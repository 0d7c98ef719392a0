// Package verifier implements the pre-trade verification pipeline
// (C7): an ordered, versioned rule set a strategy's trade_action must
// clear before the engine will let it go live or submit an order. Every
// rule's verdict is recorded as an audit row regardless of outcome.
package verifier

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/pkg/logger"
)

// PriceSource resolves the last traded price the notional-cap rule
// prices a MKT order against.
type PriceSource interface {
	LastPrice(contract models.ContractKey) (decimal.Decimal, bool)
}

type rule struct {
	id      string
	version int
	check   func(cfg config.VerificationConfig, detail models.StrategyDetail, prices PriceSource) (bool, string)
}

// registry is every check this engine knows how to run, keyed by the
// rule id a VerificationConfig.RuleSet entry names.
var registry = map[string]func(cfg config.VerificationConfig, detail models.StrategyDetail, prices PriceSource) (bool, string){
	"order_type_allowed": checkOrderTypeAllowed,
	"max_notional":       checkMaxNotional,
}

// defaultRuleSet is used when the config carries no explicit
// verification.rule_set — the engine's original fixed ordering.
var defaultRuleSet = []rule{
	{id: "order_type_allowed", version: 1, check: checkOrderTypeAllowed},
	{id: "max_notional", version: 1, check: checkMaxNotional},
}

type Verifier struct {
	store   store.Store
	cfg     config.VerificationConfig
	prices  PriceSource
	ruleSet []rule
}

// New builds the rule set from cfg.RuleSet (ids, versions, ordering),
// resolving each id against registry; an unknown id is dropped with a
// warning rather than failing startup, since a stale or mistyped id in
// an operator-edited config shouldn't take the whole engine down.
func New(st store.Store, cfg config.VerificationConfig, prices PriceSource) *Verifier {
	rules := defaultRuleSet
	if len(cfg.RuleSet) > 0 {
		rules = make([]rule, 0, len(cfg.RuleSet))
		for _, r := range cfg.RuleSet {
			check, ok := registry[r.ID]
			if !ok {
				logger.Warn("verification.rule_set: unknown rule id %q, skipping", r.ID)
				continue
			}
			rules = append(rules, rule{id: r.ID, version: r.Version, check: check})
		}
	}
	return &Verifier{store: st, cfg: cfg, prices: prices, ruleSet: rules}
}

// Verify runs the rule set in order against detail's trade_action,
// stopping at the first failure. A strategy with no trade_action (a
// pure chain gate) always passes. tradeID is empty when verifying at
// activation time, before a trade_id has been minted.
func (v *Verifier) Verify(ctx context.Context, detail models.StrategyDetail, tradeID string) (bool, string, error) {
	if detail.Action == nil {
		return true, "no_trade_action", nil
	}
	for _, r := range v.ruleSet {
		passed, reason := r.check(v.cfg, detail, v.prices)
		if err := v.store.InsertVerificationEvent(ctx, models.VerificationEvent{
			StrategyID:  detail.Strategy.ID,
			TradeID:     tradeID,
			RuleID:      r.id,
			RuleVersion: r.version,
			Passed:      passed,
			Reason:      reason,
		}); err != nil {
			return false, "", err
		}
		if !passed {
			return false, reason, nil
		}
	}
	return true, "verified", nil
}

func checkOrderTypeAllowed(cfg config.VerificationConfig, detail models.StrategyDetail, _ PriceSource) (bool, string) {
	for _, allowed := range cfg.AllowedOrderTypes {
		if allowed == detail.Action.OrderType {
			return true, "order_type_allowed"
		}
	}
	return false, fmt.Sprintf("order_type_not_allowed:%s", detail.Action.OrderType)
}

func checkMaxNotional(cfg config.VerificationConfig, detail models.StrategyDetail, prices PriceSource) (bool, string) {
	if cfg.MaxNotionalUSD <= 0 {
		return true, "no_notional_cap_configured"
	}
	action := detail.Action
	var price decimal.Decimal
	switch {
	case action.LimitPrice != nil:
		price = *action.LimitPrice
	case len(detail.Symbols) > 0 && prices != nil:
		contract := models.ContractKey{
			Symbol:   detail.Symbols[0].Symbol,
			SecType:  detail.Strategy.SecType,
			Exchange: detail.Strategy.Exchange,
			Currency: detail.Strategy.Currency,
		}
		if p, ok := prices.LastPrice(contract); ok {
			price = p
		}
	}
	if price.IsZero() {
		return false, "price_unavailable_for_notional_check"
	}
	notional := price.Mul(action.Quantity).Abs()
	maxNotional := decimal.NewFromFloat(cfg.MaxNotionalUSD)
	if notional.GreaterThan(maxNotional) {
		return false, fmt.Sprintf("notional_exceeds_cap:%s>%s", notional.String(), maxNotional.String())
	}
	return true, "within_notional_cap"
}
