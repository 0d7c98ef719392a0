package chainvalidator

import (
	"fmt"
	"time"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/apperr"
)

const (
	minExpireInSeconds = 1
	maxExpireInSeconds = 604800
)

// ValidateSecTypeTradeType enforces spec.md §3's sec_type/trade_type
// pairing: a STK strategy trades in the {buy,sell,switch} family, a FUT
// strategy in the {open,close,spread} family.
func ValidateSecTypeTradeType(secType string, tradeType models.TradeType) error {
	switch secType {
	case "STK":
		switch tradeType {
		case models.TradeTypeBuy, models.TradeTypeSell, models.TradeTypeSwitch:
			return nil
		}
	case "FUT":
		switch tradeType {
		case models.TradeTypeOpen, models.TradeTypeClose, models.TradeTypeSpread:
			return nil
		}
	default:
		return apperr.New(apperr.CodeInvalidArgument, "unsupported sec_type "+secType)
	}
	return apperr.New(apperr.CodeInvalidArgument,
		fmt.Sprintf("sec_type %s does not allow trade_type %s", secType, tradeType))
}

// ValidateSymbolTradeTypes checks every owned symbol's trade_type
// against models.ValidSymbolTradeTypes(tradeType).
func ValidateSymbolTradeTypes(tradeType models.TradeType, symbols []models.StrategySymbol) error {
	allowed := models.ValidSymbolTradeTypes(tradeType)
	if allowed == nil {
		return apperr.New(apperr.CodeInvalidArgument, "unsupported trade_type "+string(tradeType))
	}
	for _, sym := range symbols {
		if _, ok := allowed[sym.TradeType]; !ok {
			return apperr.New(apperr.CodeInvalidArgument,
				fmt.Sprintf("symbol %s trade_type %s is not valid for strategy trade_type %s", sym.Symbol, sym.TradeType, tradeType))
		}
	}
	return nil
}

// ValidateExpiry enforces the expire_mode/expire_in_seconds/expire_at
// XOR and the relative-mode seconds range spec.md §3 names.
func ValidateExpiry(mode models.ExpireMode, seconds *int, at *time.Time) error {
	switch mode {
	case models.ExpireModeRelative:
		if seconds == nil {
			return apperr.New(apperr.CodeInvalidArgument, "expire_mode relative requires expire_in_seconds")
		}
		if at != nil {
			return apperr.New(apperr.CodeInvalidArgument, "expire_mode relative must not set expire_at")
		}
		if *seconds < minExpireInSeconds || *seconds > maxExpireInSeconds {
			return apperr.New(apperr.CodeInvalidArgument,
				fmt.Sprintf("expire_in_seconds must be in [%d,%d]", minExpireInSeconds, maxExpireInSeconds))
		}
	case models.ExpireModeAbsolute:
		if at == nil {
			return apperr.New(apperr.CodeInvalidArgument, "expire_mode absolute requires expire_at")
		}
		if seconds != nil {
			return apperr.New(apperr.CodeInvalidArgument, "expire_mode absolute must not set expire_in_seconds")
		}
	default:
		return apperr.New(apperr.CodeInvalidArgument, "unsupported expire_mode "+string(mode))
	}
	return nil
}

// ValidateConditions enforces MAX_CONDITIONS_PER_STRATEGY (maxPerStrategy
// <= 0 disables the check) and that every condition's product symbols
// belong to the strategy's owned symbols.
func ValidateConditions(conditions []models.Condition, symbols []models.StrategySymbol, maxPerStrategy int) error {
	if maxPerStrategy > 0 && len(conditions) > maxPerStrategy {
		return apperr.New(apperr.CodeInvalidArgument,
			fmt.Sprintf("strategy carries %d conditions, exceeding the max of %d", len(conditions), maxPerStrategy))
	}
	owned := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		owned[sym.Symbol] = struct{}{}
	}
	for _, cond := range conditions {
		if cond.ProductA != "" {
			if _, ok := owned[cond.ProductA]; !ok {
				return apperr.New(apperr.CodeInvalidArgument, "condition product_a "+cond.ProductA+" is not a strategy symbol")
			}
		}
		if cond.ProductB != "" {
			if _, ok := owned[cond.ProductB]; !ok {
				return apperr.New(apperr.CodeInvalidArgument, "condition product_b "+cond.ProductB+" is not a strategy symbol")
			}
		}
	}
	return nil
}

// ValidateAction enforces that an LMT order carries a positive limit_price.
func ValidateAction(action *models.TradeAction) error {
	if action == nil || action.OrderType != "LMT" {
		return nil
	}
	if action.LimitPrice == nil || !action.LimitPrice.IsPositive() {
		return apperr.New(apperr.CodeInvalidArgument, "order_type LMT requires a positive limit_price")
	}
	return nil
}
