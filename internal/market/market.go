// Package market resolves a strategy's symbol positions into the
// contract keys the gateway and market-data cache key bars by.
package market

import "github.com/ibx/engine/internal/models"

// ContractKeyFor builds the contract key a strategy's symbol trades
// under: the strategy pins sec_type/exchange/currency once for all its
// legs, only the symbol varies per position.
func ContractKeyFor(strategy models.Strategy, symbol string) models.ContractKey {
	return models.ContractKey{
		Symbol:   symbol,
		SecType:  strategy.SecType,
		Exchange: strategy.Exchange,
		Currency: strategy.Currency,
	}
}

// BarSizeForWindow picks the underlying bar size a condition's
// evaluation window is sampled at, given the window policy's base_bar.
// Exported so the orchestrator can pre-size its market-cache request
// without re-deriving evaluator internals.
func BarSizeForWindow(baseBar string) string {
	if baseBar == "" {
		return "1m"
	}
	return baseBar
}
