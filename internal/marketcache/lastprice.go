package marketcache

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/models"
)

// LastPriceTracker is the synchronous PriceSource every other package
// depends on: verifier's max_notional check, submitter's chain-gate
// anchor price, and the paper gateway's fill price all need "what did
// this contract last trade at" without an extra round trip through the
// historical-bars path. The orchestrator feeds it via Observe as it
// pulls fresh bars off the cache.
type LastPriceTracker struct {
	mu   sync.RWMutex
	last map[models.ContractKey]decimal.Decimal
}

func NewLastPriceTracker() *LastPriceTracker {
	return &LastPriceTracker{last: make(map[models.ContractKey]decimal.Decimal)}
}

func (t *LastPriceTracker) Observe(contract models.ContractKey, bars []models.Bar) {
	if len(bars) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[contract] = bars[len(bars)-1].Close
}

func (t *LastPriceTracker) LastPrice(contract models.ContractKey) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.last[contract]
	return p, ok
}
