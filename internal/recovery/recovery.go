// Package recovery runs once at boot (C10): it clears any execution
// leases left held by a process that died mid-evaluation, then
// reconciles every strategy stuck in ORDER_SUBMITTED against the
// gateway's live order status, since a crash between order submission
// and fill reconciliation would otherwise strand the strategy forever.
package recovery

import (
	"context"

	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/internal/submitter"
	"github.com/ibx/engine/pkg/logger"
)

type Recoverer struct {
	store store.Store
	gw    gateway.Client
	sub   *submitter.Submitter
}

func New(st store.Store, gw gateway.Client, sub *submitter.Submitter) *Recoverer {
	return &Recoverer{store: st, gw: gw, sub: sub}
}

// Run clears stale leases and reconciles in-flight orders. It is meant
// to run once, synchronously, before the scheduler and fill listener
// start.
func (r *Recoverer) Run(ctx context.Context) error {
	cleared, err := r.store.ClearStaleLeases(ctx)
	if err != nil {
		return err
	}
	if cleared > 0 {
		logger.Warn("recovery cleared %d stale execution lease(s)", cleared)
	}

	stuck, err := r.store.ListOrderSubmitted(ctx)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	instructions, err := r.store.ListActiveTradeInstructions(ctx)
	if err != nil {
		return err
	}
	strategiesStuck := make(map[string]struct{}, len(stuck))
	for _, detail := range stuck {
		strategiesStuck[detail.Strategy.ID] = struct{}{}
	}
	for _, ti := range instructions {
		if _, ok := strategiesStuck[ti.StrategyID]; !ok {
			continue
		}
		r.reconcileTrade(ctx, ti.TradeID)
	}
	return nil
}

func (r *Recoverer) reconcileTrade(ctx context.Context, tradeID string) {
	orders, err := r.store.GetOrdersByTrade(ctx, tradeID)
	if err != nil {
		logger.Error("recovery: load orders for trade %s failed: %v", tradeID, err)
		return
	}
	for _, order := range orders {
		if order.Status != models.OrderStatusSubmitted {
			continue
		}
		ev, err := r.gw.GetOrderStatus(ctx, order.GatewayOrderID)
		if err != nil {
			logger.Error("recovery: gateway status for order %s failed: %v", order.GatewayOrderID, err)
			continue
		}
		if ev.Status == order.Status {
			continue
		}
		r.sub.Reconcile(ctx, ev)
	}
}
