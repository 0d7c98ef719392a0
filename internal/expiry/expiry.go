// Package expiry implements the expiry/roll sweep (C9): a periodic
// pass over strategies whose expire_at has passed, applying the
// disposition spec.md §4.10 assigns each status — expire outright,
// cancel an in-flight order when the trade_action allows it, or
// perform a one-shot futures roll instead of expiring.
package expiry

import (
	"context"
	"time"

	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/pkg/logger"
)

type Sweeper struct {
	store store.Store
	gw    gateway.Client
}

func New(st store.Store, gw gateway.Client) *Sweeper {
	return &Sweeper{store: st, gw: gw}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	expiring, err := s.store.ListExpiring(ctx, now)
	if err != nil {
		logger.Error("expiry sweep list failed: %v", err)
		return
	}
	for _, detail := range expiring {
		if err := s.dispose(ctx, detail, now); err != nil {
			logger.Error("expiry disposition failed for %s: %v", detail.Strategy.ID, err)
		}
	}
}

func (s *Sweeper) dispose(ctx context.Context, detail models.StrategyDetail, now time.Time) error {
	switch detail.Strategy.Status {
	case models.StatusOrderSubmitted:
		return s.cancelInFlight(ctx, detail)
	case models.StatusActive, models.StatusTriggered:
		if detail.Action != nil && detail.Action.FutRollTarget != nil {
			rolled, err := s.maybeRoll(ctx, detail, now)
			if err != nil {
				return err
			}
			if rolled {
				return nil
			}
		}
	}
	if !store.EligibleForExpiry(detail.Strategy.Status) {
		return nil
	}
	return s.store.Transition(ctx, store.TransitionRequest{
		StrategyID:      detail.Strategy.ID,
		From:            detail.Strategy.Status,
		To:              models.StatusExpired,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "EXPIRED",
		EventDetail:     "expire_at reached",
	})
}

// cancelInFlight cancels an ORDER_SUBMITTED strategy's live order when
// its trade_action explicitly allows it; otherwise it is left alone
// until the gateway reports a fill or the order is cancelled manually.
func (s *Sweeper) cancelInFlight(ctx context.Context, detail models.StrategyDetail) error {
	if detail.Action == nil || !detail.Action.CancelOnExpiry {
		return nil
	}
	instructions, err := s.store.ListActiveTradeInstructions(ctx)
	if err != nil {
		return err
	}
	for _, ti := range instructions {
		if ti.StrategyID != detail.Strategy.ID {
			continue
		}
		orders, err := s.store.GetOrdersByTrade(ctx, ti.TradeID)
		if err != nil {
			return err
		}
		for _, order := range orders {
			if order.Status != models.OrderStatusSubmitted {
				continue
			}
			if err := s.gw.CancelOrder(ctx, order.GatewayOrderID); err != nil {
				logger.Error("cancel order %s failed: %v", order.GatewayOrderID, err)
				continue
			}
			order.Status = models.OrderStatusCancelled
			if err := s.store.UpdateOrder(ctx, order); err != nil {
				return err
			}
		}
	}
	return s.store.Transition(ctx, store.TransitionRequest{
		StrategyID:      detail.Strategy.ID,
		From:            models.StatusOrderSubmitted,
		To:              models.StatusCancelled,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "CANCELLED",
		EventDetail:     "expire_at reached with cancel_on_expiry",
	})
}

// maybeRoll performs the one-shot futures roll: instead of expiring,
// pushes expire_at forward and marks rolled_at so the roll can never
// repeat for this strategy. It does not yet retarget the traded
// contract itself — the strategy store has no per-symbol update path
// independent of the full owned-children rewrite, so the roll today
// only extends the strategy's life; see DESIGN.md.
func (s *Sweeper) maybeRoll(ctx context.Context, detail models.StrategyDetail, now time.Time) (bool, error) {
	runtime, err := s.store.GetRuntimeState(ctx, detail.Strategy.ID)
	if err != nil {
		return false, err
	}
	if runtime.RolledAt != nil {
		return false, nil
	}

	newExpireAt := now.Add(defaultRollExtension(detail.Strategy))
	if err := s.store.PatchBasic(ctx, detail.Strategy.ID, detail.Strategy.Version, func(strat *models.Strategy) {
		strat.ExpireAt = &newExpireAt
	}); err != nil {
		return false, err
	}

	runtime.RolledAt = &now
	if err := s.store.PutRuntimeState(ctx, runtime); err != nil {
		return false, err
	}
	if err := s.store.AppendEvent(ctx, detail.Strategy.ID, "ROLLED", "fut_roll_target="+*detail.Action.FutRollTarget); err != nil {
		logger.Error("append roll event failed: %v", err)
	}
	return true, nil
}

func defaultRollExtension(strat models.Strategy) time.Duration {
	if strat.ExpireInSeconds != nil && *strat.ExpireInSeconds > 0 {
		return time.Duration(*strat.ExpireInSeconds) * time.Second
	}
	return 24 * time.Hour
}
