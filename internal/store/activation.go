package store

import (
	"context"
	"fmt"

	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
)

// ResolveActivation is the account-snapshot gate a strategy must clear
// before VERIFYING can flip to ACTIVE, grounded on the original
// engine's run_activation_verification: before committing to
// activation, confirm the gateway's account snapshot is actually
// reachable rather than discovering a dead gateway only once an order
// needs to be placed. detail is accepted for parity with the original
// (which also re-resolves each symbol's contract id here) even though
// this engine's contract keys are deterministic and need no resolution
// step.
func ResolveActivation(ctx context.Context, gw gateway.Client, detail models.StrategyDetail) (bool, string, error) {
	if gw == nil {
		return true, "no_gateway_configured", nil
	}
	if _, err := gw.GetAccountSnapshot(ctx); err != nil {
		return false, fmt.Sprintf("get_account_snapshot failed: %v", err), nil
	}
	return true, "account_snapshot_reachable", nil
}
