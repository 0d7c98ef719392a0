// Package chainvalidator guards against cycles in the next_strategy_id
// chain (C11): before any write sets next_strategy_id, it forward-walks
// the prospective chain to confirm it never loops back on itself.
package chainvalidator

import (
	"context"

	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/pkg/apperr"
)

// ValidateNoCycle forward-walks from nextID following next_strategy_id
// links, failing if any strategy on the walk is revisited, fromID (the
// strategy about to point at nextID) included. A nil nextID is always
// valid (clearing the link).
func ValidateNoCycle(ctx context.Context, st store.Store, fromID string, nextID *string) error {
	if nextID == nil || *nextID == "" {
		return nil
	}
	if *nextID == fromID {
		return apperr.New(apperr.CodeCycleDetected, "strategy cannot chain to itself")
	}

	visited := map[string]struct{}{fromID: {}}
	current := *nextID
	for current != "" {
		if _, seen := visited[current]; seen {
			return apperr.New(apperr.CodeCycleDetected, "next_strategy_id chain contains a cycle")
		}
		visited[current] = struct{}{}

		detail, err := st.Get(ctx, current)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				return nil
			}
			return err
		}
		if detail.Strategy.NextStrategyID == nil {
			return nil
		}
		current = *detail.Strategy.NextStrategyID
	}
	return nil
}
