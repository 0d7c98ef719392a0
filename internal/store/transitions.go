package store

import "github.com/ibx/engine/internal/models"

// admissible is the transition table from spec.md §4.3. transition()
// is the only path permitted to mutate status; every entry point here
// goes through it.
var admissible = map[models.StrategyStatus]map[models.StrategyStatus]struct{}{
	models.StatusPendingActivation: {
		models.StatusVerifying:  {},
		models.StatusExpired:    {},
		models.StatusCancelled:  {},
		models.StatusFailed:     {},
	},
	models.StatusVerifying: {
		models.StatusActive:       {},
		models.StatusVerifyFailed: {},
		models.StatusFailed:       {},
	},
	models.StatusVerifyFailed: {
		models.StatusPendingActivation: {},
		models.StatusExpired:           {},
		models.StatusFailed:            {},
	},
	models.StatusActive: {
		models.StatusPaused:     {},
		models.StatusTriggered:  {},
		models.StatusExpired:    {},
		models.StatusCancelled:  {},
		models.StatusFailed:     {},
	},
	models.StatusPaused: {
		models.StatusActive:    {},
		models.StatusExpired:   {},
		models.StatusCancelled: {},
		models.StatusFailed:    {},
	},
	models.StatusTriggered: {
		models.StatusOrderSubmitted: {},
		models.StatusFilled:         {},
		models.StatusExpired:        {},
		models.StatusFailed:         {},
	},
	models.StatusOrderSubmitted: {
		models.StatusFilled:    {},
		models.StatusCancelled: {},
		models.StatusFailed:    {},
	},
}

// Admissible reports whether from -> to is a legal transition per
// spec.md §4.3. Any non-terminal status may also move to FAILED, already
// encoded in the table above.
func Admissible(from, to models.StrategyStatus) bool {
	targets, ok := admissible[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// EligibleForActivate reports spec.md §4.3's activation eligibility:
// upstream_only_activation=false, at least one condition, and at least
// one of trade_action/next_strategy_id present.
func EligibleForActivate(s models.StrategyDetail) bool {
	if s.Strategy.UpstreamOnlyActivation {
		return false
	}
	if len(s.Conditions) == 0 {
		return false
	}
	return s.Action != nil || s.Strategy.NextStrategyID != nil
}

// EligibleForDownstreamActivate reports the activation eligibility a
// chain-triggered downstream strategy must meet: at least one
// condition, and at least one of trade_action/next_strategy_id
// present. Unlike EligibleForActivate, it does not require
// upstream_only_activation=false — a strategy chain-activated by its
// upstream's trigger is exactly the upstream_only_activation=true case
// spec.md §8 Scenario 2 names, so gating it on that flag being unset
// would make the flag permanently unsatisfiable.
func EligibleForDownstreamActivate(s models.StrategyDetail) bool {
	if len(s.Conditions) == 0 {
		return false
	}
	return s.Action != nil || s.Strategy.NextStrategyID != nil
}

// EligibleForCancel reports spec.md §4.3: non-terminal and not
// ORDER_SUBMITTED.
func EligibleForCancel(status models.StrategyStatus) bool {
	if status.Terminal() {
		return false
	}
	return status != models.StatusOrderSubmitted
}

// EligibleForExpiry lists the statuses that move straight to EXPIRED
// when expire_at is observed with no live order (spec.md §4.10).
func EligibleForExpiry(status models.StrategyStatus) bool {
	switch status {
	case models.StatusPendingActivation, models.StatusVerifyFailed,
		models.StatusActive, models.StatusPaused, models.StatusTriggered:
		return true
	default:
		return false
	}
}
