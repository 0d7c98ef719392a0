// Package metrics exposes the engine's Prometheus collectors. Other
// packages increment these directly rather than going through a
// reporting interface — the same package-level-collector pattern
// client_golang itself encourages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Registry = prometheus.NewRegistry()

	StrategiesScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_strategies_scanned_total",
		Help: "Strategies pulled off the scheduler's scan loop.",
	})

	ConditionsEvaluated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_conditions_evaluated_total",
		Help: "Condition evaluations by resulting state.",
	}, []string{"state"})

	StrategiesTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_strategies_triggered_total",
		Help: "Strategies that moved ACTIVE -> TRIGGERED.",
	})

	OrdersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_submitted_total",
		Help: "Orders submitted to the gateway, by outcome.",
	}, []string{"outcome"})

	LeaseContention = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_lease_contention_total",
		Help: "Scheduler attempts that found a strategy's execution lease already held.",
	})
)

func init() {
	Registry.MustRegister(
		StrategiesScanned,
		ConditionsEvaluated,
		StrategiesTriggered,
		OrdersSubmitted,
		LeaseContention,
	)
}
