// Package evaluator prepares and evaluates a single condition (C2):
// validating it against the condition-rules document, computing how
// many bar points it needs per product, and turning a bar/state window
// into a TRUE/FALSE/WAITING verdict. Combining multiple conditions on a
// strategy via condition_logic is the orchestrator's job, not this
// package's — evaluator only ever looks at one condition at a time.
package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/rules"
	"github.com/ibx/engine/pkg/apperr"
)

const (
	StateTrue         = "TRUE"
	StateFalse        = "FALSE"
	StateWaiting      = "WAITING"
	StateNotEvaluated = "NOT_EVALUATED"
)

// StateRequirement describes a piece of strategy runtime state a
// condition needs beyond raw bars (currently only the since-activation
// high/low extrema DRAWDOWN_PCT/RALLY_PCT read).
type StateRequirement struct {
	Type     string
	Product  string
	NeedHigh bool
	NeedLow  bool
}

// ProductDataRequirement is how many bars of which size a single
// product needs loaded before the condition can be evaluated.
type ProductDataRequirement struct {
	Product           string
	BaseBar           string
	RequiredPoints    int
	StateRequirements []StateRequirement
	IncludePartialBar bool
}

// DataRequirement is the full input a condition needs: one or two
// products (paired metrics require both), plus how strict bar/product
// alignment must be.
type DataRequirement struct {
	ConditionID          string
	RequireTimeAlignment bool
	MissingDataPolicy    string
	Products             []ProductDataRequirement
}

// Prepared is a validated condition, ready to be fed repeated
// evaluation windows without re-validating the rules document each
// time.
type Prepared struct {
	ConditionID      string
	Metric           string
	TriggerMode      string
	EvaluationWindow string
	WindowPriceBasis string
	Operator         string
	Threshold        decimal.Decimal
	Requirement      DataRequirement
}

// StateValues is the subset of StrategyRuntimeState a condition's
// metric computation may need.
type StateValues struct {
	SinceActivationHigh *decimal.Decimal
	SinceActivationLow  *decimal.Decimal
}

// Input is the observed data fed to Evaluate: one bar-derived series
// per product (oldest to newest), plus the runtime state snapshot.
type Input struct {
	ValuesByProduct map[string][]decimal.Decimal
	State           StateValues
}

type Result struct {
	State         string
	ObservedValue *decimal.Decimal
	Reason        string
}

// Prepare validates a condition against the rules document and
// computes its data requirement. It never touches market data.
func Prepare(cond models.Condition, rs *rules.Rules) (Prepared, error) {
	conditionID := strings.TrimSpace(cond.ConditionID)
	if conditionID == "" {
		return Prepared{}, apperr.New(apperr.CodeInvalidArgument, "condition_id is required")
	}
	triggerMode := cond.TriggerMode
	if triggerMode == "" {
		triggerMode = rules.LevelInstant
	}
	evaluationWindow := cond.EvaluationWindow
	if evaluationWindow == "" {
		evaluationWindow = "1m"
	}
	policy, err := rs.Resolve(triggerMode, evaluationWindow)
	if err != nil {
		return Prepared{}, err
	}
	metric := strings.ToUpper(strings.TrimSpace(cond.Metric))
	if metric == "" {
		return Prepared{}, apperr.New(apperr.CodeInvalidArgument, "metric is required")
	}
	basis := strings.ToUpper(strings.TrimSpace(cond.WindowPriceBasis))
	if basis == "" {
		basis = "CLOSE"
	}
	productA := strings.TrimSpace(cond.ProductA)
	if productA == "" {
		return Prepared{}, apperr.New(apperr.CodeInvalidArgument, "product is required")
	}
	productB := strings.TrimSpace(cond.ProductB)
	paired := requireTimeAlignment(metric)
	if paired && productB == "" {
		return Prepared{}, apperr.New(apperr.CodeInvalidArgument, "product_b is required for metric "+metric)
	}
	operator := strings.TrimSpace(cond.Operator)
	ruleOK, windowOK := rs.AllowedForMetric(metric, triggerMode, operator, evaluationWindow)
	if !ruleOK {
		return Prepared{}, apperr.New(apperr.CodeInvalidArgument,
			fmt.Sprintf("metric=%s does not allow trigger_mode=%s with operator=%s", metric, triggerMode, operator))
	}
	if !windowOK {
		return Prepared{}, apperr.New(apperr.CodeInvalidArgument,
			fmt.Sprintf("metric=%s does not allow evaluation_window=%s", metric, evaluationWindow))
	}
	requiredPoints := estimatedRequiredPoints(triggerMode, evaluationWindow, policy)
	products := []ProductDataRequirement{
		{
			Product:           productA,
			BaseBar:           policy.BaseBar,
			RequiredPoints:    requiredPoints,
			StateRequirements: stateRequirements(metric, productA),
			IncludePartialBar: policy.IncludePartialBar,
		},
	}
	if paired {
		products = append(products, ProductDataRequirement{
			Product:           productB,
			BaseBar:           policy.BaseBar,
			RequiredPoints:    requiredPoints,
			IncludePartialBar: policy.IncludePartialBar,
		})
	}

	return Prepared{
		ConditionID:      conditionID,
		Metric:           metric,
		TriggerMode:      triggerMode,
		EvaluationWindow: evaluationWindow,
		WindowPriceBasis: basis,
		Operator:         operator,
		Threshold:        cond.Value,
		Requirement: DataRequirement{
			ConditionID:          conditionID,
			RequireTimeAlignment: paired,
			MissingDataPolicy:    policy.MissingDataPolicy,
			Products:             products,
		},
	}, nil
}

// Evaluate turns the observed window into a verdict. WAITING means the
// caller should try again once more data has arrived; it is never a
// terminal answer.
func Evaluate(p Prepared, in Input) Result {
	requirement := p.Requirement
	if len(requirement.Products) == 0 {
		return Result{State: StateWaiting, Reason: "missing_contract_requirements"}
	}

	byProduct := map[string][]decimal.Decimal{}
	for _, req := range requirement.Products {
		if req.Product == "" {
			return Result{State: StateWaiting, Reason: "missing_contract_id"}
		}
		series, ok := in.ValuesByProduct[req.Product]
		if !ok {
			return Result{State: StateWaiting, Reason: "missing_contract_values:" + req.Product}
		}
		if len(series) < req.RequiredPoints {
			return Result{State: StateWaiting, Reason: "insufficient_points:" + req.Product}
		}
		byProduct[req.Product] = series
	}

	first := requirement.Products[0].Product
	var second string
	if len(requirement.Products) > 1 {
		second = requirement.Products[1].Product
	}

	var observedSeries []decimal.Decimal
	if requirement.RequireTimeAlignment && len(byProduct) > 1 {
		alignedPoints := len(byProduct[first])
		for _, values := range byProduct {
			if len(values) < alignedPoints {
				alignedPoints = len(values)
			}
		}
		for idx := 0; idx < alignedPoints; idx++ {
			productValues := map[string]decimal.Decimal{}
			for product, values := range byProduct {
				productValues[product] = values[len(values)-alignedPoints+idx]
			}
			if observed, ok := metricObservedValue(p.Metric, productValues, in.State, first, second); ok {
				observedSeries = append(observedSeries, observed)
			}
		}
	} else {
		primary := byProduct[first]
		alignedPoints := len(primary)
		var secondary []decimal.Decimal
		if second != "" {
			if values, ok := byProduct[second]; ok {
				secondary = values
				if len(secondary) < alignedPoints {
					alignedPoints = len(secondary)
				}
			}
		}
		for idx := 0; idx < alignedPoints; idx++ {
			productValues := map[string]decimal.Decimal{first: primary[len(primary)-alignedPoints+idx]}
			if secondary != nil {
				productValues[second] = secondary[len(secondary)-alignedPoints+idx]
			}
			if observed, ok := metricObservedValue(p.Metric, productValues, in.State, first, second); ok {
				observedSeries = append(observedSeries, observed)
			}
		}
	}

	if len(observedSeries) == 0 {
		return Result{State: StateWaiting, Reason: "missing_metric_inputs"}
	}
	observedValue := observedSeries[len(observedSeries)-1]

	var passed bool
	switch {
	case strings.HasPrefix(p.TriggerMode, "CROSS_"):
		if len(observedSeries) < 2 {
			return Result{State: StateWaiting, Reason: "missing_cross_inputs"}
		}
		up := strings.HasPrefix(p.TriggerMode, "CROSS_UP")
		for i := 0; i+1 < len(observedSeries); i++ {
			prev, curr := observedSeries[i], observedSeries[i+1]
			if up {
				if prev.LessThan(p.Threshold) && curr.GreaterThanOrEqual(p.Threshold) {
					passed = true
					break
				}
			} else {
				if prev.GreaterThan(p.Threshold) && curr.LessThanOrEqual(p.Threshold) {
					passed = true
					break
				}
			}
		}
	default:
		for _, sample := range observedSeries {
			if evaluateOperator(p.Operator, p.Threshold, sample) {
				passed = true
				break
			}
		}
	}

	state := StateFalse
	if passed {
		state = StateTrue
	}
	return Result{State: state, ObservedValue: &observedValue, Reason: "evaluated"}
}

func evaluateOperator(operator string, threshold, observed decimal.Decimal) bool {
	switch operator {
	case ">=":
		return observed.GreaterThanOrEqual(threshold)
	case "<=":
		return observed.LessThanOrEqual(threshold)
	case ">":
		return observed.GreaterThan(threshold)
	case "<":
		return observed.LessThan(threshold)
	default:
		return false
	}
}

func metricObservedValue(metric string, productValues map[string]decimal.Decimal, state StateValues, first, second string) (decimal.Decimal, bool) {
	primary, ok := productValues[first]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch metric {
	case "PRICE":
		return primary, true
	case "DRAWDOWN_PCT":
		if state.SinceActivationHigh == nil || state.SinceActivationHigh.LessThanOrEqual(decimal.Zero) {
			return decimal.Decimal{}, false
		}
		high := *state.SinceActivationHigh
		return high.Sub(primary).Div(high), true
	case "RALLY_PCT":
		if state.SinceActivationLow == nil || state.SinceActivationLow.LessThanOrEqual(decimal.Zero) {
			return decimal.Decimal{}, false
		}
		low := *state.SinceActivationLow
		return primary.Sub(low).Div(low), true
	}
	if second == "" {
		return decimal.Decimal{}, false
	}
	secondary, ok := productValues[second]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch metric {
	case "SPREAD":
		return primary.Sub(secondary), true
	case "VOLUME_RATIO", "AMOUNT_RATIO":
		if secondary.LessThanOrEqual(decimal.Zero) {
			return decimal.Decimal{}, false
		}
		return primary.Div(secondary), true
	}
	return decimal.Decimal{}, false
}

func requireTimeAlignment(metric string) bool {
	switch metric {
	case "SPREAD", "VOLUME_RATIO", "AMOUNT_RATIO":
		return true
	default:
		return false
	}
}

func stateRequirements(metric, product string) []StateRequirement {
	switch metric {
	case "DRAWDOWN_PCT":
		return []StateRequirement{{Type: "since_activation_extrema", Product: product, NeedHigh: true}}
	case "RALLY_PCT":
		return []StateRequirement{{Type: "since_activation_extrema", Product: product, NeedLow: true}}
	default:
		return nil
	}
}

func parseWindowToSeconds(window string) int {
	text := strings.ToLower(strings.TrimSpace(window))
	if text == "" {
		return 0
	}
	unit := text[len(text)-1]
	amount, err := strconv.Atoi(text[:len(text)-1])
	if err != nil || amount <= 0 {
		return 0
	}
	switch unit {
	case 'm':
		return amount * 60
	case 'h':
		return amount * 3600
	case 'd':
		return amount * 86400
	default:
		return 0
	}
}

func estimatedRequiredPoints(triggerMode, evaluationWindow string, policy rules.WindowPolicy) int {
	mode := strings.ToUpper(triggerMode)
	switch mode {
	case rules.LevelInstant:
		return 1
	case rules.CrossUpInstant, rules.CrossDownInstant:
		return 2
	}
	windowSeconds := parseWindowToSeconds(evaluationWindow)
	baseSeconds := parseWindowToSeconds(policy.BaseBar)
	basePoints := 1
	if windowSeconds > 0 && baseSeconds > 0 {
		basePoints = windowSeconds / baseSeconds
		if windowSeconds%baseSeconds != 0 {
			basePoints++
		}
		if basePoints < 1 {
			basePoints = 1
		}
	}
	ratioPoints := int(policy.ConfirmRatio * float64(basePoints))
	if float64(ratioPoints) < policy.ConfirmRatio*float64(basePoints) {
		ratioPoints++
	}
	confirmPoints := policy.ConfirmConsecutive
	if ratioPoints > confirmPoints {
		confirmPoints = ratioPoints
	}
	if mode == rules.CrossUpConfirm || mode == rules.CrossDownConfirm {
		return confirmPoints + 1
	}
	return confirmPoints
}
