// Package rules loads the condition-rules document: the per-trigger-mode
// window policy table and the per-metric allowed (mode, operator) /
// allowed-window sets that internal/evaluator validates every condition
// against before it is allowed to run.
package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ibx/engine/pkg/apperr"
)

const (
	LevelInstant     = "LEVEL_INSTANT"
	LevelConfirm     = "LEVEL_CONFIRM"
	CrossUpInstant   = "CROSS_UP_INSTANT"
	CrossUpConfirm   = "CROSS_UP_CONFIRM"
	CrossDownInstant = "CROSS_DOWN_INSTANT"
	CrossDownConfirm = "CROSS_DOWN_CONFIRM"
)

var SupportedTriggerModes = []string{
	LevelInstant, LevelConfirm,
	CrossUpInstant, CrossUpConfirm,
	CrossDownInstant, CrossDownConfirm,
}

// WindowPolicy is the resolved monitoring recipe for one
// (trigger_mode, evaluation_window) pair: which underlying bar size to
// read, how many consecutive bars must agree, and what fraction of the
// window must confirm before CONFIRM modes fire.
type WindowPolicy struct {
	BaseBar            string  `json:"base_bar"`
	ConfirmConsecutive int     `json:"confirm_consecutive"`
	ConfirmRatio       float64 `json:"confirm_ratio"`
	IncludePartialBar  bool    `json:"include_partial_bar"`
	MissingDataPolicy  string  `json:"missing_data_policy"`
}

type metricRuleDoc struct {
	AllowedWindows map[string][]string          `json:"allowed_windows"`
	AllowedRules   map[string][][2]string        `json:"allowed_rules"`
}

type triggerModeDoc struct {
	Fallback WindowPolicy                       `json:"fallback"`
	Defaults map[string]WindowPolicy            `json:"mode_defaults"`
	Windows  map[string]map[string]WindowPolicy `json:"windows"`
}

type document struct {
	TriggerMode  triggerModeDoc `json:"trigger_mode"`
	MetricRules  metricRuleDoc  `json:"metric_rules"`
}

// Rules is the parsed, query-ready form of the condition-rules document.
type Rules struct {
	triggerMode  triggerModeDoc
	allowedRules map[string]map[[2]string]struct{}
	allowedWindows map[string]map[string]struct{}
}

// Load reads the condition-rules JSON file at path. If the file does not
// exist, the built-in defaults (grounded on the reference implementation's
// _default_trigger_mode_windows/_default_metric_allowed_rules) are used —
// this mirrors the original's "file overrides defaults" merge.
func Load(path string) (*Rules, error) {
	doc := defaultDocument()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var override document
			if jsonErr := json.Unmarshal(data, &override); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse condition rules file %s: %w", path, jsonErr)
			}
			mergeDocument(&doc, &override)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read condition rules file %s: %w", path, err)
		}
	}

	return build(doc), nil
}

func build(doc document) *Rules {
	r := &Rules{
		triggerMode:    doc.TriggerMode,
		allowedRules:   map[string]map[[2]string]struct{}{},
		allowedWindows: map[string]map[string]struct{}{},
	}
	for metric, pairs := range doc.MetricRules.AllowedRules {
		set := map[[2]string]struct{}{}
		for _, p := range pairs {
			set[p] = struct{}{}
		}
		r.allowedRules[metric] = set
	}
	for metric, windows := range doc.MetricRules.AllowedWindows {
		set := map[string]struct{}{}
		for _, w := range windows {
			set[w] = struct{}{}
		}
		r.allowedWindows[metric] = set
	}
	return r
}

// Resolve returns the window policy for a (trigger_mode, evaluation_window)
// pair. An explicit per-mode window table takes precedence over the mode's
// default policy; a mode with no window table and no default falls back to
// the document-wide fallback policy.
func (r *Rules) Resolve(triggerMode, evaluationWindow string) (WindowPolicy, error) {
	windows, hasWindows := r.triggerMode.Windows[triggerMode]
	if hasWindows && len(windows) > 0 {
		policy, ok := windows[evaluationWindow]
		if !ok {
			return WindowPolicy{}, apperr.New(apperr.CodeInvalidArgument,
				fmt.Sprintf("trigger_mode=%s does not allow evaluation_window=%s", triggerMode, evaluationWindow))
		}
		return validatePolicy(policy, triggerMode, evaluationWindow)
	}
	if def, ok := r.triggerMode.Defaults[triggerMode]; ok {
		return validatePolicy(def, triggerMode, evaluationWindow)
	}
	return validatePolicy(r.triggerMode.Fallback, triggerMode, evaluationWindow)
}

// validatePolicy rejects a policy that sets both confirm_consecutive
// and confirm_ratio: the two are alternative ways to express a CONFIRM
// window's confirmation requirement, and a document (built-in or
// override file) that sets both for the same (trigger_mode,
// evaluation_window) has an ambiguous, unresolved confirmation rule
// rather than a deliberately redundant one.
func validatePolicy(policy WindowPolicy, triggerMode, evaluationWindow string) (WindowPolicy, error) {
	if policy.ConfirmConsecutive > 0 && policy.ConfirmRatio > 0 {
		return WindowPolicy{}, apperr.New(apperr.CodeInvalidArgument,
			fmt.Sprintf("trigger_mode=%s evaluation_window=%s sets both confirm_consecutive and confirm_ratio", triggerMode, evaluationWindow))
	}
	return policy, nil
}

// AllowedForMetric reports whether (triggerMode, operator) is a permitted
// combination for metric, and whether evaluationWindow is a permitted
// window for metric.
func (r *Rules) AllowedForMetric(metric, triggerMode, operator, evaluationWindow string) (ruleOK, windowOK bool) {
	if rules, ok := r.allowedRules[metric]; ok {
		_, ruleOK = rules[[2]string{triggerMode, operator}]
	}
	if windows, ok := r.allowedWindows[metric]; ok {
		_, windowOK = windows[evaluationWindow]
	}
	return ruleOK, windowOK
}

func mergeDocument(base, override *document) {
	if override.TriggerMode.Fallback != (WindowPolicy{}) {
		base.TriggerMode.Fallback = override.TriggerMode.Fallback
	}
	for mode, policy := range override.TriggerMode.Defaults {
		base.TriggerMode.Defaults[mode] = policy
	}
	for mode, windows := range override.TriggerMode.Windows {
		if base.TriggerMode.Windows[mode] == nil {
			base.TriggerMode.Windows[mode] = map[string]WindowPolicy{}
		}
		for window, policy := range windows {
			base.TriggerMode.Windows[mode][window] = policy
		}
	}
	for metric, windows := range override.MetricRules.AllowedWindows {
		base.MetricRules.AllowedWindows[metric] = windows
	}
	for metric, pairs := range override.MetricRules.AllowedRules {
		base.MetricRules.AllowedRules[metric] = pairs
	}
}

func defaultDocument() document {
	// INSTANT modes need no confirmation window, so confirm_consecutive=1
	// alone fully expresses "one point is enough" — confirm_ratio is left
	// unset rather than also set to 1.0, since a policy may carry at most
	// one of the two confirmation fields (see validatePolicy).
	instant := WindowPolicy{BaseBar: "1m", ConfirmConsecutive: 1}
	instant5m := WindowPolicy{BaseBar: "1m", ConfirmConsecutive: 1}
	instant30m := WindowPolicy{BaseBar: "5m", ConfirmConsecutive: 1}
	instant1h := WindowPolicy{BaseBar: "5m", ConfirmConsecutive: 1}
	instantWindows := map[string]WindowPolicy{"1m": instant, "5m": instant5m, "30m": instant30m, "1h": instant1h}

	// CONFIRM modes express their requirement as a minimum consecutive
	// bar count; confirm_ratio is left unset for the same reason.
	confirmWindows := map[string]WindowPolicy{
		"5m":  {BaseBar: "1m", ConfirmConsecutive: 4},
		"30m": {BaseBar: "5m", ConfirmConsecutive: 2},
		"1h":  {BaseBar: "5m", ConfirmConsecutive: 2},
		"2h":  {BaseBar: "15m", ConfirmConsecutive: 2},
		"4h":  {BaseBar: "15m", ConfirmConsecutive: 2},
		"1d":  {BaseBar: "1h", ConfirmConsecutive: 2},
		"2d":  {BaseBar: "1h", ConfirmConsecutive: 2},
	}

	instantDefault := WindowPolicy{BaseBar: "1m", ConfirmConsecutive: 1, IncludePartialBar: true, MissingDataPolicy: "fail"}
	confirmDefault := WindowPolicy{BaseBar: "1m", ConfirmConsecutive: 2, MissingDataPolicy: "fail"}

	windows := map[string]map[string]WindowPolicy{
		LevelInstant:     instantWindows,
		LevelConfirm:     confirmWindows,
		CrossUpInstant:   instantWindows,
		CrossUpConfirm:   confirmWindows,
		CrossDownInstant: instantWindows,
		CrossDownConfirm: confirmWindows,
	}
	defaults := map[string]WindowPolicy{
		LevelInstant:     instantDefault,
		LevelConfirm:     confirmDefault,
		CrossUpInstant:   instantDefault,
		CrossUpConfirm:   confirmDefault,
		CrossDownInstant: instantDefault,
		CrossDownConfirm: confirmDefault,
	}

	allowedRules := map[string][][2]string{
		"PRICE": {
			{LevelInstant, ">="}, {LevelInstant, "<="},
			{LevelConfirm, ">="}, {LevelConfirm, "<="},
			{CrossUpInstant, ">="}, {CrossUpConfirm, ">="},
			{CrossDownInstant, "<="}, {CrossDownConfirm, "<="},
		},
		"DRAWDOWN_PCT": {{LevelInstant, ">="}, {LevelConfirm, ">="}},
		"RALLY_PCT":    {{LevelInstant, ">="}, {LevelConfirm, ">="}},
		"VOLUME_RATIO": {{LevelConfirm, ">="}, {LevelConfirm, "<="}},
		"AMOUNT_RATIO": {{LevelConfirm, ">="}, {LevelConfirm, "<="}},
		"SPREAD": {
			{LevelInstant, ">="}, {LevelInstant, "<="},
			{LevelConfirm, ">="}, {LevelConfirm, "<="},
			{CrossUpInstant, ">="}, {CrossUpConfirm, ">="},
			{CrossDownInstant, "<="}, {CrossDownConfirm, "<="},
		},
	}
	allowedWindows := map[string][]string{
		"PRICE":        {"1m", "5m", "30m", "1h"},
		"DRAWDOWN_PCT": {"1m", "5m", "30m", "1h"},
		"RALLY_PCT":    {"1m", "5m", "30m", "1h"},
		"SPREAD":       {"1m", "5m", "30m", "1h"},
		"VOLUME_RATIO": {"1h", "2h", "4h", "1d", "2d"},
		"AMOUNT_RATIO": {"1h", "2h", "4h", "1d", "2d"},
	}

	return document{
		TriggerMode: triggerModeDoc{
			Fallback: instant,
			Defaults: defaults,
			Windows:  windows,
		},
		MetricRules: metricRuleDoc{
			AllowedWindows: allowedWindows,
			AllowedRules:   allowedRules,
		},
	}
}
