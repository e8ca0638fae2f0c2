package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

// equalsTolerance is the absolute tolerance for the "equals" condition.
const equalsTolerance = 0.01

// PriceLookup returns the instrument's price at (or just after) the given
// time. The alert engine supplies it so rate-of-change evaluation stays a
// pure function. Implementations return domain.ErrNoHistory when the
// lookback window has no sample.
type PriceLookup func(at time.Time) (float64, error)

// Evaluate routes a rule to the evaluator for its type and returns the
// populated EvaluationContext when the rule triggers. The second return
// value is false when the rule does not trigger; an error means the rule
// itself could not be evaluated and must be isolated from the rest of the
// batch. Rule types without an evaluator (crossover, multi_condition) never
// trigger and never error.
func Evaluate(rule domain.AlertRule, tick domain.Tick, now time.Time, lookup PriceLookup) (domain.EvaluationContext, bool, error) {
	start := time.Now()

	var (
		value     float64
		triggered bool
		err       error
	)
	switch rule.Type {
	case domain.RuleThreshold:
		value, triggered, err = evalThreshold(rule, tick)
	case domain.RuleRateOfChange:
		value, triggered, err = evalRateOfChange(rule, tick, now, lookup)
	case domain.RuleVolumeSpike:
		value, triggered, err = evalVolumeSpike(rule, tick)
	case domain.RuleCrossover, domain.RuleMultiCondition:
		// Defined in the schema but not evaluated yet.
		return domain.EvaluationContext{}, false, nil
	default:
		return domain.EvaluationContext{}, false, fmt.Errorf("unknown rule type %q", rule.Type)
	}
	if err != nil || !triggered {
		return domain.EvaluationContext{}, false, err
	}

	return domain.EvaluationContext{
		Rule:             rule,
		Tick:             tick,
		TriggerValue:     value,
		EvaluationTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		EvaluatedAt:      now,
	}, true, nil
}

func evalThreshold(rule domain.AlertRule, tick domain.Tick) (float64, bool, error) {
	switch rule.Condition {
	case domain.CondAbove:
		return tick.Price, tick.Price > rule.Threshold, nil
	case domain.CondBelow:
		return tick.Price, tick.Price < rule.Threshold, nil
	case domain.CondEquals:
		return tick.Price, math.Abs(tick.Price-rule.Threshold) < equalsTolerance, nil
	default:
		return 0, false, fmt.Errorf("threshold rule %s: unsupported condition %q", rule.ID, rule.Condition)
	}
}

func evalRateOfChange(rule domain.AlertRule, tick domain.Tick, now time.Time, lookup PriceLookup) (float64, bool, error) {
	if rule.TimeWindowSeconds <= 0 {
		return 0, false, fmt.Errorf("rate-of-change rule %s: time window not set", rule.ID)
	}
	if lookup == nil {
		return 0, false, fmt.Errorf("rate-of-change rule %s: no price lookup", rule.ID)
	}

	window := time.Duration(rule.TimeWindowSeconds) * time.Second
	historical, err := lookup(now.Add(-window))
	if err != nil {
		// Insufficient lookback is a silent no-trigger, not an error.
		if errors.Is(err, domain.ErrNoHistory) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("rate-of-change rule %s: lookup: %w", rule.ID, err)
	}
	if historical == 0 {
		return 0, false, nil
	}

	pctChange := (tick.Price - historical) / historical * 100
	switch rule.Condition {
	case domain.CondPercentUp:
		return pctChange, pctChange >= rule.Threshold, nil
	case domain.CondPercentDown:
		return pctChange, pctChange <= -rule.Threshold, nil
	default:
		return 0, false, fmt.Errorf("rate-of-change rule %s: unsupported condition %q", rule.ID, rule.Condition)
	}
}

func evalVolumeSpike(rule domain.AlertRule, tick domain.Tick) (float64, bool, error) {
	if tick.Volume == nil {
		return 0, false, nil
	}
	switch rule.Condition {
	case domain.CondVolumeAbove:
		return *tick.Volume, *tick.Volume > rule.Threshold, nil
	default:
		return 0, false, fmt.Errorf("volume rule %s: unsupported condition %q", rule.ID, rule.Condition)
	}
}
