package domain

import "time"

// RuleType identifies the trigger logic an alert rule uses.
type RuleType string

const (
	RuleThreshold    RuleType = "threshold"
	RuleRateOfChange RuleType = "rate_of_change"
	RuleVolumeSpike  RuleType = "volume_spike"

	// RuleCrossover and RuleMultiCondition exist in the schema but have no
	// evaluator yet. The engine skips them without error.
	RuleCrossover      RuleType = "crossover"
	RuleMultiCondition RuleType = "multi_condition"
)

// RuleCondition refines how a rule's threshold is compared against the tick.
type RuleCondition string

const (
	CondAbove       RuleCondition = "above"
	CondBelow       RuleCondition = "below"
	CondEquals      RuleCondition = "equals"
	CondPercentUp   RuleCondition = "percent_up"
	CondPercentDown RuleCondition = "percent_down"
	CondVolumeAbove RuleCondition = "volume_above"
)

// DefaultCooldownSeconds is applied when a rule has no explicit cooldown.
const DefaultCooldownSeconds = 60

// AlertRule is a user-defined trigger attached to one instrument. The core
// pipeline mutates only LastTriggeredAt, and only at fire time; everything
// else belongs to the external management layer.
type AlertRule struct {
	ID                string
	InstrumentID      string
	Name              string
	Type              RuleType
	Condition         RuleCondition
	Threshold         float64
	TimeWindowSeconds int // required for rate_of_change, 0 otherwise
	CooldownSeconds   int
	Active            bool
	LastTriggeredAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Cooldown returns the rule's suppression window as a duration, falling back
// to the default when unset.
func (r AlertRule) Cooldown() time.Duration {
	secs := r.CooldownSeconds
	if secs <= 0 {
		secs = DefaultCooldownSeconds
	}
	return time.Duration(secs) * time.Second
}

// InCooldown reports whether the rule fired too recently to fire again at now.
// A rule is eligible again at exactly LastTriggeredAt + Cooldown.
func (r AlertRule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	return now.Before(r.LastTriggeredAt.Add(r.Cooldown()))
}
