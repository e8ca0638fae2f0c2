package domain

import "time"

// FiredStatus records the outcome of a rule evaluation that produced an
// AlertRecord.
type FiredStatus string

const (
	FiredStatusFired      FiredStatus = "fired"
	FiredStatusSuppressed FiredStatus = "suppressed"
	FiredStatusError      FiredStatus = "error"
)

// DeliveryStatus tracks what the notification collaborator did with a fired
// alert. It is the only AlertRecord field mutated after creation.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// AlertRecord is the immutable log entry for one fired alert.
type AlertRecord struct {
	ID               string
	Timestamp        time.Time
	RuleID           string
	InstrumentID     string
	Symbol           string
	RuleName         string
	Condition        RuleCondition
	TriggerValue     float64
	ThresholdValue   float64
	FiredStatus      FiredStatus
	DeliveryStatus   DeliveryStatus
	EvaluationTimeMs float64
	Message          string
}

// EvaluationContext pairs a rule with the tick that triggered it. It exists
// only for the duration of one fire operation and is never persisted as its
// own entity.
type EvaluationContext struct {
	Rule             AlertRule
	Tick             Tick
	TriggerValue     float64
	EvaluationTimeMs float64
	EvaluatedAt      time.Time
}
