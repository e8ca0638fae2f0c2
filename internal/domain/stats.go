package domain

import "sync/atomic"

// PipelineStats aggregates the pipeline's drop and throughput counters. All
// methods are safe for concurrent use; every loop updates its own counters
// and readers take point-in-time snapshots.
type PipelineStats struct {
	ticksNormalized   atomic.Int64
	ticksRejected     atomic.Int64 // failed normalization
	ingestDropped     atomic.Int64 // ingestion queue full
	ticksPersisted    atomic.Int64
	batchFailures     atomic.Int64
	evalEnqueued      atomic.Int64
	evalDropped       atomic.Int64 // evaluation queue full
	alertsFired       atomic.Int64
	alertsSuppressed  atomic.Int64
	ruleErrors        atomic.Int64
	evalTimeTotalMics atomic.Int64
	evalTimeMaxMics   atomic.Int64
	evalCount         atomic.Int64
}

// StatsSnapshot is a point-in-time copy of PipelineStats, shaped for the
// status endpoint and the connection-status envelope.
type StatsSnapshot struct {
	TicksNormalized  int64   `json:"ticks_normalized"`
	TicksRejected    int64   `json:"ticks_rejected"`
	IngestDropped    int64   `json:"ingest_dropped"`
	TicksPersisted   int64   `json:"ticks_persisted"`
	BatchFailures    int64   `json:"batch_failures"`
	EvalEnqueued     int64   `json:"eval_enqueued"`
	EvalDropped      int64   `json:"eval_dropped"`
	AlertsFired      int64   `json:"alerts_fired"`
	AlertsSuppressed int64   `json:"alerts_suppressed"`
	RuleErrors       int64   `json:"rule_errors"`
	AvgEvalTimeMs    float64 `json:"avg_eval_time_ms"`
	MaxEvalTimeMs    float64 `json:"max_eval_time_ms"`
}

func (s *PipelineStats) TickNormalized()  { s.ticksNormalized.Add(1) }
func (s *PipelineStats) TickRejected()    { s.ticksRejected.Add(1) }
func (s *PipelineStats) IngestDropped()   { s.ingestDropped.Add(1) }
func (s *PipelineStats) BatchFailure()    { s.batchFailures.Add(1) }
func (s *PipelineStats) EvalEnqueued()    { s.evalEnqueued.Add(1) }
func (s *PipelineStats) EvalDropped()     { s.evalDropped.Add(1) }
func (s *PipelineStats) AlertFired()      { s.alertsFired.Add(1) }
func (s *PipelineStats) AlertSuppressed() { s.alertsSuppressed.Add(1) }
func (s *PipelineStats) RuleError()       { s.ruleErrors.Add(1) }

func (s *PipelineStats) TicksPersisted(n int) { s.ticksPersisted.Add(int64(n)) }

// RecordEvalTime folds one evaluation latency (in milliseconds) into the
// running total and max.
func (s *PipelineStats) RecordEvalTime(ms float64) {
	mics := int64(ms * 1000)
	s.evalTimeTotalMics.Add(mics)
	s.evalCount.Add(1)
	for {
		cur := s.evalTimeMaxMics.Load()
		if mics <= cur || s.evalTimeMaxMics.CompareAndSwap(cur, mics) {
			return
		}
	}
}

// Snapshot returns a copy of all counters.
func (s *PipelineStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		TicksNormalized:  s.ticksNormalized.Load(),
		TicksRejected:    s.ticksRejected.Load(),
		IngestDropped:    s.ingestDropped.Load(),
		TicksPersisted:   s.ticksPersisted.Load(),
		BatchFailures:    s.batchFailures.Load(),
		EvalEnqueued:     s.evalEnqueued.Load(),
		EvalDropped:      s.evalDropped.Load(),
		AlertsFired:      s.alertsFired.Load(),
		AlertsSuppressed: s.alertsSuppressed.Load(),
		RuleErrors:       s.ruleErrors.Load(),
		MaxEvalTimeMs:    float64(s.evalTimeMaxMics.Load()) / 1000,
	}
	if n := s.evalCount.Load(); n > 0 {
		snap.AvgEvalTimeMs = float64(s.evalTimeTotalMics.Load()) / 1000 / float64(n)
	}
	return snap
}
