package metrics

import "expvar"

var (
	DecisionCycles    = expvar.NewInt("decision_cycles")
	DecisionsDegraded = expvar.NewInt("decisions_degraded")
	EngineTimeouts    = expvar.NewInt("engine_timeouts")
	EngineErrors      = expvar.NewInt("engine_errors")

	OutcomesResolved  = expvar.NewInt("outcomes_resolved")
	OutcomesRejected  = expvar.NewInt("outcomes_rejected")
	VersionConflicts  = expvar.NewInt("version_conflicts")

	SyncRuns       = expvar.NewInt("sync_runs")
	SyncErrors     = expvar.NewInt("sync_errors")
	DeltasApplied  = expvar.NewInt("deltas_applied")
	DeltasBuffered = expvar.NewInt("deltas_buffered")
	DeltasStale    = expvar.NewInt("deltas_stale")
	DeltasMerged   = expvar.NewInt("deltas_merged")
)
