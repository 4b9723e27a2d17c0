// Package orchestrator drives a solve from PENDING to a terminal status.
//
// # Overview
//
// A solve fixes one GitHub issue by trying every point of an experiment
// matrix. The orchestrator expands the matrix, bootstraps one run per
// config in a single transaction, executes the runs under a concurrency
// gate and finalizes the solve once every run is terminal:
//
//	PENDING → RUNNING → COMPLETED (champion selected)
//	                  → FAILED    (no candidate passed tests)
//
// # Runs
//
// Each run goes through the sandbox pipeline (package pipeline). A run
// failure never fails its siblings: the pipeline turns every failure,
// panics included, into a terminal outcome that is written back through
// the store. At most Limits.MaxParallel runs hold a sandbox at once.
//
// # Time budget
//
// When EnforceTimeBudget is set, the solve's time budget becomes a deadline
// on every run. Runs still executing at the deadline fail with a timeout.
//
// # Usage
//
//	orch := orchestrator.New(orchestrator.ConfigFrom(cfg.Orchestrator), st, pipe,
//	    orchestrator.WithLogger(logger),
//	    orchestrator.WithNotifier(publisher),
//	)
//	sv, err := orch.RunByID(ctx, solveID)
package orchestrator
