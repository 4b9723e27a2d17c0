// Package workflows hands accepted solves to an executor.
//
// Two dispatchers exist. LocalDispatcher runs each solve on a goroutine of
// the current process. TemporalDispatcher starts SolveWorkflow on a Temporal
// cluster, whose single RunSolve activity executes the solve on whichever
// worker picks it up. Both pass nothing but the solve id; the executor
// reloads the solve and its owner's credential from the store, so tokens
// never enter workflow history.
package workflows
