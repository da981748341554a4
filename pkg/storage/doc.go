/*
Package storage provides bbolt-backed persistence for bootstrap runs.

Every invocation of the orchestrator is a run. The run records the node's
hostname and role, each state transition with its timestamp and error, and
the final status and exit code. `hpc-bootstrap status` reads it back.

# Architecture

	┌──────────────── <state dir>/bootstrap.db ────────────────┐
	│                                                            │
	│  run_index   (big-endian sequence) → run ID               │
	│  runs        (run ID)              → JSON types.Run       │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

The index keeps runs in start order so LastRun is a single cursor seek.
Runs beyond the retention limit are pruned, oldest first, when a new run
begins.

# Single instance

bbolt holds an exclusive flock on the database file for as long as it is
open. The orchestrator opens the store before its first side effect and
keeps it open until the daemon exits, so a second bootstrap on the same
node gets ErrLocked instead of racing the first one:

	store, err := storage.Open("/var/lib/hpc-bootstrap", 0)
	if errors.Is(err, storage.ErrLocked) {
		// another bootstrap is running
	}
	defer store.Close()

# Usage

	run, _ := store.BeginRun(hostname)
	store.SetRole(run.ID, types.NodeRoleWorker)
	store.RecordStep(run.ID, types.StepRecord{State: types.StateNetworkConfigured, At: time.Now()})
	store.FinishRun(run.ID, types.RunStatusSucceeded, 0, nil)
*/
package storage
