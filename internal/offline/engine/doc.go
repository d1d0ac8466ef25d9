// Package engine drains the mutation queue into the remote gateway and
// refreshes local snapshots from it.
//
// # Cycles
//
// One mutex serialises every remote application. A sync cycle (SyncUp,
// SyncDown or FullSync) only runs if no other cycle holds it; a concurrent
// trigger gets ErrCycleInProgress and is otherwise ignored. Immediate
// dispatches of freshly enqueued mutations wait for the mutex instead, and
// then apply the mutation only if it is still queued and nothing older for
// the same record is ahead of it.
//
// # Failure semantics
//
// A failed remote call leaves its mutation queued for the next trigger and
// the cycle moves on. A mutation that refers to a temporary identity whose
// create has not been confirmed yet is skipped for the cycle. Pulls for
// kinds with queued mutations are deferred so an unsynced write is never
// overwritten. Nothing is fatal.
//
// # Usage
//
//	eng := engine.New(q, st, gw, monitor, engine.DefaultConfig())
//	defer eng.Close()
//
//	report, err := eng.FullSync(ctx)
//	switch {
//	case errors.Is(err, engine.ErrOffline):
//	    // nothing to do until connectivity returns
//	case err != nil:
//	    // another cycle is running
//	}
package engine
