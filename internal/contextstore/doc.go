// Package contextstore provides the shared context that work units use to
// communicate: a versioned key/value table plus an append-only event log.
//
// All operations on a [Store] are serialized by one in-process mutex.
// Compound read-modify-write sequences go through [Store.AtomicUpdate],
// whose function receives a [Tx] over the already-locked state, so no
// reentrant locking is needed. A committed transaction bumps the version
// exactly once.
//
// # Persistence
//
// [Store.Save] writes the whole snapshot to a temp file in the storage
// directory, fsyncs it and renames it over the canonical file while holding
// an exclusive flock(2) on a sibling lock file. [Load] takes a shared lock,
// removes stale temp files and parses the snapshot. A corrupted snapshot is
// renamed aside and replaced by a fresh store; it never fails the caller.
//
// Layout of a storage directory:
//
//	context.json                      canonical snapshot
//	context.lock                      lock token, always empty
//	context-<random>.json.tmp         in-progress save
//	context.json.corrupt-<timestamp>  quarantined snapshot
//
// # Usage
//
//	store, err := contextstore.Load("shop", ".autodev/ctx", contextstore.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if rec := store.Recovered(); rec != nil {
//	    logger.Warn("started from a fresh context", "error", rec)
//	}
//
//	store.Set("api_spec", spec)
//	_, err = store.AtomicUpdate(func(tx *contextstore.Tx) (any, error) {
//	    n, _ := tx.Get("builds", 0.0).(float64)
//	    tx.Set("builds", n+1)
//	    return nil, nil
//	})
//	if err := store.Save(); err != nil {
//	    return err
//	}
package contextstore
