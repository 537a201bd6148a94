// Package pebblestore wraps Pebble with the durability and access policy
// the queue repository needs: a configurable WAL fsync mode, atomic
// batches for multi-key claim transitions, snapshots for consistent
// listings, and helpers for classifying storage errors.
//
// Pebble also provides the cross-process story: it takes an exclusive
// lock on the data directory at Open, so a second process sharing the
// same queue gets a lock-busy error (see IsLockUnavailable) instead of
// corrupting state.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: dir,
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { ... }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set(entryKey, rec, nil)
//	_ = b.Delete(readyKey, nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
package pebblestore
