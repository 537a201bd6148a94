package queue

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/claimq/pkg/log"
)

// CheckIntegrity verifies the store's structural invariants and repairs
// what the recoverer allows: unreadable entry records, dangling or stale
// index keys, missing index keys, orphaned dedupe reservations, and an id
// counter behind the highest assigned id. It returns the number of
// repairs applied. Intended to run once at startup before the repository
// serves operations.
func (r *Repository) CheckIntegrity(ctx context.Context) (int, error) {
	const op = "check integrity"

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.db.NewBatch()
	defer b.Close()
	repairs := 0
	repair := func(action, detail string, keys ...[]byte) error {
		if err := r.repairInBatch(ctx, b, action, detail, keys...); err != nil {
			return err
		}
		repairs++
		return nil
	}

	entries := make(map[EntryID]Entry)
	var maxID EntryID
	if err := r.scan(entryPrefix, func(key, val []byte) error {
		entry, err := decodeEntry(val)
		if err != nil {
			return repair("drop_entry", fmt.Sprintf("unreadable entry record %q: %v", key, err), append([]byte(nil), key...))
		}
		entries[entry.ID] = entry
		if entry.ID > maxID {
			maxID = entry.ID
		}
		return nil
	}); err != nil {
		return repairs, err
	}

	// Ready index must reference exactly the unclaimed and expired entries.
	readySeen := make(map[EntryID]bool)
	if err := r.scan(readyIdxPrefix, func(key, _ []byte) error {
		id, ok := idFromIndexKey(key)
		if !ok {
			return repair("drop_index_key", fmt.Sprintf("malformed ready index key %q", key), append([]byte(nil), key...))
		}
		entry, ok := entries[id]
		if !ok {
			return repair("drop_index_key", fmt.Sprintf("ready index references missing entry %d", id), append([]byte(nil), key...))
		}
		if entry.State.Kind() == StateClaimed {
			return repair("drop_index_key", fmt.Sprintf("ready index references claimed entry %d", id), append([]byte(nil), key...))
		}
		readySeen[id] = true
		return nil
	}); err != nil {
		return repairs, err
	}

	// Lease index must reference exactly the claimed entries at their expiry.
	leaseSeen := make(map[EntryID]bool)
	if err := r.scan(leaseIdxPrefix, func(key, _ []byte) error {
		id, ok := idFromIndexKey(key)
		if !ok {
			return repair("drop_index_key", fmt.Sprintf("malformed lease index key %q", key), append([]byte(nil), key...))
		}
		entry, ok := entries[id]
		if !ok {
			return repair("drop_index_key", fmt.Sprintf("lease index references missing entry %d", id), append([]byte(nil), key...))
		}
		claimed, isClaimed := entry.State.(Claimed)
		expiry, _ := expiryFromLeaseKey(key)
		if !isClaimed || claimed.ExpiresAtMs != expiry {
			return repair("drop_index_key", fmt.Sprintf("lease index out of date for entry %d", id), append([]byte(nil), key...))
		}
		leaseSeen[id] = true
		return nil
	}); err != nil {
		return repairs, err
	}

	// Dedupe reservations must point at a live entry carrying the same key.
	dedupeSeen := make(map[DedupeKey]bool)
	if err := r.scan(dedupePrefix, func(key, val []byte) error {
		dk := DedupeKey(key[len(dedupePrefix):])
		id, ok := decodeEntryID(val)
		if !ok {
			return repair("drop_dedupe", fmt.Sprintf("malformed dedupe reservation %q", key), append([]byte(nil), key...))
		}
		entry, exists := entries[id]
		if !exists || entry.DedupeKey != dk {
			return repair("drop_dedupe", fmt.Sprintf("dedupe key %q points at entry %d which does not carry it", dk, id), append([]byte(nil), key...))
		}
		dedupeSeen[dk] = true
		return nil
	}); err != nil {
		return repairs, err
	}

	// Rebuild index keys entries are missing.
	for id, entry := range entries {
		switch state := entry.State.(type) {
		case Claimed:
			if !leaseSeen[id] {
				if err := r.reportRepair(ctx, "rebuild_index_key", fmt.Sprintf("claimed entry %d missing lease index key", id)); err != nil {
					return repairs, err
				}
				_ = b.Set(leaseIdxKey(state.ExpiresAtMs, id), encodeEntryID(id), nil)
				repairs++
			}
		default:
			if !readySeen[id] {
				if err := r.reportRepair(ctx, "rebuild_index_key", fmt.Sprintf("entry %d missing ready index key", id)); err != nil {
					return repairs, err
				}
				_ = b.Set(readyIdxKey(entry.Priority, entry.CreatedAtMs, id), encodeEntryID(id), nil)
				repairs++
			}
		}
		if !entry.DedupeKey.IsZero() && !dedupeSeen[entry.DedupeKey] {
			if err := r.reportRepair(ctx, "rebuild_dedupe", fmt.Sprintf("entry %d missing dedupe reservation %q", id, entry.DedupeKey)); err != nil {
				return repairs, err
			}
			_ = b.Set(dedupeKey(entry.DedupeKey), encodeEntryID(id), nil)
			repairs++
			dedupeSeen[entry.DedupeKey] = true
		}
	}

	// Keep the id counter ahead of every assigned id.
	last, err := r.lastID()
	if err != nil && !IsFatal(err) {
		return repairs, err
	}
	if err != nil || last < maxID {
		if rerr := r.reportRepair(ctx, "rebuild_meta", fmt.Sprintf("id counter %d behind highest entry id %d", last, maxID)); rerr != nil {
			return repairs, rerr
		}
		_ = b.Set(metaKey(), encodeEntryID(maxID), nil)
		repairs++
	}

	if repairs == 0 {
		return 0, nil
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return repairs, wrapErr(KindTransient, op, err)
	}
	r.logger.Info("integrity check repaired inconsistencies", log.F("repairs", repairs))
	return repairs, nil
}

// reportRepair consults the recoverer without queuing deletions.
func (r *Repository) reportRepair(ctx context.Context, action, detail string) error {
	if r.recoverW != nil {
		return r.recoverW.Recover(ctx, action, detail)
	}
	r.logger.Warn("repairing inconsistency", log.F("action", action), log.F("detail", detail))
	return nil
}

// scan iterates every key under prefix on the live store. Iterator
// failures come back transient; fn errors pass through unchanged.
func (r *Repository) scan(prefix string, fn func(key, val []byte) error) error {
	lo, hi := keyRange(prefix)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return wrapErr(KindTransient, "scan", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return wrapErr(KindTransient, "scan", err)
	}
	return nil
}
