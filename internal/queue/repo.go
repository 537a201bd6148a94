package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/claimq/internal/storage/pebble"
	"github.com/rzbill/claimq/pkg/log"
)

// Recoverer decides what happens when the repository detects structural
// inconsistency (corrupt record, dangling index key) during an operation.
// Returning nil lets the repository repair and continue; returning an
// error aborts the operation, which is how fail-fast is implemented.
type Recoverer interface {
	Recover(ctx context.Context, action, detail string) error
}

// Options configures a Repository.
type Options struct {
	DB     *pebblestore.DB
	Logger log.Logger
	// Recoverer handles inconsistencies found mid-operation. When nil the
	// repository repairs silently, logging at warn level.
	Recoverer Recoverer
}

// Repository is the persistence and concurrency-control boundary for
// queue entries. Mutations are serialized in-process and committed as
// single Pebble batches; cross-process exclusion comes from Pebble's
// directory lock.
type Repository struct {
	db       *pebblestore.DB
	logger   log.Logger
	recoverW Recoverer

	// mu serializes mutating operations so read-check-write sequences are
	// indivisible. Read-only operations use snapshots instead.
	mu sync.Mutex
}

// NewRepository creates a repository over an open store.
func NewRepository(opts Options) (*Repository, error) {
	if opts.DB == nil {
		return nil, errorf(KindValidation, "new repository", "Options.DB is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	return &Repository{
		db:       opts.DB,
		logger:   logger.WithComponent("queue"),
		recoverW: opts.Recoverer,
	}, nil
}

// Add creates an unclaimed entry and assigns the next id. It fails with a
// conflict when the dedupe key already identifies a live entry. nowMs <= 0
// means use the clock.
func (r *Repository) Add(ctx context.Context, ws WorkspaceName, task TaskID, prio Priority, dedupe DedupeKey, nowMs int64) (Entry, error) {
	const op = "add"

	r.mu.Lock()
	defer r.mu.Unlock()

	if !dedupe.IsZero() {
		existing, err := r.db.Get(dedupeKey(dedupe))
		switch {
		case err == nil:
			heldBy, _ := decodeEntryID(existing)
			return Entry{}, errorf(KindConflict, op, "%w: key %q held by entry %d", ErrDuplicateKey, dedupe, heldBy)
		case !pebblestore.IsNotFound(err):
			return Entry{}, wrapErr(KindTransient, op, err)
		}
	}

	last, err := r.lastID()
	if err != nil {
		return Entry{}, err
	}
	id := last + 1

	entry, err := NewEntry(id, ws, task, prio, dedupe, nowMs)
	if err != nil {
		return Entry{}, err
	}
	rec, err := encodeEntry(entry)
	if err != nil {
		return Entry{}, err
	}

	b := r.db.NewBatch()
	defer b.Close()
	_ = b.Set(metaKey(), encodeEntryID(id), nil)
	_ = b.Set(entryKey(id), rec, nil)
	_ = b.Set(readyIdxKey(entry.Priority, entry.CreatedAtMs, id), encodeEntryID(id), nil)
	if !dedupe.IsZero() {
		_ = b.Set(dedupeKey(dedupe), encodeEntryID(id), nil)
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return Entry{}, wrapErr(KindTransient, op, err)
	}

	r.logger.Debug("entry added",
		log.F("id", uint64(id)), log.F("workspace", ws.String()), log.F("priority", int32(prio)))
	return entry, nil
}

// ClaimNext atomically claims the single highest-priority eligible entry
// for agent and returns it. Ties break by creation time, then id. Returns
// (nil, nil) when no entry is eligible; it never blocks waiting for work.
// An Expired entry found in the ready index passes through
// Expired -> Unclaimed -> Claimed inside the same batch.
func (r *Repository) ClaimNext(ctx context.Context, agent AgentID, leaseMs, nowMs int64) (*Entry, error) {
	const op = "claim next"
	if agent == "" {
		return nil, errorf(KindValidation, op, "agent id is empty")
	}
	if leaseMs <= 0 {
		return nil, errorf(KindValidation, op, "lease duration %dms is not positive", leaseMs)
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lo, hi := keyRange(readyIdxPrefix)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, wrapErr(KindTransient, op, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		id, ok := idFromIndexKey(key)
		if !ok {
			if err := r.repair(ctx, "drop_index_key", fmt.Sprintf("malformed ready index key %q", key), key); err != nil {
				return nil, err
			}
			continue
		}

		entry, err := r.loadEntry(id)
		if IsNotFound(err) {
			if err := r.repair(ctx, "drop_index_key", fmt.Sprintf("ready index references missing entry %d", id), key); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			if rerr := r.repair(ctx, "drop_entry", fmt.Sprintf("entry %d unreadable: %v", id, err), key, entryKey(id)); rerr != nil {
				return nil, rerr
			}
			continue
		}

		if entry.State.Kind() == StateExpired {
			entry, err = entry.Reclaim()
			if err != nil {
				return nil, err
			}
		}
		if entry.State.Kind() != StateUnclaimed {
			// A claimed entry has no business in the ready index.
			if err := r.repair(ctx, "drop_index_key", fmt.Sprintf("ready index references claimed entry %d", id), key); err != nil {
				return nil, err
			}
			continue
		}

		claimed, err := entry.Claim(agent, leaseMs, nowMs)
		if err != nil {
			return nil, err
		}
		rec, err := encodeEntry(claimed)
		if err != nil {
			return nil, err
		}
		state := claimed.State.(Claimed)

		b := r.db.NewBatch()
		_ = b.Set(entryKey(id), rec, nil)
		_ = b.Delete(key, nil)
		_ = b.Set(leaseIdxKey(state.ExpiresAtMs, id), encodeEntryID(id), nil)
		err = r.db.CommitBatch(ctx, b)
		b.Close()
		if err != nil {
			return nil, wrapErr(KindTransient, op, err)
		}

		r.logger.Debug("entry claimed",
			log.F("id", uint64(id)), log.F("agent", agent.String()), log.F("expiresAtMs", state.ExpiresAtMs))
		return &claimed, nil
	}
	if err := iter.Error(); err != nil {
		return nil, wrapErr(KindTransient, op, err)
	}
	return nil, nil
}

// Release transitions a claimed entry back to unclaimed. Only the owning
// agent may release; a mismatch fails with ErrNotOwner, distinct from
// ErrNotClaimed.
func (r *Repository) Release(ctx context.Context, id EntryID, agent AgentID) error {
	const op = "release"
	if agent == "" {
		return errorf(KindValidation, op, "agent id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.loadEntry(id)
	if err != nil {
		return err
	}
	prev, _ := entry.State.(Claimed)
	released, err := entry.Release(agent)
	if err != nil {
		return err
	}
	rec, err := encodeEntry(released)
	if err != nil {
		return err
	}

	b := r.db.NewBatch()
	defer b.Close()
	_ = b.Set(entryKey(id), rec, nil)
	_ = b.Delete(leaseIdxKey(prev.ExpiresAtMs, id), nil)
	_ = b.Set(readyIdxKey(released.Priority, released.CreatedAtMs, id), encodeEntryID(id), nil)
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return wrapErr(KindTransient, op, err)
	}

	r.logger.Debug("entry released", log.F("id", uint64(id)), log.F("agent", agent.String()))
	return nil
}

// Renew rebuilds the owning agent's claim with a fresh lease and returns
// the updated entry.
func (r *Repository) Renew(ctx context.Context, id EntryID, agent AgentID, leaseMs, nowMs int64) (Entry, error) {
	const op = "renew"
	if agent == "" {
		return Entry{}, errorf(KindValidation, op, "agent id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.loadEntry(id)
	if err != nil {
		return Entry{}, err
	}
	prev, _ := entry.State.(Claimed)
	renewed, err := entry.Renew(agent, leaseMs, nowMs)
	if err != nil {
		return Entry{}, err
	}
	rec, err := encodeEntry(renewed)
	if err != nil {
		return Entry{}, err
	}
	state := renewed.State.(Claimed)

	b := r.db.NewBatch()
	defer b.Close()
	_ = b.Set(entryKey(id), rec, nil)
	_ = b.Delete(leaseIdxKey(prev.ExpiresAtMs, id), nil)
	_ = b.Set(leaseIdxKey(state.ExpiresAtMs, id), encodeEntryID(id), nil)
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return Entry{}, wrapErr(KindTransient, op, err)
	}

	r.logger.Debug("claim renewed",
		log.F("id", uint64(id)), log.F("agent", agent.String()), log.F("expiresAtMs", state.ExpiresAtMs))
	return renewed, nil
}

// ExpireClaims transitions every claimed entry whose lease has lapsed as
// of nowMs to Expired and returns the count affected. Expired entries are
// re-inserted into the ready index so claim-next can reclaim them.
// Idempotent: a second run with no intervening claims affects nothing.
func (r *Repository) ExpireClaims(ctx context.Context, nowMs int64) (int, error) {
	const op = "expire claims"
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lo := []byte(leaseIdxPrefix)
	hi := leaseIdxKey(nowMs+1, 0)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, wrapErr(KindTransient, op, err)
	}
	var lapsed [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		lapsed = append(lapsed, append([]byte(nil), iter.Key()...))
	}
	ierr := iter.Error()
	iter.Close()
	if ierr != nil {
		return 0, wrapErr(KindTransient, op, ierr)
	}
	if len(lapsed) == 0 {
		return 0, nil
	}

	count := 0
	b := r.db.NewBatch()
	defer b.Close()
	for _, key := range lapsed {
		id, ok := idFromIndexKey(key)
		if !ok {
			if err := r.repairInBatch(ctx, b, "drop_index_key", fmt.Sprintf("malformed lease index key %q", key), key); err != nil {
				return 0, err
			}
			continue
		}
		entry, err := r.loadEntry(id)
		if IsNotFound(err) {
			if err := r.repairInBatch(ctx, b, "drop_index_key", fmt.Sprintf("lease index references missing entry %d", id), key); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			if rerr := r.repairInBatch(ctx, b, "drop_entry", fmt.Sprintf("entry %d unreadable: %v", id, err), key, entryKey(id)); rerr != nil {
				return 0, rerr
			}
			continue
		}
		if !entry.HasLapsed(nowMs) {
			// Stale index key left behind by an earlier transition.
			if err := r.repairInBatch(ctx, b, "drop_index_key", fmt.Sprintf("lease index out of date for entry %d", id), key); err != nil {
				return 0, err
			}
			continue
		}

		expired, err := entry.Expire(nowMs)
		if err != nil {
			return 0, err
		}
		rec, err := encodeEntry(expired)
		if err != nil {
			return 0, err
		}
		_ = b.Set(entryKey(id), rec, nil)
		_ = b.Delete(key, nil)
		_ = b.Set(readyIdxKey(expired.Priority, expired.CreatedAtMs, id), encodeEntryID(id), nil)
		count++
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return 0, wrapErr(KindTransient, op, err)
	}

	if count > 0 {
		r.logger.Info("claims expired", log.F("count", count), log.F("nowMs", nowMs))
	}
	return count, nil
}

// Remove deletes an entry. Removing an entry claimed by another agent
// fails with ErrNotOwner unless force is set.
func (r *Repository) Remove(ctx context.Context, id EntryID, agent AgentID, force bool) error {
	const op = "remove"

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.loadEntry(id)
	if err != nil {
		return err
	}

	b := r.db.NewBatch()
	defer b.Close()
	switch state := entry.State.(type) {
	case Claimed:
		if state.Agent != agent && !force {
			return errorf(KindConflict, op, "%w: held by %s", ErrNotOwner, state.Agent)
		}
		_ = b.Delete(leaseIdxKey(state.ExpiresAtMs, id), nil)
	default:
		_ = b.Delete(readyIdxKey(entry.Priority, entry.CreatedAtMs, id), nil)
	}
	_ = b.Delete(entryKey(id), nil)
	if !entry.DedupeKey.IsZero() {
		_ = b.Delete(dedupeKey(entry.DedupeKey), nil)
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return wrapErr(KindTransient, op, err)
	}

	r.logger.Debug("entry removed", log.F("id", uint64(id)), log.F("force", force))
	return nil
}

// Get returns the entry with the given id.
func (r *Repository) Get(_ context.Context, id EntryID) (Entry, error) {
	return r.loadEntry(id)
}

// ListUnclaimed returns entries eligible for claim-next, in scheduling
// order. Expired entries are included since they are reclaimable.
func (r *Repository) ListUnclaimed(_ context.Context) ([]Entry, error) {
	const op = "list unclaimed"
	snap := r.db.NewSnapshot()
	defer snap.Close()

	lo, hi := keyRange(readyIdxPrefix)
	iter, err := snap.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, wrapErr(KindTransient, op, err)
	}
	defer iter.Close()

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		id, ok := idFromIndexKey(iter.Key())
		if !ok {
			continue
		}
		entry, err := r.loadEntryFrom(snapGetter{snap}, id)
		if err != nil {
			r.logger.Warn("skipping unreadable entry", log.F("id", uint64(id)), log.Err(err))
			continue
		}
		out = append(out, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, wrapErr(KindTransient, op, err)
	}
	return out, nil
}

// ListAll returns every entry, ascending by id.
func (r *Repository) ListAll(_ context.Context) ([]Entry, error) {
	const op = "list all"
	snap := r.db.NewSnapshot()
	defer snap.Close()

	lo, hi := keyRange(entryPrefix)
	iter, err := snap.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, wrapErr(KindTransient, op, err)
	}
	defer iter.Close()

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		entry, err := decodeEntry(iter.Value())
		if err != nil {
			r.logger.Warn("skipping unreadable entry", log.F("key", string(iter.Key())), log.Err(err))
			continue
		}
		out = append(out, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, wrapErr(KindTransient, op, err)
	}
	return out, nil
}

// Stats summarizes entry counts by claim state.
type Stats struct {
	Total     int `json:"total"`
	Unclaimed int `json:"unclaimed"`
	Claimed   int `json:"claimed"`
	Expired   int `json:"expired"`
}

// Stats returns counts by claim-state category from a consistent snapshot.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	entries, err := r.ListAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	s.Total = len(entries)
	for _, e := range entries {
		switch e.State.Kind() {
		case StateUnclaimed:
			s.Unclaimed++
		case StateClaimed:
			s.Claimed++
		case StateExpired:
			s.Expired++
		}
	}
	return s, nil
}

// lastID reads the id counter, zero when the store is fresh.
func (r *Repository) lastID() (EntryID, error) {
	raw, err := r.db.Get(metaKey())
	if pebblestore.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr(KindTransient, "read meta", err)
	}
	id, ok := decodeEntryID(raw)
	if !ok {
		return 0, errorf(KindFatal, "read meta", "%w: meta record has %d bytes", ErrCorruptRecord, len(raw))
	}
	return id, nil
}

type getter interface {
	Get(key []byte) ([]byte, error)
}

type snapGetter struct {
	snap *pebble.Snapshot
}

func (g snapGetter) Get(key []byte) ([]byte, error) {
	val, closer, err := g.snap.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (r *Repository) loadEntry(id EntryID) (Entry, error) {
	return r.loadEntryFrom(r.db, id)
}

func (r *Repository) loadEntryFrom(g getter, id EntryID) (Entry, error) {
	raw, err := g.Get(entryKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, errorf(KindNotFound, "load entry", "entry %d not found", id)
		}
		return Entry{}, wrapErr(KindTransient, "load entry", err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, err
	}
	if entry.ID != id {
		return Entry{}, errorf(KindFatal, "load entry", "%w: record under key %d carries id %d", ErrCorruptRecord, id, entry.ID)
	}
	return entry, nil
}

// repair consults the recoverer and, when allowed, deletes the given keys
// in one batch. With no recoverer wired it repairs silently at warn level.
func (r *Repository) repair(ctx context.Context, action, detail string, keys ...[]byte) error {
	b := r.db.NewBatch()
	defer b.Close()
	if err := r.repairInBatch(ctx, b, action, detail, keys...); err != nil {
		return err
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return wrapErr(KindTransient, "repair", err)
	}
	return nil
}

func (r *Repository) repairInBatch(ctx context.Context, b *pebble.Batch, action, detail string, keys ...[]byte) error {
	if r.recoverW != nil {
		if err := r.recoverW.Recover(ctx, action, detail); err != nil {
			return err
		}
	} else {
		r.logger.Warn("repairing inconsistency", log.F("action", action), log.F("detail", detail))
	}
	for _, k := range keys {
		_ = b.Delete(k, nil)
	}
	return nil
}
