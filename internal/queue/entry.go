package queue

import (
	"encoding/json"
	"time"
)

// Entry is the unit-of-work aggregate. It is created by Repository.Add and
// mutated only through the repository's atomic operations; the transition
// methods below return a new value rather than mutating the receiver.
type Entry struct {
	ID          EntryID
	Workspace   WorkspaceName
	Task        TaskID
	Priority    Priority
	State       ClaimState
	CreatedAtMs int64
	DedupeKey   DedupeKey
}

// NewEntry builds an unclaimed entry. nowMs <= 0 means use the clock.
func NewEntry(id EntryID, ws WorkspaceName, task TaskID, prio Priority, dedupe DedupeKey, nowMs int64) (Entry, error) {
	if id.IsZero() {
		return Entry{}, errorf(KindValidation, "new entry", "entry id is zero")
	}
	if ws == "" {
		return Entry{}, errorf(KindValidation, "new entry", "workspace name is empty")
	}
	if prio < 0 {
		return Entry{}, errorf(KindValidation, "new entry", "priority %d is negative", prio)
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	return Entry{
		ID:          id,
		Workspace:   ws,
		Task:        task,
		Priority:    prio,
		State:       Unclaimed{},
		CreatedAtMs: nowMs,
		DedupeKey:   dedupe,
	}, nil
}

// Claim transitions Unclaimed -> Claimed for agent with the given lease.
func (e Entry) Claim(agent AgentID, leaseMs, nowMs int64) (Entry, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if leaseMs <= 0 {
		return Entry{}, errorf(KindValidation, "claim", "lease duration %dms is not positive", leaseMs)
	}
	if err := checkTransition(e.State.Kind(), StateClaimed); err != nil {
		return Entry{}, err
	}
	claimed, err := NewClaimed(agent, nowMs, nowMs+leaseMs)
	if err != nil {
		return Entry{}, err
	}
	e.State = claimed
	return e, nil
}

// Release transitions Claimed -> Unclaimed. Only the owning agent may
// release; a mismatch is a conflict, distinct from "not claimed".
func (e Entry) Release(agent AgentID) (Entry, error) {
	claimed, ok := e.State.(Claimed)
	if !ok {
		return Entry{}, wrapErr(KindConflict, "release", ErrNotClaimed)
	}
	if claimed.Agent != agent {
		return Entry{}, errorf(KindConflict, "release", "%w: held by %s", ErrNotOwner, claimed.Agent)
	}
	if err := checkTransition(StateClaimed, StateUnclaimed); err != nil {
		return Entry{}, err
	}
	e.State = Unclaimed{}
	return e, nil
}

// Expire transitions a lapsed Claimed -> Expired, recording the previous
// owner for audit.
func (e Entry) Expire(nowMs int64) (Entry, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	claimed, ok := e.State.(Claimed)
	if !ok {
		return Entry{}, wrapErr(KindConflict, "expire", ErrNotClaimed)
	}
	if !claimed.Lapsed(nowMs) {
		return Entry{}, errorf(KindConflict, "expire",
			"lease on entry %d holds until %d", e.ID, claimed.ExpiresAtMs)
	}
	if err := checkTransition(StateClaimed, StateExpired); err != nil {
		return Entry{}, err
	}
	e.State = Expired{PreviousAgent: claimed.Agent, ExpiredAtMs: nowMs}
	return e, nil
}

// Reclaim transitions Expired -> Unclaimed, making the entry eligible for
// claim-next again.
func (e Entry) Reclaim() (Entry, error) {
	if err := checkTransition(e.State.Kind(), StateUnclaimed); err != nil {
		return Entry{}, err
	}
	e.State = Unclaimed{}
	return e, nil
}

// Renew rebuilds the Claimed state with fresh timestamps for the owning
// agent. This is the explicit renewal path; expiry is never mutated in
// place.
func (e Entry) Renew(agent AgentID, leaseMs, nowMs int64) (Entry, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if leaseMs <= 0 {
		return Entry{}, errorf(KindValidation, "renew", "lease duration %dms is not positive", leaseMs)
	}
	claimed, ok := e.State.(Claimed)
	if !ok {
		return Entry{}, wrapErr(KindConflict, "renew", ErrNotClaimed)
	}
	if claimed.Agent != agent {
		return Entry{}, errorf(KindConflict, "renew", "%w: held by %s", ErrNotOwner, claimed.Agent)
	}
	renewed, err := NewClaimed(agent, nowMs, nowMs+leaseMs)
	if err != nil {
		return Entry{}, err
	}
	e.State = renewed
	return e, nil
}

// HasLapsed reports whether the entry is a stale claim as of nowMs.
func (e Entry) HasLapsed(nowMs int64) bool {
	claimed, ok := e.State.(Claimed)
	return ok && claimed.Lapsed(nowMs)
}

// entryJSON is the persistence envelope for Entry.
type entryJSON struct {
	ID          uint64    `json:"id"`
	Workspace   string    `json:"workspace"`
	Task        string    `json:"task,omitempty"`
	Priority    int32     `json:"priority"`
	State       stateJSON `json:"state"`
	CreatedAtMs int64     `json:"createdAtMs"`
	DedupeKey   string    `json:"dedupeKey,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	env, err := stateEnvelope(e.State)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryJSON{
		ID:          uint64(e.ID),
		Workspace:   string(e.Workspace),
		Task:        string(e.Task),
		Priority:    int32(e.Priority),
		State:       env,
		CreatedAtMs: e.CreatedAtMs,
		DedupeKey:   string(e.DedupeKey),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Records that decode to an
// unrepresentable state (claimed without owner, unknown kind) fail with a
// fatal error so the recovery policy can decide what to do.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var env entryJSON
	if err := json.Unmarshal(b, &env); err != nil {
		return wrapErr(KindFatal, "decode entry", err)
	}
	state, err := stateFromEnvelope(env.State)
	if err != nil {
		return err
	}
	*e = Entry{
		ID:          EntryID(env.ID),
		Workspace:   WorkspaceName(env.Workspace),
		Task:        TaskID(env.Task),
		Priority:    Priority(env.Priority),
		State:       state,
		CreatedAtMs: env.CreatedAtMs,
		DedupeKey:   DedupeKey(env.DedupeKey),
	}
	return nil
}
