package queue

import (
	"encoding/json"
	"fmt"
)

// StateKind names a claim state variant.
type StateKind string

const (
	StateUnclaimed StateKind = "unclaimed"
	StateClaimed   StateKind = "claimed"
	StateExpired   StateKind = "expired"
)

// ClaimState is the ownership state of one entry. Exactly three variants
// exist: Unclaimed, Claimed, and Expired. Agent and timestamps are fields
// of the variant itself, so an owned state without an owner cannot be
// represented.
type ClaimState interface {
	Kind() StateKind
	isClaimState()
}

// Unclaimed means no agent owns the entry.
type Unclaimed struct{}

func (Unclaimed) Kind() StateKind { return StateUnclaimed }
func (Unclaimed) isClaimState()   {}

// Claimed means agent owns the entry until ExpiresAtMs.
type Claimed struct {
	Agent       AgentID
	ClaimedAtMs int64
	ExpiresAtMs int64
}

func (Claimed) Kind() StateKind { return StateClaimed }
func (Claimed) isClaimState()   {}

// Lapsed reports whether the lease has elapsed as of nowMs.
func (c Claimed) Lapsed(nowMs int64) bool { return c.ExpiresAtMs <= nowMs }

// NewClaimed builds a Claimed state, enforcing expiry strictly after the
// claim time.
func NewClaimed(agent AgentID, claimedAtMs, expiresAtMs int64) (Claimed, error) {
	if agent == "" {
		return Claimed{}, errorf(KindValidation, "claim", "agent id is empty")
	}
	if expiresAtMs <= claimedAtMs {
		return Claimed{}, errorf(KindValidation, "claim",
			"expiry %d is not after claim time %d", expiresAtMs, claimedAtMs)
	}
	return Claimed{Agent: agent, ClaimedAtMs: claimedAtMs, ExpiresAtMs: expiresAtMs}, nil
}

// Expired means a claim lapsed. The previous owner is retained so callers
// can audit what happened before the entry returns to Unclaimed.
type Expired struct {
	PreviousAgent AgentID
	ExpiredAtMs   int64
}

func (Expired) Kind() StateKind { return StateExpired }
func (Expired) isClaimState()   {}

// TransitionError reports a rejected claim state transition.
type TransitionError struct {
	From StateKind
	To   StateKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal claim transition %s -> %s", e.From, e.To)
}

// canTransition is the strict transition table. Self-loops are rejected;
// renewal reconstructs Claimed through its own owner-checked path instead.
func canTransition(from, to StateKind) bool {
	switch from {
	case StateUnclaimed:
		return to == StateClaimed
	case StateClaimed:
		return to == StateUnclaimed || to == StateExpired
	case StateExpired:
		return to == StateUnclaimed
	}
	return false
}

func checkTransition(from, to StateKind) error {
	if !canTransition(from, to) {
		return wrapErr(KindConflict, "transition", &TransitionError{From: from, To: to})
	}
	return nil
}

// stateJSON is the tagged persistence envelope for ClaimState.
type stateJSON struct {
	Kind          StateKind `json:"kind"`
	Agent         string    `json:"agent,omitempty"`
	ClaimedAtMs   int64     `json:"claimedAtMs,omitempty"`
	ExpiresAtMs   int64     `json:"expiresAtMs,omitempty"`
	PreviousAgent string    `json:"previousAgent,omitempty"`
	ExpiredAtMs   int64     `json:"expiredAtMs,omitempty"`
}

func marshalState(s ClaimState) ([]byte, error) {
	env, err := stateEnvelope(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func stateEnvelope(s ClaimState) (stateJSON, error) {
	switch v := s.(type) {
	case Unclaimed:
		return stateJSON{Kind: StateUnclaimed}, nil
	case Claimed:
		return stateJSON{
			Kind:        StateClaimed,
			Agent:       string(v.Agent),
			ClaimedAtMs: v.ClaimedAtMs,
			ExpiresAtMs: v.ExpiresAtMs,
		}, nil
	case Expired:
		return stateJSON{
			Kind:          StateExpired,
			PreviousAgent: string(v.PreviousAgent),
			ExpiredAtMs:   v.ExpiredAtMs,
		}, nil
	default:
		return stateJSON{}, errorf(KindFatal, "marshal state", "unknown claim state %T", s)
	}
}

func stateFromEnvelope(env stateJSON) (ClaimState, error) {
	const op = "decode state"
	switch env.Kind {
	case StateUnclaimed:
		return Unclaimed{}, nil
	case StateClaimed:
		if env.Agent == "" {
			return nil, errorf(KindFatal, op, "claimed state without agent")
		}
		if env.ExpiresAtMs <= env.ClaimedAtMs {
			return nil, errorf(KindFatal, op,
				"claimed state with expiry %d not after claim time %d", env.ExpiresAtMs, env.ClaimedAtMs)
		}
		return Claimed{
			Agent:       AgentID(env.Agent),
			ClaimedAtMs: env.ClaimedAtMs,
			ExpiresAtMs: env.ExpiresAtMs,
		}, nil
	case StateExpired:
		if env.PreviousAgent == "" {
			return nil, errorf(KindFatal, op, "expired state without previous agent")
		}
		return Expired{
			PreviousAgent: AgentID(env.PreviousAgent),
			ExpiredAtMs:   env.ExpiredAtMs,
		}, nil
	default:
		return nil, errorf(KindFatal, op, "unknown claim state kind %q", env.Kind)
	}
}
