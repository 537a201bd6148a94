package queue

import (
	"encoding/json"
	"errors"
	"testing"
)

func testEntry(t *testing.T) Entry {
	t.Helper()
	e, err := NewEntry(1, "ws-a", "", PriorityDefault, "", 1000)
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	return e
}

func TestNewEntryValidation(t *testing.T) {
	if _, err := NewEntry(0, "ws", "", 5, "", 1); !IsValidation(err) {
		t.Fatal("zero id accepted")
	}
	if _, err := NewEntry(1, "", "", 5, "", 1); !IsValidation(err) {
		t.Fatal("empty workspace accepted")
	}
	if _, err := NewEntry(1, "ws", "", -1, "", 1); !IsValidation(err) {
		t.Fatal("negative priority accepted")
	}
	e, err := NewEntry(1, "ws", "", 5, "", 0)
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	if e.CreatedAtMs <= 0 {
		t.Fatal("clock fallback not applied")
	}
	if e.State.Kind() != StateUnclaimed {
		t.Fatalf("fresh entry state = %v", e.State.Kind())
	}
}

func TestClaimReleaseCycle(t *testing.T) {
	e := testEntry(t)

	claimed, err := e.Claim("a1", 10_000, 2000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	state := claimed.State.(Claimed)
	if state.Agent != "a1" || state.ClaimedAtMs != 2000 || state.ExpiresAtMs != 12_000 {
		t.Fatalf("claimed state = %+v", state)
	}
	if e.State.Kind() != StateUnclaimed {
		t.Fatal("Claim mutated the receiver")
	}

	if _, err := claimed.Release("a2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign release: %v", err)
	}
	if _, err := e.Release("a1"); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("release of unclaimed: %v", err)
	}

	released, err := claimed.Release("a1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.State.Kind() != StateUnclaimed {
		t.Fatalf("released state = %v", released.State.Kind())
	}
}

func TestClaimRejectsDoubleClaim(t *testing.T) {
	e := testEntry(t)
	claimed, err := e.Claim("a1", 1000, 2000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := claimed.Claim("a2", 1000, 2100); !IsConflict(err) {
		t.Fatalf("double claim: %v", err)
	}
}

func TestExpireAndReclaim(t *testing.T) {
	e := testEntry(t)
	claimed, err := e.Claim("a1", 1000, 2000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := claimed.Expire(2500); !IsConflict(err) {
		t.Fatal("expire before lapse accepted")
	}
	if !claimed.HasLapsed(3000) {
		t.Fatal("HasLapsed false at expiry")
	}

	expired, err := claimed.Expire(3000)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	state := expired.State.(Expired)
	if state.PreviousAgent != "a1" || state.ExpiredAtMs != 3000 {
		t.Fatalf("expired state = %+v", state)
	}

	if _, err := expired.Claim("a2", 1000, 3100); !IsConflict(err) {
		t.Fatal("direct Expired -> Claimed accepted")
	}
	reclaimed, err := expired.Reclaim()
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed.State.Kind() != StateUnclaimed {
		t.Fatalf("reclaimed state = %v", reclaimed.State.Kind())
	}
	if _, err := reclaimed.Claim("a2", 1000, 3200); err != nil {
		t.Fatalf("claim after reclaim: %v", err)
	}
}

func TestExpireOfUnclaimedRejected(t *testing.T) {
	e := testEntry(t)
	if _, err := e.Expire(5000); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("expire of unclaimed: %v", err)
	}
	if _, err := e.Reclaim(); !IsConflict(err) {
		t.Fatal("reclaim of unclaimed accepted")
	}
}

func TestRenew(t *testing.T) {
	e := testEntry(t)
	claimed, err := e.Claim("a1", 1000, 2000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	renewed, err := claimed.Renew("a1", 5000, 2500)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	state := renewed.State.(Claimed)
	if state.ClaimedAtMs != 2500 || state.ExpiresAtMs != 7500 {
		t.Fatalf("renewed state = %+v", state)
	}

	if _, err := claimed.Renew("a2", 5000, 2500); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign renew: %v", err)
	}
	if _, err := e.Renew("a1", 5000, 2500); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("renew of unclaimed: %v", err)
	}
	if _, err := claimed.Renew("a1", 0, 2500); !IsValidation(err) {
		t.Fatal("zero lease renew accepted")
	}
}

func TestEntryJSONRoundTripAllStates(t *testing.T) {
	base := Entry{
		ID:          3,
		Workspace:   "ws-b",
		Task:        "bd-2a",
		Priority:    PriorityHigh,
		CreatedAtMs: 777,
		DedupeKey:   "ws-b",
	}
	for _, state := range []ClaimState{
		Unclaimed{},
		Claimed{Agent: "a1", ClaimedAtMs: 800, ExpiresAtMs: 900},
		Expired{PreviousAgent: "a1", ExpiredAtMs: 950},
	} {
		orig := base
		orig.State = state
		raw, err := json.Marshal(orig)
		if err != nil {
			t.Fatalf("marshal %v: %v", state.Kind(), err)
		}
		var got Entry
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %v: %v", state.Kind(), err)
		}
		if got != orig {
			t.Fatalf("round trip %v:\n got %#v\nwant %#v", state.Kind(), got, orig)
		}
	}
}
