package queue

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"

	"pgregory.net/rapid"
)

// Bytewise ready-index ordering must agree with the scheduling comparator
// (priority, creation time, id) for arbitrary inputs.
func TestPropertyReadyKeyOrderMatchesScheduling(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		type item struct {
			prio    int32
			created int64
			id      uint64
		}
		n := rapid.IntRange(2, 30).Draw(rt, "n")
		items := make([]item, n)
		seen := map[uint64]bool{}
		for i := range items {
			id := rapid.Uint64Range(1, 1000).Draw(rt, "id")
			for seen[id] {
				id++
			}
			seen[id] = true
			items[i] = item{
				prio:    rapid.Int32Range(0, 1<<31-1).Draw(rt, "prio"),
				created: rapid.Int64Range(0, 1<<40).Draw(rt, "created"),
				id:      id,
			}
		}

		bySchedule := append([]item(nil), items...)
		sort.Slice(bySchedule, func(i, j int) bool {
			a, b := bySchedule[i], bySchedule[j]
			if a.prio != b.prio {
				return a.prio < b.prio
			}
			if a.created != b.created {
				return a.created < b.created
			}
			return a.id < b.id
		})

		byKey := append([]item(nil), items...)
		sort.Slice(byKey, func(i, j int) bool {
			a := readyIdxKey(Priority(byKey[i].prio), byKey[i].created, EntryID(byKey[i].id))
			b := readyIdxKey(Priority(byKey[j].prio), byKey[j].created, EntryID(byKey[j].id))
			return bytes.Compare(a, b) < 0
		})

		for i := range bySchedule {
			if bySchedule[i] != byKey[i] {
				rt.Fatalf("orders diverge at %d: %v vs %v", i, bySchedule[i], byKey[i])
			}
		}
	})
}

// Any sequence of legal transitions keeps the entry in a representable
// state, and illegal transitions are always rejected.
func TestPropertyStateMachineNeverCorrupts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		entry, err := NewEntry(1, "ws", "", 5, "", 1000)
		if err != nil {
			rt.Fatalf("new entry: %v", err)
		}
		now := int64(1000)
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			now += rapid.Int64Range(1, 10_000).Draw(rt, "advance")
			op := rapid.SampledFrom([]string{"claim", "release", "expire", "reclaim", "renew"}).Draw(rt, "op")

			before := entry.State.Kind()
			var next Entry
			switch op {
			case "claim":
				next, err = entry.Claim("a1", 5000, now)
			case "release":
				next, err = entry.Release("a1")
			case "expire":
				next, err = entry.Expire(now)
			case "reclaim":
				next, err = entry.Reclaim()
			case "renew":
				next, err = entry.Renew("a1", 5000, now)
			}
			if err != nil {
				if KindOf(err) == 0 {
					rt.Fatalf("%s from %s returned unclassified error: %v", op, before, err)
				}
				continue
			}
			entry = next

			// Whatever happened, the state must survive a round trip.
			raw, err := json.Marshal(entry)
			if err != nil {
				rt.Fatalf("marshal after %s: %v", op, err)
			}
			var back Entry
			if err := json.Unmarshal(raw, &back); err != nil {
				rt.Fatalf("unmarshal after %s: %v", op, err)
			}
			if back != entry {
				rt.Fatalf("round trip mismatch after %s", op)
			}

			if claimed, ok := entry.State.(Claimed); ok {
				if claimed.Agent == "" || claimed.ExpiresAtMs <= claimed.ClaimedAtMs {
					rt.Fatalf("unrepresentable claimed state reached: %+v", claimed)
				}
			}
		}
	})
}

// Framed records either decode to the exact original payload or fail with
// the corruption sentinel; nothing in between.
func TestPropertyRecordFraming(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(rt, "payload")
		rec := EncodeRecord(payload)

		got, err := DecodeRecord(rec)
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got, payload) {
			rt.Fatalf("payload mismatch")
		}

		if len(rec) > 0 {
			i := rapid.IntRange(0, len(rec)-1).Draw(rt, "flip_at")
			bit := byte(1) << rapid.IntRange(0, 7).Draw(rt, "flip_bit")
			mut := append([]byte(nil), rec...)
			mut[i] ^= bit
			if _, err := DecodeRecord(mut); err == nil {
				rt.Fatalf("single-bit corruption at %d not detected", i)
			}
		}
	})
}
