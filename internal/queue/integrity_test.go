package queue

import (
	"context"
	"errors"
	"testing"
)

type recordingRecoverer struct {
	actions []string
	details []string
	fail    error
}

func (r *recordingRecoverer) Recover(_ context.Context, action, detail string) error {
	if r.fail != nil {
		return r.fail
	}
	r.actions = append(r.actions, action)
	r.details = append(r.details, detail)
	return nil
}

func TestCheckIntegrityCleanStore(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	mustAdd(t, repo, "ws-a", 5, "ws-a", 100)
	if _, err := repo.ClaimNext(ctx, "a1", 60_000, 200); err != nil {
		t.Fatalf("claim: %v", err)
	}
	mustAdd(t, repo, "ws-b", 1, "", 300)

	n, err := repo.CheckIntegrity(ctx)
	if err != nil || n != 0 {
		t.Fatalf("clean store repaired %d, %v", n, err)
	}
}

func TestCheckIntegrityRepairsCorruptEntry(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	added := mustAdd(t, repo, "ws-a", 5, "ws-a", 100)
	mustAdd(t, repo, "ws-b", 5, "", 200)

	// Smash the first record.
	if err := db.Set(entryKey(added.ID), []byte("garbage")); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec := &recordingRecoverer{}
	repo.recoverW = rec
	n, err := repo.CheckIntegrity(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if n == 0 {
		t.Fatal("corruption not repaired")
	}
	if len(rec.actions) == 0 || rec.actions[0] != "drop_entry" {
		t.Fatalf("recovery actions = %v", rec.actions)
	}

	// Entry is gone, its indexes cleaned, and the store checks clean now.
	if _, err := repo.Get(ctx, added.ID); !IsNotFound(err) {
		t.Fatalf("corrupt entry still present: %v", err)
	}
	n, err = repo.CheckIntegrity(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second check repaired %d, %v", n, err)
	}

	// The surviving entry is still claimable.
	got, err := repo.ClaimNext(ctx, "a1", 1000, 300)
	if err != nil || got == nil || got.Workspace != "ws-b" {
		t.Fatalf("claim after repair = %v, %v", got, err)
	}
}

func TestCheckIntegrityFailFast(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	added := mustAdd(t, repo, "ws-a", 5, "", 100)
	if err := db.Set(entryKey(added.ID), []byte("garbage")); err != nil {
		t.Fatalf("set: %v", err)
	}

	fatal := errorf(KindFatal, "recover", "corruption detected")
	repo.recoverW = &recordingRecoverer{fail: fatal}
	if _, err := repo.CheckIntegrity(ctx); !errors.Is(err, fatal) {
		t.Fatalf("fail-fast not honored: %v", err)
	}

	// No repair happened: the broken record is still there.
	raw, err := db.Get(entryKey(added.ID))
	if err != nil || string(raw) != "garbage" {
		t.Fatalf("record modified under fail-fast: %q, %v", raw, err)
	}
}

func TestCheckIntegrityDropsDanglingIndexKeys(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	mustAdd(t, repo, "ws-a", 5, "", 100)
	if err := db.Set(readyIdxKey(5, 100, 99), encodeEntryID(99)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Set(leaseIdxKey(500, 98), encodeEntryID(98)); err != nil {
		t.Fatalf("set: %v", err)
	}

	n, err := repo.CheckIntegrity(ctx)
	if err != nil || n != 2 {
		t.Fatalf("repairs = %d, %v", n, err)
	}

	// Dangling keys no longer disturb claim-next.
	got, err := repo.ClaimNext(ctx, "a1", 1000, 200)
	if err != nil || got == nil || got.Workspace != "ws-a" {
		t.Fatalf("claim = %v, %v", got, err)
	}
}

func TestCheckIntegrityRebuildsMissingIndexKeys(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	added := mustAdd(t, repo, "ws-a", 5, "ws-a", 100)
	if err := db.Delete(readyIdxKey(added.Priority, added.CreatedAtMs, added.ID)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.Delete(dedupeKey(added.DedupeKey)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	n, err := repo.CheckIntegrity(ctx)
	if err != nil || n != 2 {
		t.Fatalf("repairs = %d, %v", n, err)
	}

	got, err := repo.ClaimNext(ctx, "a1", 1000, 200)
	if err != nil || got == nil || got.ID != added.ID {
		t.Fatalf("claim after rebuild = %v, %v", got, err)
	}
	if _, err := repo.Add(ctx, "ws-a", "", 5, "ws-a", 300); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("dedupe reservation not rebuilt: %v", err)
	}
}

func TestClaimNextRepairsDanglingIndexInline(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	// A dangling key that sorts before the real entry.
	if err := db.Set(readyIdxKey(0, 1, 99), encodeEntryID(99)); err != nil {
		t.Fatalf("set: %v", err)
	}
	added := mustAdd(t, repo, "ws-a", 5, "", 100)

	rec := &recordingRecoverer{}
	repo.recoverW = rec
	got, err := repo.ClaimNext(ctx, "a1", 1000, 200)
	if err != nil || got == nil || got.ID != added.ID {
		t.Fatalf("claim = %v, %v", got, err)
	}
	if len(rec.actions) != 1 || rec.actions[0] != "drop_index_key" {
		t.Fatalf("recovery actions = %v", rec.actions)
	}
}
