package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/claimq/internal/config"
	"github.com/rzbill/claimq/internal/queue"
)

func openTestRuntime(t *testing.T, dir string) *Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = dir
	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestOpenCloseHealth(t *testing.T) {
	rt := openTestRuntime(t, t.TempDir())
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	rt := openTestRuntime(t, t.TempDir())

	ws, err := queue.ParseWorkspaceName("repo-alpha")
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	task, err := queue.ParseTaskID("bd-1f2e")
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	entry, err := rt.Repo().Add(ctx, ws, task, queue.PriorityDefault, "", 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	agent, err := queue.ParseAgentID("agent-1")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	claimed, err := rt.Repo().ClaimNext(ctx, agent, rt.Config().DefaultLeaseMs, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != entry.ID {
		t.Fatalf("claimed %d, want %d", claimed.ID, entry.ID)
	}
}

func TestSecondOpenIsTransient(t *testing.T) {
	dir := t.TempDir()
	_ = openTestRuntime(t, dir)

	cfg := cfgpkg.Default()
	cfg.DataDir = dir
	rt2, err := Open(Options{Config: cfg})
	if err == nil {
		rt2.Close()
		t.Fatal("second open succeeded while lock held")
	}
	if !queue.IsTransient(err) {
		t.Fatalf("second open error not transient: %v", err)
	}
}

func TestReopenSeesState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := cfgpkg.Default()
	cfg.DataDir = dir
	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ws, _ := queue.ParseWorkspaceName("repo-beta")
	task, _ := queue.ParseTaskID("bd-cafe")
	if _, err := rt.Repo().Add(ctx, ws, task, queue.PriorityHigh, "", 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt2 := openTestRuntime(t, dir)
	stats, err := rt2.Repo().Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Unclaimed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
