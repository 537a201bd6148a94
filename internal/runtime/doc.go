// Package runtime wires storage, recovery, and the repository into a
// single-host claimq instance. It exposes Open/Close, a basic health
// check, and accessors used by the CLI and worker.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	entry, _ := rt.Repo().Add(ctx, ws, task, queue.PriorityDefault, "", 0)
package runtime
