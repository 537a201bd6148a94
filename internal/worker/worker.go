package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rzbill/claimq/internal/queue"
	"github.com/rzbill/claimq/pkg/log"
)

// Handler processes one claimed entry. A nil error removes the entry; an
// error releases it back to the queue for another agent.
type Handler func(ctx context.Context, e queue.Entry) error

// Options configures a Worker.
type Options struct {
	Repo   *queue.Repository
	Logger log.Logger
	Handle Handler
	// Agent is the claiming identity. Zero means a generated one.
	Agent queue.AgentID
	// LeaseMs is the claim lease; the heartbeat renews at a third of it.
	LeaseMs int64
	// Poll is the idle sleep between empty claim attempts.
	Poll time.Duration
	// ExpireInterval is the stale-claim sweep cadence. Zero disables the
	// sweep goroutine.
	ExpireInterval time.Duration
	Retry          RetryPolicy
}

// Worker claims entries one at a time and hands them to a Handler,
// keeping the lease alive while the handler runs.
type Worker struct {
	repo    *queue.Repository
	logger  log.Logger
	handle  Handler
	agent   queue.AgentID
	leaseMs int64
	poll    time.Duration
	retry   RetryPolicy

	// sweepNs is the sweep cadence in nanoseconds, read each cycle so
	// config reloads take effect without a restart. Zero at Run time
	// disables the sweep goroutine. sweepCh nudges the loop to re-arm
	// its timer when the cadence changes.
	sweepNs atomic.Int64
	sweepCh chan struct{}
}

// New validates options and builds a Worker.
func New(opts Options) (*Worker, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("worker: Options.Repo is required")
	}
	if opts.Handle == nil {
		return nil, fmt.Errorf("worker: Options.Handle is required")
	}
	agent := opts.Agent
	if agent.IsZero() {
		var err error
		agent, err = queue.ParseAgentID("worker-" + uuid.NewString())
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	leaseMs := opts.LeaseMs
	if leaseMs <= 0 {
		leaseMs = (5 * time.Minute).Milliseconds()
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = time.Second
	}
	pol := opts.Retry
	if pol == (RetryPolicy{}) {
		pol = defaultRetryPolicy()
	}
	w := &Worker{
		repo:    opts.Repo,
		logger:  logger.WithComponent("worker").With(log.F("agent", agent.String())),
		handle:  opts.Handle,
		agent:   agent,
		leaseMs: leaseMs,
		poll:    poll,
		retry:   pol,
		sweepCh: make(chan struct{}, 1),
	}
	if opts.ExpireInterval > 0 {
		w.sweepNs.Store(int64(opts.ExpireInterval))
	}
	return w, nil
}

// SetExpireInterval updates the sweep cadence; the sweep loop re-arms
// immediately. Values <= 0 are ignored.
func (w *Worker) SetExpireInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	w.sweepNs.Store(int64(d))
	select {
	case w.sweepCh <- struct{}{}:
	default:
	}
}

// Agent returns the worker's claiming identity.
func (w *Worker) Agent() queue.AgentID { return w.agent }

// Run claims and processes entries until ctx is canceled. It returns nil
// on cancellation and the first fatal error otherwise.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if w.sweepNs.Load() > 0 {
		g.Go(func() error { return w.sweepLoop(ctx) })
	}
	g.Go(func() error { return w.claimLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) sweepLoop(ctx context.Context) error {
	t := time.NewTimer(time.Duration(w.sweepNs.Load()))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.sweepCh:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(time.Duration(w.sweepNs.Load()))
		case <-t.C:
			if _, err := w.repo.ExpireClaims(ctx, 0); err != nil {
				if queue.IsFatal(err) {
					return err
				}
				w.logger.Warn("expire sweep failed", log.Err(err))
			}
			t.Reset(time.Duration(w.sweepNs.Load()))
		}
	}
}

func (w *Worker) claimLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var entry *queue.Entry
		err := retry(ctx, w.retry, func() error {
			var err error
			entry, err = w.repo.ClaimNext(ctx, w.agent, w.leaseMs, 0)
			return err
		})
		if err != nil {
			if queue.IsFatal(err) {
				return err
			}
			w.logger.Warn("claim failed", log.Err(err))
			entry = nil
		}
		if entry == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.poll):
			}
			continue
		}
		w.process(ctx, *entry)
	}
}

// process runs the handler under a renew heartbeat and settles the entry
// by the handler's outcome.
func (w *Worker) process(ctx context.Context, e queue.Entry) {
	w.logger.Info("entry claimed",
		log.F("id", uint64(e.ID)), log.F("workspace", e.Workspace.String()))

	hctx, cancel := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.heartbeat(hctx, cancel, e.ID)
	}()

	err := w.handle(hctx, e)
	cancel()
	<-heartbeatDone

	// Settlement uses a fresh context so cancellation mid-handle still
	// releases the claim.
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err != nil {
		w.logger.Warn("handler failed, releasing", log.F("id", uint64(e.ID)), log.Err(err))
		if rerr := w.repo.Release(sctx, e.ID, w.agent); rerr != nil {
			// NotFound or a conflict means the claim was already lost;
			// there is nothing left to release.
			if !queue.IsNotFound(rerr) && !queue.IsConflict(rerr) {
				w.logger.Error("release failed", log.F("id", uint64(e.ID)), log.Err(rerr))
			}
		}
		return
	}
	if rerr := w.repo.Remove(sctx, e.ID, w.agent, false); rerr != nil && !queue.IsNotFound(rerr) {
		w.logger.Error("remove failed", log.F("id", uint64(e.ID)), log.Err(rerr))
		return
	}
	w.logger.Info("entry completed", log.F("id", uint64(e.ID)))
}

// heartbeat renews the lease until ctx is done. A non-transient renew
// failure means the claim is gone (lapsed and taken by another agent, or
// removed), so the handler is canceled to stop duplicated work.
func (w *Worker) heartbeat(ctx context.Context, cancel context.CancelFunc, id queue.EntryID) {
	interval := time.Duration(w.leaseMs) * time.Millisecond / 3
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.repo.Renew(ctx, id, w.agent, w.leaseMs, 0); err != nil {
				if queue.IsTransient(err) {
					w.logger.Warn("lease renew failed", log.F("id", uint64(id)), log.Err(err))
					continue
				}
				w.logger.Warn("claim lost, canceling handler", log.F("id", uint64(id)), log.Err(err))
				cancel()
				return
			}
		}
	}
}

// ExecHandler runs argv for each entry, exposing the entry through
// CLAIMQ_WORKSPACE, CLAIMQ_ENTRY_ID, and CLAIMQ_TASK.
func ExecHandler(argv []string) (Handler, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("worker: empty command")
	}
	return func(ctx context.Context, e queue.Entry) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = append(os.Environ(),
			"CLAIMQ_WORKSPACE="+e.Workspace.String(),
			fmt.Sprintf("CLAIMQ_ENTRY_ID=%d", e.ID),
			"CLAIMQ_TASK="+e.Task.String(),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}, nil
}
