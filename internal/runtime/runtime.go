package runtime

import (
	"context"
	"errors"

	cfgpkg "github.com/rzbill/claimq/internal/config"
	"github.com/rzbill/claimq/internal/queue"
	"github.com/rzbill/claimq/internal/recovery"
	pebblestore "github.com/rzbill/claimq/internal/storage/pebble"
	"github.com/rzbill/claimq/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// SkipIntegrityCheck disables the startup scan. Claim-time repair
	// still runs under the configured recovery policy.
	SkipIntegrityCheck bool
}

// Runtime wires storage, the recovery pipeline, and the repository for a
// single-host instance.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
	logger log.Logger

	repo    *queue.Repository
	recLog  *recovery.Log
	handler *recovery.Handler
}

// Open initializes storage under the configured data directory and runs
// the startup integrity scan. When another process holds the store's
// directory lock the returned error is transient, so callers can retry
// with backoff.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		lvl, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			lvl = log.InfoLevel
		}
		logger = log.NewLogger(log.WithLevel(lvl))
	}

	mode, interval := cfg.FsyncMode()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.EffectiveDataDir(),
		Fsync:         mode,
		FsyncInterval: interval,
		Logger:        logger,
	})
	if err != nil {
		if pebblestore.IsLockUnavailable(err) {
			return nil, &queue.Error{Kind: queue.KindTransient, Op: "open store", Err: err}
		}
		return nil, &queue.Error{Kind: queue.KindFatal, Op: "open store", Err: err}
	}

	recLog := recovery.NewLog(db, logger)
	handler := recovery.NewHandler(cfg.RecoveryPolicy, recLog, logger)

	repo, err := queue.NewRepository(queue.Options{
		DB:        db,
		Logger:    logger,
		Recoverer: handler,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	rt := &Runtime{
		db:      db,
		config:  cfg,
		logger:  logger.WithComponent("runtime"),
		repo:    repo,
		recLog:  recLog,
		handler: handler,
	}

	if !opts.SkipIntegrityCheck {
		n, err := repo.CheckIntegrity(context.Background())
		if err != nil {
			db.Close()
			return nil, err
		}
		if n > 0 {
			rt.logger.Warn("integrity scan repaired records", log.F("repairs", n))
		}
	}
	return rt, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple liveness check against the store.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("store not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Repo returns the queue repository.
func (r *Runtime) Repo() *queue.Repository { return r.repo }

// RecoveryLog returns the append-only recovery event log.
func (r *Runtime) RecoveryLog() *recovery.Log { return r.recLog }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the runtime's base logger.
func (r *Runtime) Logger() log.Logger { return r.logger }
