package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rzbill/claimq/pkg/log"
)

// Watcher hot-reloads a config file. Editors typically replace files
// rather than write in place, so it watches the containing directory and
// filters events for the target path, debouncing bursts.
type Watcher struct {
	path     string
	logger   log.Logger
	onChange func(Config)
	debounce time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts watching path and invokes onChange with each successfully
// reloaded, validated config. Invalid intermediate states are logged and
// skipped, keeping the previous config in effect.
func Watch(path string, logger log.Logger, onChange func(Config)) (*Watcher, error) {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		logger:   logger.WithComponent("config"),
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", log.Err(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", log.Err(err))
		return
	}
	FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("config reload rejected", log.Err(err))
		return
	}
	w.logger.Info("config reloaded", log.F("path", w.path))
	w.onChange(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
