package contextstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/autodev/internal/errors"
)

// watchDebounce coalesces the burst of events a single save produces.
const watchDebounce = 50 * time.Millisecond

// Watch calls fn with a freshly loaded store each time a snapshot is saved
// into dir, and once at start when a snapshot already exists. It blocks
// until ctx is done, returning nil, or until the watcher fails.
//
// Snapshots are loaded with the given options; fn must not retain the store
// across calls if it mutates it.
func Watch(ctx context.Context, projectName, dir string, fn func(*Store), opts ...Option) error {
	probe := New(projectName, dir, opts...)
	target := filepath.Clean(probe.Path())

	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewPersistenceError("mkdir", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}

	deliver := func() {
		s, err := Load(projectName, dir, opts...)
		if err != nil {
			probe.logger.Warn("failed to load saved context", "path", target, "error", err)
			return
		}
		fn(s)
	}

	if _, err := os.Stat(target); err == nil {
		deliver()
	}

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending = true
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			if pending {
				pending = false
				deliver()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return errors.Wrap(err, "watcher failed")
		}
	}
}
