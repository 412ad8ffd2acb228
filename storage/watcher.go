package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ghyeongl/scribe-relay/logging"
)

const debounceInterval = 300 * time.Millisecond

// dropWatcher feeds changed drop-directory files into a queue, batching
// bursts of events behind a short debounce.
type dropWatcher struct {
	root    string
	queue   *dropQueue
	watcher *fsnotify.Watcher
}

func newDropWatcher(root string, queue *dropQueue) (*dropWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &dropWatcher{root: root, queue: queue, watcher: w}, nil
}

// start watches until ctx is cancelled.
func (w *dropWatcher) start(ctx context.Context) error {
	l := logging.Sub("watcher")
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	l.Info("watching drop directory", "root", w.root)

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close() //nolint:errcheck
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if skipName(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					w.addRecursive(ev.Name) //nolint:errcheck
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			timer.Reset(debounceInterval)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watcher error", "err", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			w.queue.pushMany(paths)
			l.Debug("flushed", "paths", len(paths))
			pending = make(map[string]struct{})
		}
	}
}

// addRecursive watches dir and every non-hidden directory below it.
// Files created under a new directory before its watch was added are picked
// up by the walk itself.
func (w *dropWatcher) addRecursive(dir string) error {
	var found []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p != dir && skipName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.watcher.Add(p)
		}
		if dir != w.root {
			if rel, err := filepath.Rel(w.root, p); err == nil {
				found = append(found, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	if len(found) > 0 {
		w.queue.pushMany(found)
	}
	return err
}

func (w *dropWatcher) close() error {
	return w.watcher.Close()
}
