package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ghyeongl/scribe-relay/logging"
)

// Notifier receives announcements for chunks found in the drop directory.
type Notifier interface {
	NotifyChunkUploaded(sessionID string, ordinal int) error
}

// Intake announces chunk files that other agents place in a drop directory
// laid out as <sessionId>/<ordinal>.<ext>. Announcements are advisory; the
// files are not registered as uploads.
type Intake struct {
	root     string
	notifier Notifier
	queue    *dropQueue

	mu        sync.Mutex
	announced map[string]time.Time // relative path → mtime at announcement
}

// NewIntake creates an intake for root, creating the directory if needed.
func NewIntake(root string, notifier Notifier) (*Intake, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, err
	}
	return &Intake{
		root:      root,
		notifier:  notifier,
		queue:     newDropQueue(),
		announced: make(map[string]time.Time),
	}, nil
}

// Run announces files already present, then watches for new ones. Blocks
// until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) {
	l := logging.Sub("intake")
	l.Info("intake starting", "root", in.root)

	existing, err := scanDrops(in.root)
	if err != nil {
		l.Warn("initial scan incomplete", "err", err)
	}
	in.queue.pushMany(existing)

	w, err := newDropWatcher(in.root, in.queue)
	if err != nil {
		l.Error("watcher creation failed, intake aborting", "err", err)
		return
	}
	go func() {
		if err := w.start(ctx); err != nil && ctx.Err() == nil {
			l.Warn("watcher stopped unexpectedly", "err", err)
		}
	}()

	done := ctx.Done()
	for {
		rel, ok := in.queue.pop(done)
		if !ok {
			break
		}
		in.process(rel)
	}

	w.close() //nolint:errcheck
	l.Info("intake stopped")
}

func (in *Intake) process(rel string) {
	l := logging.Sub("intake")
	info, err := os.Stat(filepath.Join(in.root, filepath.FromSlash(rel)))
	if err != nil || info.IsDir() {
		return
	}
	sessionID, ordinal, ok := parseDropPath(rel)
	if !ok {
		l.Debug("ignoring unrecognised drop", "path", rel)
		return
	}

	in.mu.Lock()
	prev, seen := in.announced[rel]
	in.mu.Unlock()
	if seen && prev.Equal(info.ModTime()) {
		return
	}

	if err := in.notifier.NotifyChunkUploaded(sessionID, ordinal); err != nil {
		l.Warn("announce failed", "path", rel, "err", err)
		return
	}
	in.mu.Lock()
	in.announced[rel] = info.ModTime()
	in.mu.Unlock()
	l.Info("drop announced", "session", sessionID, "ordinal", ordinal, "size", info.Size())
}

// Announced returns how many distinct files have been announced.
func (in *Intake) Announced() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.announced)
}
