// Package logging wires the process-wide slog logger used by every scribe-relay
// component.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// Options controls where log records go.
type Options struct {
	// Dir enables level-split rotating files when non-empty.
	Dir string
	// Console enables INFO→stdout, WARN+→stderr output.
	Console bool
	// Debug lowers the console threshold to DEBUG.
	Debug bool
}

// Init replaces the process logger.
// With a Dir it writes:
//   - scribe_warn.log : WARN + ERROR
//   - scribe_info.log : INFO only (1MB, 1 backup)
//   - scribe_debug.log : DEBUG only (1MB, 1 backup)
func Init(opts Options) error {
	handlers := []slog.Handler{&errorCaptureHandler{}}

	if opts.Console {
		floor := slog.LevelInfo
		if opts.Debug {
			floor = slog.LevelDebug
		}
		handlers = append(handlers, &consoleHandler{
			min:    floor,
			stdout: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: floor}),
			stderr: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
		})
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0750); err != nil {
			return err
		}
		handlers = append(handlers,
			slog.NewTextHandler(&lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, "scribe_warn.log"),
				MaxSize:    1000,
				MaxBackups: 3,
			}, &slog.HandlerOptions{Level: slog.LevelWarn}),
			levelFile(opts.Dir, "scribe_info.log", slog.LevelInfo),
			levelFile(opts.Dir, "scribe_debug.log", slog.LevelDebug),
		)
	}

	SetHandler(&multiHandler{handlers: handlers})
	return nil
}

func levelFile(dir, name string, level slog.Level) slog.Handler {
	return &levelRangeHandler{
		min: level,
		max: level,
		inner: slog.NewTextHandler(&lumberjack.Logger{
			Filename:   filepath.Join(dir, name),
			MaxSize:    1,
			MaxBackups: 1,
		}, &slog.HandlerOptions{Level: level}),
	}
}

// SetHandler swaps the underlying handler. Tests use it to capture output.
func SetHandler(h slog.Handler) {
	mu.Lock()
	logger = slog.New(h)
	mu.Unlock()
}

// Sub returns a child logger tagged with the given component name.
func Sub(component string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With("comp", component)
}

// Enabled reports whether the given level is enabled.
// Guard expensive DEBUG attributes on hot paths with it.
func Enabled(level slog.Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Enabled(context.Background(), level)
}

type consoleHandler struct {
	min    slog.Level
	stdout slog.Handler
	stderr slog.Handler
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderr.Handle(ctx, r)
	}
	return h.stdout.Handle(ctx, r)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleHandler{min: h.min, stdout: h.stdout.WithAttrs(attrs), stderr: h.stderr.WithAttrs(attrs)}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	return &consoleHandler{min: h.min, stdout: h.stdout.WithGroup(name), stderr: h.stderr.WithGroup(name)}
}

// Entry is a captured ERROR record.
type Entry struct {
	Time    time.Time `json:"time"`
	Comp    string    `json:"comp"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

const ringSize = 4

var ring struct {
	mu      sync.Mutex
	entries [ringSize]Entry
	count   int
}

// RecentErrors returns up to the last four ERROR records, newest first.
func RecentErrors() []Entry {
	ring.mu.Lock()
	defer ring.mu.Unlock()
	n := min(ring.count, ringSize)
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = ring.entries[(ring.count-1-i)%ringSize]
	}
	return out
}

func resetRecentErrors() {
	ring.mu.Lock()
	ring.count = 0
	ring.entries = [ringSize]Entry{}
	ring.mu.Unlock()
}

// errorCaptureHandler keeps the attrs bound via With so that "comp" survives
// into the captured entry.
type errorCaptureHandler struct {
	attrs []slog.Attr
}

func (h *errorCaptureHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *errorCaptureHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{Time: r.Time, Message: r.Message}
	pick := func(a slog.Attr) bool {
		switch a.Key {
		case "comp":
			e.Comp = a.Value.String()
		case "err":
			e.Error = a.Value.String()
		}
		return true
	}
	for _, a := range h.attrs {
		pick(a)
	}
	r.Attrs(pick)

	ring.mu.Lock()
	ring.entries[ring.count%ringSize] = e
	ring.count++
	ring.mu.Unlock()
	return nil
}

func (h *errorCaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorCaptureHandler{attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *errorCaptureHandler) WithGroup(_ string) slog.Handler { return h }

type levelRangeHandler struct {
	min, max slog.Level
	inner    slog.Handler
}

func (h *levelRangeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min && level <= h.max
}

func (h *levelRangeHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *levelRangeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRangeHandler{min: h.min, max: h.max, inner: h.inner.WithAttrs(attrs)}
}

func (h *levelRangeHandler) WithGroup(name string) slog.Handler {
	return &levelRangeHandler{min: h.min, max: h.max, inner: h.inner.WithGroup(name)}
}

type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle tries every handler and returns the first error.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
