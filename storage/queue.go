package storage

import (
	"log/slog"
	"sync"

	"github.com/ghyeongl/scribe-relay/logging"
)

// dropQueue is a FIFO set of drop-directory paths waiting to be announced.
// A path already queued is not queued twice.
type dropQueue struct {
	mu     sync.Mutex
	set    map[string]struct{}
	order  []string
	notify chan struct{}
}

func newDropQueue() *dropQueue {
	return &dropQueue{
		set:    make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// pushMany queues every path not already waiting.
func (q *dropQueue) pushMany(paths []string) {
	q.mu.Lock()
	added := 0
	for _, p := range paths {
		if _, ok := q.set[p]; ok {
			continue
		}
		q.set[p] = struct{}{}
		q.order = append(q.order, p)
		added++
	}
	n := len(q.order)
	q.mu.Unlock()

	if logging.Enabled(slog.LevelDebug) {
		logging.Sub("intake").Debug("queue push", "requested", len(paths), "added", added, "queueLen", n)
	}
	if added > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// pop blocks until a path is available or done is closed.
func (q *dropQueue) pop(done <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			p := q.order[0]
			q.order = q.order[1:]
			delete(q.set, p)
			q.mu.Unlock()
			return p, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return "", false
		case <-q.notify:
		}
	}
}

func (q *dropQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
