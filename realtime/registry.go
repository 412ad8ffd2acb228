package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ghyeongl/scribe-relay/logging"
	"github.com/ghyeongl/scribe-relay/metrics"
)

// DefaultHeartbeatInterval is the time between liveness sweeps.
const DefaultHeartbeatInterval = 30 * time.Second

// Registry tracks every live connection. Iteration works on a snapshot so
// connections may be added or removed while a broadcast or sweep runs.
type Registry struct {
	mu       sync.RWMutex
	conns    map[*Conn]struct{}
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry sweeping every interval.
func NewRegistry(interval time.Duration, m *metrics.Metrics) *Registry {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Registry{
		conns:    make(map[*Conn]struct{}),
		interval: interval,
		metrics:  m,
	}
}

// Add opens the connection, greets it with a "connected" event and makes it
// visible to broadcasts.
func (r *Registry) Add(c *Conn) error {
	if !c.open(r.metrics) {
		return fmt.Errorf("register %s: connection is %s", c.ID(), c.State())
	}
	c.sendEvent(EventConnected, map[string]any{"connectionId": c.ID()})

	r.mu.Lock()
	r.conns[c] = struct{}{}
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.ConnOpened()
	logging.Sub("registry").Info("connection opened", "conn", c.ID(), "remote", c.Remote(), "open", n)
	return nil
}

// Remove drops the connection from the set. It does not close it.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	_, ok := r.conns[c]
	delete(r.conns, c)
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.metrics.ConnClosed()
		logging.Sub("registry").Info("connection removed", "conn", c.ID(), "open", n)
	}
	return ok
}

// Snapshot returns the registered connections at this instant.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// ForEachOpen calls fn for every connection that is Open when visited.
func (r *Registry) ForEachOpen(fn func(*Conn)) {
	for _, c := range r.Snapshot() {
		if c.State() == StateOpen {
			fn(c)
		}
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Sweep runs one heartbeat pass. Connections that did not answer the previous
// probe are closed and removed; the rest are probed again.
func (r *Registry) Sweep() (probed, evicted int) {
	l := logging.Sub("registry")
	for _, c := range r.Snapshot() {
		if c.State() != StateOpen {
			if c.State() == StateClosed {
				r.Remove(c)
			}
			continue
		}
		if !c.alive.CompareAndSwap(true, false) {
			c.Close()
			r.Remove(c)
			r.metrics.Evicted()
			evicted++
			l.Info("heartbeat timeout, connection evicted", "conn", c.ID(), "remote", c.Remote())
			continue
		}
		if err := c.ping(); err != nil && logging.Enabled(slog.LevelDebug) {
			l.Debug("ping failed", "conn", c.ID(), "err", err)
		}
		probed++
	}
	if logging.Enabled(slog.LevelDebug) {
		l.Debug("sweep", "probed", probed, "evicted", evicted)
	}
	return probed, evicted
}

// Run sweeps on every interval until ctx is cancelled, then closes every
// remaining connection.
func (r *Registry) Run(ctx context.Context) {
	l := logging.Sub("registry")
	l.Info("heartbeat started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n := r.CloseAll()
			l.Info("heartbeat stopped", "closed", n)
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// CloseAll closes and removes every connection.
func (r *Registry) CloseAll() int {
	conns := r.Snapshot()
	for _, c := range conns {
		c.Close()
		r.Remove(c)
	}
	return len(conns)
}
