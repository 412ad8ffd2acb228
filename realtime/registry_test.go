package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghyeongl/scribe-relay/metrics"
)

func TestRegistry_AddGreetsConnection(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	c, sock := addConn(t, reg)

	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, 1, reg.Len())

	evs := sock.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, EventConnected, evs[0]["event"])
	assert.Equal(t, c.ID(), evs[0]["connectionId"])
	assert.NotEmpty(t, evs[0]["timestamp"])
}

func TestRegistry_AddTwiceFails(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	c, _ := addConn(t, reg)
	assert.Error(t, reg.Add(c))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_AddClosedFails(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	c := NewConn(newFakeSocket(), "x")
	c.Close()
	assert.Error(t, reg.Add(c))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_UnansweredProbeIsEvicted(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	reg := NewRegistry(time.Minute, m)
	c, sock := addConn(t, reg)

	probed, evicted := reg.Sweep()
	assert.Equal(t, 1, probed)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 1, sock.pingCount())
	assert.False(t, c.Alive())

	probed, evicted = reg.Sweep()
	assert.Equal(t, 0, probed)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, sock.isClosed())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evictions))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OpenConnections))
}

func TestRegistry_AnsweredProbesKeepConnection(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	c, sock := addConn(t, reg)

	for i := 0; i < 10; i++ {
		_, evicted := reg.Sweep()
		require.Equal(t, 0, evicted)
		sock.answerPing()
	}
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, 10, sock.pingCount())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_SweepDropsClosedConnections(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	c, _ := addConn(t, reg)
	c.Close()

	probed, evicted := reg.Sweep()
	assert.Zero(t, probed)
	assert.Zero(t, evicted)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ForEachOpenSkipsClosed(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	a, _ := addConn(t, reg)
	b, _ := addConn(t, reg)
	b.Close()

	var seen []*Conn
	reg.ForEachOpen(func(c *Conn) { seen = append(seen, c) })
	assert.Equal(t, []*Conn{a}, seen)
}

func TestRegistry_ForEachOpenToleratesMutation(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	for i := 0; i < 5; i++ {
		addConn(t, reg)
	}

	visited := 0
	reg.ForEachOpen(func(c *Conn) {
		visited++
		reg.Remove(c)
		addConn(t, reg)
	})
	assert.Equal(t, 5, visited)
	assert.Equal(t, 5, reg.Len())
}

func TestRegistry_ConcurrentCloseAndSweep(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	c, sock := addConn(t, reg)
	reg.Sweep() // flag is now false

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); c.Close() }()
		go func() { defer wg.Done(); reg.Sweep() }()
	}
	wg.Wait()
	reg.Sweep()

	assert.Equal(t, StateClosed, c.State())
	assert.True(t, sock.isClosed())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_RunClosesAllOnShutdown(t *testing.T) {
	reg := NewRegistry(10*time.Millisecond, nil)
	c, sock := addConn(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	// Without pongs the connection is gone after two ticks.
	require.Eventually(t, func() bool { return c.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, sock.pingCount(), 1)

	keep, _ := addConn(t, reg)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateClosed, keep.State())
	assert.Equal(t, 0, reg.Len())
}
