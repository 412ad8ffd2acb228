package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghyeongl/scribe-relay/metrics"
)

func TestBroadcaster_SameFrameToEveryOpenConnection(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	reg := NewRegistry(time.Minute, m)
	b := NewBroadcaster(reg, nil, m)

	_, s1 := addConn(t, reg)
	_, s2 := addConn(t, reg)
	closed, s3 := addConn(t, reg)
	closed.Close()

	b.Publish("x", map[string]any{"a": 1})

	f1 := waitFrames(t, s1, 2)
	f2 := waitFrames(t, s2, 2)
	assert.Equal(t, f1[1], f2[1], "frame is serialized once")
	assert.JSONEq(t, `{"event":"x","a":1,"timestamp":"`+mustTimestamp(t, f1[1])+`"}`, string(f1[1]))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s3.snapshot(), 1, "closed connection only saw its greeting")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("x")))
}

func TestBroadcaster_NoConnections(t *testing.T) {
	b := NewBroadcaster(NewRegistry(time.Minute, nil), nil, nil)
	assert.NotPanics(t, func() { b.Publish("x", nil) })
	assert.Equal(t, 0, b.Deliver([]byte("{}")))
}

func TestBroadcaster_UnencodableFieldsAreDropped(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	b := NewBroadcaster(reg, nil, nil)
	_, sock := addConn(t, reg)

	b.Publish("bad", map[string]any{"ch": make(chan int)})

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sock.snapshot(), 1)
}

func TestBroadcaster_FailedWriteDoesNotStopOthers(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	b := NewBroadcaster(reg, nil, nil)
	_, bad := addConn(t, reg)
	_, good := addConn(t, reg)

	bad.mu.Lock()
	bad.writeErr = errors.New("reset by peer")
	bad.mu.Unlock()

	b.Publish("chunkUploaded", map[string]any{"sessionId": "s1"})
	waitFrames(t, good, 2)
	assert.Equal(t, 2, reg.Len())
}

// loopRelay echoes published frames back through Run, like a single-node
// pub/sub channel. The first failRuns calls to Run fail before subscribing.
type loopRelay struct {
	mu        sync.Mutex
	frames    chan []byte
	failing   bool
	failRuns  int
	runs      int
	published int
}

func (r *loopRelay) Publish(_ context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("relay down")
	}
	r.published++
	r.frames <- frame
	return nil
}

func (r *loopRelay) Run(ctx context.Context, subscribed func(), deliver func([]byte)) error {
	r.mu.Lock()
	r.runs++
	fail := r.runs <= r.failRuns
	r.mu.Unlock()
	if fail {
		return errors.New("subscribe refused")
	}

	subscribed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-r.frames:
			deliver(f)
		}
	}
}

func (r *loopRelay) counts() (runs, published int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs, r.published
}

func startRelay(t *testing.T, b *Broadcaster) {
	t.Helper()
	b.retryMin = 10 * time.Millisecond
	b.retryMax = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunRelay(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestBroadcaster_DeliversThroughRelay(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	relay := &loopRelay{frames: make(chan []byte, 4)}
	b := NewBroadcaster(reg, relay, nil)
	_, sock := addConn(t, reg)

	startRelay(t, b)
	require.Eventually(t, b.subscribed.Load, time.Second, 5*time.Millisecond)

	b.Publish("sessionCreated", map[string]any{"id": "s1"})
	frames := waitFrames(t, sock, 2)
	assert.Contains(t, string(frames[1]), `"event":"sessionCreated"`)
	_, published := relay.counts()
	assert.Equal(t, 1, published)
}

func TestBroadcaster_DeliversLocallyWhileRelayUnsubscribed(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	relay := &loopRelay{frames: make(chan []byte, 4), failRuns: 1 << 30}
	b := NewBroadcaster(reg, relay, nil)
	_, sock := addConn(t, reg)

	startRelay(t, b)
	require.Eventually(t, func() bool {
		runs, _ := relay.counts()
		return runs >= 2
	}, time.Second, 5*time.Millisecond, "subscription is retried")

	b.Publish("sessionCreated", map[string]any{"id": "s1"})
	frames := waitFrames(t, sock, 2)
	assert.Contains(t, string(frames[1]), `"event":"sessionCreated"`)
	_, published := relay.counts()
	assert.Zero(t, published, "nothing sent to a relay nobody here listens on")
}

func TestBroadcaster_RelayResubscribesAfterFailure(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	relay := &loopRelay{frames: make(chan []byte, 4), failRuns: 2}
	b := NewBroadcaster(reg, relay, nil)
	_, sock := addConn(t, reg)

	startRelay(t, b)
	require.Eventually(t, b.subscribed.Load, time.Second, 5*time.Millisecond)

	b.Publish("chunkUploaded", map[string]any{"sessionId": "s1"})
	waitFrames(t, sock, 2)
	runs, published := relay.counts()
	assert.Equal(t, 3, runs)
	assert.Equal(t, 1, published)
}

func TestBroadcaster_RelayFailureFallsBackToLocal(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	b := NewBroadcaster(reg, &loopRelay{failing: true}, nil)
	b.subscribed.Store(true)
	_, sock := addConn(t, reg)

	b.Publish("x", nil)
	waitFrames(t, sock, 2)
}

func TestBroadcaster_UnreachableRedisFallsBackToLocal(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	reg := NewRegistry(time.Minute, nil)
	b := NewBroadcaster(reg, NewRedisRelay(client, ""), nil)
	b.subscribed.Store(true)
	_, sock := addConn(t, reg)

	b.Publish("x", map[string]any{"k": "v"})
	frames := waitFrames(t, sock, 2)
	assert.Contains(t, string(frames[1]), `"k":"v"`)
}

func TestBroadcaster_UnreachableRedisKeepsRetrying(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	reg := NewRegistry(time.Minute, nil)
	b := NewBroadcaster(reg, NewRedisRelay(client, ""), nil)
	_, sock := addConn(t, reg)
	startRelay(t, b)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, b.subscribed.Load())

	b.Publish("x", map[string]any{"k": "v"})
	frames := waitFrames(t, sock, 2)
	assert.Contains(t, string(frames[1]), `"k":"v"`)
}

func TestBroadcaster_RunRelayWithoutRelay(t *testing.T) {
	b := NewBroadcaster(NewRegistry(time.Minute, nil), nil, nil)
	require.NoError(t, b.RunRelay(context.Background()))
}
