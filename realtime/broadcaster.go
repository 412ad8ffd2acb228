package realtime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ghyeongl/scribe-relay/logging"
	"github.com/ghyeongl/scribe-relay/metrics"
)

const (
	relayPublishTimeout = 2 * time.Second
	relayRetryMin       = 500 * time.Millisecond
	relayRetryMax       = 30 * time.Second
)

// Relay carries encoded frames between service instances.
// Run calls subscribed once it is receiving, then deliver for every frame.
type Relay interface {
	Publish(ctx context.Context, frame []byte) error
	Run(ctx context.Context, subscribed func(), deliver func(frame []byte)) error
}

// Broadcaster sends each published event to every open connection.
// Delivery is best-effort and at-most-once.
type Broadcaster struct {
	reg     *Registry
	relay   Relay
	metrics *metrics.Metrics

	// subscribed is true only while the relay is feeding frames back to
	// this instance. Until then frames are delivered locally.
	subscribed atomic.Bool
	retryMin   time.Duration
	retryMax   time.Duration
}

// NewBroadcaster creates a broadcaster delivering through reg. relay may be nil.
func NewBroadcaster(reg *Registry, relay Relay, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		reg:      reg,
		relay:    relay,
		metrics:  m,
		retryMin: relayRetryMin,
		retryMax: relayRetryMax,
	}
}

// Publish encodes the event once and hands the same frame to every open
// connection. While the relay subscription is up the frame goes through
// the relay instead, falling back to local delivery when publishing fails.
func (b *Broadcaster) Publish(name string, fields map[string]any) {
	l := logging.Sub("broadcast")
	frame, err := encode(name, fields)
	if err != nil {
		l.Error("publish", "event", name, "err", err)
		return
	}
	b.metrics.Published(name)

	if b.relay != nil && b.subscribed.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
		err := b.relay.Publish(ctx, frame)
		cancel()
		if err == nil {
			return
		}
		l.Warn("relay publish failed, delivering locally", "event", name, "err", err)
	}
	n := b.Deliver(frame)
	if logging.Enabled(slog.LevelDebug) {
		l.Debug("published", "event", name, "delivered", n)
	}
}

// Deliver queues an already encoded frame on every open connection and
// returns how many accepted it.
func (b *Broadcaster) Deliver(frame []byte) int {
	n := 0
	b.reg.ForEachOpen(func(c *Conn) {
		if c.Send(frame) {
			n++
		}
	})
	return n
}

// RunRelay keeps the relay subscription alive until ctx is cancelled,
// resubscribing with exponential backoff whenever it drops.
// It returns immediately without a relay.
func (b *Broadcaster) RunRelay(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}
	l := logging.Sub("broadcast")
	wait := b.retryMin
	for {
		err := b.relay.Run(ctx,
			func() {
				b.subscribed.Store(true)
				wait = b.retryMin
			},
			func(frame []byte) { b.Deliver(frame) },
		)
		b.subscribed.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		l.Warn("relay subscription lost, delivering locally", "err", err, "retryIn", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, b.retryMax)
	}
}
