package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/ghyeongl/scribe-relay/logging"
	"github.com/ghyeongl/scribe-relay/metrics"
)

// State is a connection's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	sendQueueSize       = 16
	defaultWriteTimeout = 10 * time.Second
	maxMessageSize      = 64 << 10
)

// Socket is the part of *websocket.Conn a Conn needs.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one real-time subscriber.
// All data frames go through a bounded send queue drained by a single write
// pump; a full queue drops the frame.
type Conn struct {
	id     string
	remote string
	sock   Socket

	state atomic.Int32
	alive atomic.Bool

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
	writeFailed  atomic.Bool
	metrics      *metrics.Metrics
}

// NewConn wraps an upgraded socket. The connection starts in StateConnecting
// and only receives frames after Registry.Add opens it.
func NewConn(sock Socket, remote string) *Conn {
	c := &Conn{
		id:           ulid.Make().String(),
		remote:       remote,
		sock:         sock,
		send:         make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		writeTimeout: defaultWriteTimeout,
	}
	c.alive.Store(true)
	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Remote returns the client address label.
func (c *Conn) Remote() string { return c.remote }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Alive reports whether a pong arrived since the last probe.
func (c *Conn) Alive() bool { return c.alive.Load() }

// MarkAlive records a heartbeat acknowledgement.
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} { return c.done }

// open moves Connecting → Open and starts the write pump.
func (c *Conn) open(m *metrics.Metrics) bool {
	c.metrics = m
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return false
	}
	c.sock.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})
	go c.writePump()
	return true
}

// Send queues a frame. It reports false when the connection is not open or
// its queue is full.
func (c *Conn) Send(frame []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		c.metrics.Dropped()
		if logging.Enabled(slog.LevelDebug) {
			logging.Sub("conn").Debug("send queue full, frame dropped", "conn", c.id)
		}
		return false
	}
}

func (c *Conn) sendEvent(name string, fields map[string]any) {
	frame, err := encode(name, fields)
	if err != nil {
		logging.Sub("conn").Error("encode unicast", "conn", c.id, "event", name, "err", err)
		return
	}
	c.Send(frame)
}

func (c *Conn) writePump() {
	l := logging.Sub("conn")
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.sock.SetWriteDeadline(nowFunc().Add(c.writeTimeout)) //nolint:errcheck
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.metrics.WriteFailed()
				terr := &TransportError{ConnID: c.id, Op: "write", Err: err}
				// Log the first failure only; the sweep evicts the connection.
				if c.writeFailed.CompareAndSwap(false, true) {
					l.Warn("write failed", "conn", c.id, "remote", c.remote, "err", terr)
				}
			}
		}
	}
}

// ping sends a heartbeat probe as a control frame.
func (c *Conn) ping() error {
	err := c.sock.WriteControl(websocket.PingMessage, nil, nowFunc().Add(c.writeTimeout))
	if err != nil {
		return &TransportError{ConnID: c.id, Op: "ping", Err: err}
	}
	return nil
}

// Close terminates the connection. Safe to call any number of times from any
// goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosing)))
		close(c.done)
		if err := c.sock.Close(); err != nil && logging.Enabled(slog.LevelDebug) {
			logging.Sub("conn").Debug("socket close", "conn", c.id, "err", err)
		}
		c.state.Store(int32(StateClosed))
		logging.Sub("conn").Debug("closed", "conn", c.id, "from", prev.String())
	})
}

// readLoop dispatches inbound messages until the socket fails.
func (c *Conn) readLoop() error {
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return err
		}
		c.handleInbound(data)
	}
}

// handleInbound answers one client message with exactly one unicast event.
func (c *Conn) handleInbound(data []byte) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		perr := &ProtocolError{ConnID: c.id, Reason: "expected a JSON object", Err: err}
		logging.Sub("conn").Debug("inbound rejected", "conn", c.id, "err", perr)
		c.sendEvent(EventError, map[string]any{"message": "Invalid message format", "detail": perr.Error()})
		return
	}
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		perr := &ProtocolError{ConnID: c.id, Reason: "type must be a string", Err: err}
		c.sendEvent(EventError, map[string]any{"message": "Invalid message format", "detail": perr.Error()})
		return
	}

	if msg.Type == "ping" {
		c.sendEvent(EventPong, nil)
		return
	}
	c.sendEvent(EventAcknowledged, map[string]any{"type": msg.Type})
}

// isCloseError reports errors that mean the peer went away normally.
func isCloseError(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway || ce.Code == websocket.CloseNoStatusReceived
	}
	return errors.Is(err, websocket.ErrCloseSent)
}
