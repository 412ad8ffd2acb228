package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errSocketClosed = errors.New("socket closed")

// fakeSocket records writes and feeds scripted inbound messages.
type fakeSocket struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	closed   bool
	writeErr error
	gate     chan struct{} // when non-nil, each WriteMessage waits for a token
	pong     func(string) error

	inbound   chan []byte
	closedCh  chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan []byte, 8), closedCh: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case b := <-s.inbound:
		return 1, b, nil
	case <-s.closedCh:
		return 0, nil, errSocketClosed
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) WriteControl(_ int, _ []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	s.pings++
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) SetPongHandler(h func(string) error) {
	s.mu.Lock()
	s.pong = h
	s.mu.Unlock()
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closedCh)
	})
	return nil
}

// answerPing simulates the client's pong control frame.
func (s *fakeSocket) answerPing() {
	s.mu.Lock()
	h := s.pong
	s.mu.Unlock()
	if h != nil {
		h("") //nolint:errcheck
	}
}

func (s *fakeSocket) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// events decodes every recorded frame.
func (s *fakeSocket) events(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range s.snapshot() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

// waitFrames blocks until the socket has recorded n frames.
func waitFrames(t *testing.T, s *fakeSocket, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.snapshot()) >= n }, time.Second, 5*time.Millisecond)
	return s.snapshot()
}

// addConn registers a fresh fake connection and waits for its greeting.
func addConn(t *testing.T, reg *Registry) (*Conn, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket()
	c := NewConn(sock, "10.0.0.1")
	require.NoError(t, reg.Add(c))
	waitFrames(t, sock, 1)
	t.Cleanup(c.Close)
	return c, sock
}
