package realtime

import "fmt"

// ProtocolError reports an inbound message that could not be interpreted.
// The connection stays open; the client gets an "error" event.
type ProtocolError struct {
	ConnID string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a failed socket write. The connection is left for
// the heartbeat sweep to evict.
type TransportError struct {
	ConnID string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection %s: %s: %v", e.ConnID, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
