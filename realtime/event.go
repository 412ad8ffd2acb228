// Package realtime fans session events out to websocket subscribers and keeps
// the set of live connections healthy with a ping/pong heartbeat.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Unicast event names. Broadcast names come from the publisher.
const (
	EventConnected    = "connected"
	EventError        = "error"
	EventPong         = "pong"
	EventAcknowledged = "acknowledged"
)

// timestampLayout matches the millisecond ISO-8601 form clients already parse.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is a server-to-client message. Fields are flattened next to the
// "event" and "timestamp" keys, which win on collision.
type Event struct {
	Name      string
	Fields    map[string]any
	Timestamp time.Time
}

// MarshalJSON renders {"event": ..., <fields>, "timestamp": ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["event"] = e.Name
	out["timestamp"] = e.Timestamp.UTC().Format(timestampLayout)
	return json.Marshal(out)
}

// encode serializes an event stamped with the current time.
func encode(name string, fields map[string]any) ([]byte, error) {
	b, err := json.Marshal(Event{Name: name, Fields: fields, Timestamp: nowFunc()})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", name, err)
	}
	return b, nil
}

// inbound is the client-to-server message shape. Only "type" is interpreted.
type inbound struct {
	Type string `json:"type"`
}
