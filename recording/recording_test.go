package recording

import (
	"sync"
	"testing"
	"time"
)

// recordedEvent is one Publish call captured by fakePublisher.
type recordedEvent struct {
	name   string
	fields map[string]any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(name string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{name: name, fields: fields})
}

func (p *fakePublisher) named(name string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// freezeClock pins nowFunc and returns a function that advances it.
func freezeClock(t *testing.T) func(time.Duration) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	orig := nowFunc
	nowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	t.Cleanup(func() { nowFunc = orig })
	return func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
}

func setupCoordinator(t *testing.T) (*Coordinator, *fakePublisher) {
	t.Helper()
	ledger := NewChunkLedger()
	transcripts := NewTranscriptService(ledger, 5*time.Second, time.Minute)
	pub := &fakePublisher{}
	return NewCoordinator(NewSessionStore(), ledger, NewPatientRegistry(), transcripts, pub), pub
}
