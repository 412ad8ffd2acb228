package recording

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ghyeongl/scribe-relay/logging"
)

// ChunkLedger is the append-only record of uploaded chunks.
// Chunks are never checked against the session store and duplicate
// (session, ordinal) pairs are all kept.
type ChunkLedger struct {
	mu        sync.RWMutex
	byID      map[string]Chunk
	bySession map[string]*chunkBucket
}

type chunkBucket struct {
	mu     sync.RWMutex
	chunks []Chunk
}

// NewChunkLedger creates an empty ledger.
func NewChunkLedger() *ChunkLedger {
	return &ChunkLedger{
		byID:      make(map[string]Chunk),
		bySession: make(map[string]*chunkBucket),
	}
}

// Register appends a chunk record and returns it with a fresh id.
func (l *ChunkLedger) Register(sessionID string, ordinal int, payloadRef string, sizeBytes int64) (Chunk, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := required("sessionId", sessionID); err != nil {
		return Chunk{}, err
	}
	if err := checkOrdinal(ordinal); err != nil {
		return Chunk{}, err
	}
	if sizeBytes < 0 {
		return Chunk{}, &ValidationError{Field: "sizeBytes", Reason: "must be non-negative"}
	}

	c := Chunk{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Ordinal:    ordinal,
		PayloadRef: payloadRef,
		SizeBytes:  sizeBytes,
		UploadedAt: nowFunc().UTC(),
	}

	l.mu.Lock()
	l.byID[c.ID] = c
	b, ok := l.bySession[sessionID]
	if !ok {
		b = &chunkBucket{}
		l.bySession[sessionID] = b
	}
	// Append under the bucket lock while still holding the index lock so
	// insertion order matches registration order.
	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.mu.Unlock()
	l.mu.Unlock()

	logging.Sub("ledger").Debug("Register", "session", sessionID, "ordinal", ordinal, "chunk", c.ID, "size", sizeBytes)
	return c, nil
}

// ListBySession returns the chunks of a session in registration order.
func (l *ChunkLedger) ListBySession(sessionID string) []Chunk {
	l.mu.RLock()
	b, ok := l.bySession[sessionID]
	l.mu.RUnlock()
	if !ok {
		return []Chunk{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Get returns a chunk by id.
func (l *ChunkLedger) Get(id string) (Chunk, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.byID[id]
	if !ok {
		return Chunk{}, &NotFoundError{Kind: "chunk", ID: id}
	}
	return c, nil
}

// Len returns the number of registered chunks.
func (l *ChunkLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}
