package recording

import (
	"hash/fnv"
	"strings"
	"sync"

	"github.com/ghyeongl/scribe-relay/logging"
)

const stripeCount = 64

// stripedMutex serializes work per key with a fixed set of locks.
type stripedMutex struct {
	locks [stripeCount]sync.Mutex
}

func (m *stripedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	mu := &m.locks[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}

// Coordinator is the only writer of the session store and chunk ledger.
// Every successful mutation is followed by a published event.
type Coordinator struct {
	sessions    *SessionStore
	ledger      *ChunkLedger
	patients    *PatientRegistry
	transcripts *TranscriptService
	pub         Publisher
	stripes     stripedMutex
}

// NewCoordinator wires a coordinator. pub may be nil, in which case events
// are dropped.
func NewCoordinator(sessions *SessionStore, ledger *ChunkLedger, patients *PatientRegistry, transcripts *TranscriptService, pub Publisher) *Coordinator {
	return &Coordinator{
		sessions:    sessions,
		ledger:      ledger,
		patients:    patients,
		transcripts: transcripts,
		pub:         pub,
	}
}

func (c *Coordinator) publish(name string, fields map[string]any) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(name, fields)
}

// CreateSession starts a recording session and announces it.
func (c *Coordinator) CreateSession(patientID, userID string) (string, error) {
	s, err := c.sessions.Create(patientID, userID)
	if err != nil {
		logging.Sub("coordinator").Warn("CreateSession rejected", "err", err)
		return "", err
	}
	logging.Sub("coordinator").Info("session created", "session", s.ID, "patient", s.PatientID)
	c.publish(EventSessionCreated, map[string]any{"session": s})
	return s.ID, nil
}

// UploadChunk records a stored chunk payload against a session.
// The session does not have to exist; its counters are only touched if it does.
func (c *Coordinator) UploadChunk(sessionID string, ordinal int, payloadRef string, sizeBytes int64) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	unlock := c.stripes.lock(sessionID)
	chunk, err := c.ledger.Register(sessionID, ordinal, payloadRef, sizeBytes)
	if err != nil {
		unlock()
		logging.Sub("coordinator").Warn("UploadChunk rejected", "session", sessionID, "ordinal", ordinal, "err", err)
		return "", err
	}
	c.sessions.RecordChunkUpload(sessionID)
	if c.transcripts != nil {
		c.transcripts.Invalidate(sessionID)
	}
	unlock()

	c.publish(EventChunkUploaded, map[string]any{
		"sessionId":   chunk.SessionID,
		"chunkNumber": ordinal,
		"chunkId":     chunk.ID,
		"sizeBytes":   sizeBytes,
	})
	logging.Sub("coordinator").Info("chunk uploaded", "session", sessionID, "ordinal", ordinal, "chunk", chunk.ID, "size", sizeBytes)
	return chunk.ID, nil
}

// NotifyChunkUploaded relays a client's advisory notice. No state changes.
func (c *Coordinator) NotifyChunkUploaded(sessionID string, ordinal int) error {
	sessionID = strings.TrimSpace(sessionID)
	if err := required("sessionId", sessionID); err != nil {
		return err
	}
	if err := checkOrdinal(ordinal); err != nil {
		return err
	}
	logging.Sub("coordinator").Info("chunk notification", "session", sessionID, "ordinal", ordinal)
	c.publish(EventChunkNotification, map[string]any{
		"sessionId":   sessionID,
		"chunkNumber": ordinal,
	})
	return nil
}

// Session returns a session by id.
func (c *Coordinator) Session(id string) (Session, error) {
	return c.sessions.Get(id)
}

// Chunks lists a session's chunks in registration order.
func (c *Coordinator) Chunks(sessionID string) []Chunk {
	return c.ledger.ListBySession(sessionID)
}

// SessionsByPatient lists a patient's sessions, oldest first.
func (c *Coordinator) SessionsByPatient(patientID string) []Session {
	return c.sessions.ListByPatient(patientID)
}

// SessionCount returns the number of live sessions.
func (c *Coordinator) SessionCount() int {
	return c.sessions.Len()
}

// UpsertPatient adds or replaces a patient and announces it.
func (c *Coordinator) UpsertPatient(in PatientInput) (Patient, error) {
	p, err := c.patients.Upsert(in)
	if err != nil {
		return Patient{}, err
	}
	logging.Sub("coordinator").Info("patient upserted", "patient", p.ID, "user", p.UserID)
	c.publish(EventPatientUpserted, map[string]any{"patient": p})
	return p, nil
}

// Patients lists the patients of a user.
func (c *Coordinator) Patients(userID string) ([]Patient, error) {
	return c.patients.ListByUser(userID)
}

// Transcript returns the session transcript, announcing it when it was
// generated rather than served from cache.
func (c *Coordinator) Transcript(sessionID string) (Transcript, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := required("sessionId", sessionID); err != nil {
		return Transcript{}, err
	}
	if c.transcripts == nil {
		return Transcript{}, &NotFoundError{Kind: "transcript", ID: sessionID}
	}
	tr, fresh := c.transcripts.Get(sessionID)
	if fresh {
		c.publish(EventTranscriptionGenerated, map[string]any{
			"sessionId":     sessionID,
			"transcription": tr.Text,
		})
	}
	return tr, nil
}
