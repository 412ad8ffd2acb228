package recording

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ghyeongl/scribe-relay/logging"
)

const shardCount = 32

// SessionStore keeps sessions in memory for the process lifetime.
// The id space is split across shards so unrelated sessions do not contend,
// and each session carries its own lock for counter updates.
type SessionStore struct {
	shards [shardCount]sessionShard
}

type sessionShard struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	mu sync.Mutex
	s  Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	st := &SessionStore{}
	for i := range st.shards {
		st.shards[i].entries = make(map[string]*sessionEntry)
	}
	return st
}

func (st *SessionStore) shard(id string) *sessionShard {
	h := fnv.New32a()
	h.Write([]byte(id)) //nolint:errcheck
	return &st.shards[h.Sum32()%shardCount]
}

func (st *SessionStore) lookup(id string) (*sessionEntry, bool) {
	sh := st.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[id]
	return e, ok
}

// Create starts a new session with zero counters.
func (st *SessionStore) Create(patientID, userID string) (Session, error) {
	patientID = strings.TrimSpace(patientID)
	userID = strings.TrimSpace(userID)
	if err := required("patientId", patientID); err != nil {
		return Session{}, err
	}
	if err := required("userId", userID); err != nil {
		return Session{}, err
	}

	now := nowFunc().UTC()
	s := Session{
		ID:        uuid.NewString(),
		PatientID: patientID,
		UserID:    userID,
		Status:    StatusRecording,
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sh := st.shard(s.ID)
	sh.mu.Lock()
	sh.entries[s.ID] = &sessionEntry{s: s}
	sh.mu.Unlock()

	logging.Sub("sessions").Debug("Create", "session", s.ID, "patient", patientID, "user", userID)
	return s, nil
}

// Get returns a copy of the session.
func (st *SessionStore) Get(id string) (Session, error) {
	e, ok := st.lookup(id)
	if !ok {
		if logging.Enabled(slog.LevelDebug) {
			logging.Sub("sessions").Debug("Get", "session", id, "found", false)
		}
		return Session{}, &NotFoundError{Kind: "session", ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, nil
}

// RecordChunkUpload bumps both chunk counters of the session.
// Unknown ids are ignored.
func (st *SessionStore) RecordChunkUpload(id string) {
	e, ok := st.lookup(id)
	if !ok {
		logging.Sub("sessions").Debug("RecordChunkUpload on unknown session", "session", id)
		return
	}
	e.mu.Lock()
	e.s.TotalChunks++
	e.s.UploadedChunks++
	e.s.UpdatedAt = nowFunc().UTC()
	total := e.s.TotalChunks
	e.mu.Unlock()

	if logging.Enabled(slog.LevelDebug) {
		logging.Sub("sessions").Debug("RecordChunkUpload", "session", id, "total", total)
	}
}

// All returns a copy of every session, oldest first.
func (st *SessionStore) All() []Session {
	var out []Session
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.RLock()
		entries := lo.Values(sh.entries)
		sh.mu.RUnlock()
		for _, e := range entries {
			e.mu.Lock()
			out = append(out, e.s)
			e.mu.Unlock()
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListByPatient returns the sessions recorded for a patient, oldest first.
func (st *SessionStore) ListByPatient(patientID string) []Session {
	return lo.Filter(st.All(), func(s Session, _ int) bool {
		return s.PatientID == patientID
	})
}

// Len returns the number of sessions.
func (st *SessionStore) Len() int {
	n := 0
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
