// Package api exposes the recording service over HTTP.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/marusama/semaphore/v2"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/ghyeongl/scribe-relay/logging"
	"github.com/ghyeongl/scribe-relay/recording"
	"github.com/ghyeongl/scribe-relay/storage"
)

// Options tunes the HTTP handlers.
type Options struct {
	// DataDir is reported on by /health disk statistics.
	DataDir string
	// MaxUploads bounds concurrent chunk writes.
	MaxUploads int
	// MaxChunkBytes bounds a single upload request body.
	MaxChunkBytes int64
}

// ConnCounter reports the number of live real-time connections.
type ConnCounter interface {
	Len() int
}

// Handlers holds the HTTP handlers of the recording API.
type Handlers struct {
	coord    *recording.Coordinator
	blobs    *storage.BlobStore
	signer   *storage.Signer
	conns    ConnCounter
	uploads  semaphore.Semaphore
	validate *validator.Validate
	opts     Options
}

// NewHandlers creates the API handlers.
func NewHandlers(coord *recording.Coordinator, blobs *storage.BlobStore, signer *storage.Signer, conns ConnCounter, opts Options) *Handlers {
	if opts.MaxUploads <= 0 {
		opts.MaxUploads = 4
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = 64 << 20
	}
	return &Handlers{
		coord:    coord,
		blobs:    blobs,
		signer:   signer,
		conns:    conns,
		uploads:  semaphore.New(opts.MaxUploads),
		validate: newValidator(),
		opts:     opts,
	}
}

type diskStats struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Timestamp    string          `json:"timestamp"`
	Connections  int             `json:"connections"`
	Sessions     int             `json:"sessions"`
	Disk         *diskStats      `json:"disk,omitempty"`
	RecentErrors []logging.Entry `json:"recentErrors"`
}

// HandleHealth handles GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "OK",
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Sessions:     h.coord.SessionCount(),
		RecentErrors: logging.RecentErrors(),
	}
	if h.conns != nil {
		resp.Connections = h.conns.Len()
	}
	if h.opts.DataDir != "" {
		if u, err := disk.Usage(h.opts.DataDir); err == nil {
			resp.Disk = &diskStats{Total: u.Total, Free: u.Free, UsedPercent: u.UsedPercent}
		} else {
			logging.Sub("handlers").Debug("disk usage unavailable", "dir", h.opts.DataDir, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type createSessionRequest struct {
	PatientID string `json:"patientId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
}

// HandleCreateSession handles POST /api/v1/upload-session
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	var req createSessionRequest
	if err := decodeBody(r, h.validate, &req); err != nil {
		l.Warn("create session: bad body", "err", err)
		writeErr(w, err)
		return
	}
	id, err := h.coord.CreateSession(req.PatientID, req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "message": "Session created successfully"})
}

// HandleGetSession handles GET /api/v1/sessions/{sessionId}
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.coord.Session(mux.Vars(r)["sessionId"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleListChunks handles GET /api/v1/sessions/{sessionId}/chunks
func (h *Handlers) HandleListChunks(w http.ResponseWriter, r *http.Request) {
	chunks := h.coord.Chunks(mux.Vars(r)["sessionId"])
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

// HandleBundle handles GET /api/v1/sessions/{sessionId}/bundle
// and streams every stored payload of the session as a zip.
func (h *Handlers) HandleBundle(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	sessionID := mux.Vars(r)["sessionId"]
	refs := lo.Uniq(lo.Map(h.coord.Chunks(sessionID), func(c recording.Chunk, _ int) string { return c.PayloadRef }))
	if len(refs) == 0 {
		writeErr(w, &recording.NotFoundError{Kind: "chunks for session", ID: sessionID})
		return
	}
	objs := lo.Map(refs, func(ref string, _ int) storage.Object { return storage.Object{Key: ref} })

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, sessionID))
	if err := h.blobs.WriteBundle(r.Context(), w, objs); err != nil {
		// Headers may already be out; all that is left is to log.
		l.Error("bundle failed", "session", sessionID, "err", err)
	}
}

type chunkRefRequest struct {
	SessionID   string       `json:"sessionId" validate:"required"`
	ChunkNumber *chunkNumber `json:"chunkNumber"`
}

func (h *Handlers) decodeChunkRef(r *http.Request) (string, int, error) {
	var req chunkRefRequest
	if err := decodeBody(r, h.validate, &req); err != nil {
		return "", 0, err
	}
	n, err := req.ChunkNumber.value()
	if err != nil {
		return "", 0, err
	}
	return req.SessionID, n, nil
}

// HandlePresignedURL handles POST /api/v1/get-presigned-url
func (h *Handlers) HandlePresignedURL(w http.ResponseWriter, r *http.Request) {
	sessionID, n, err := h.decodeChunkRef(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	u, exp, err := h.signer.UploadURL(sessionID, n)
	if err != nil {
		logging.Sub("handlers").Error("presign failed", "session", sessionID, "err", err)
		writeErr(w, err)
		return
	}
	resp := map[string]any{"presignedUrl": u}
	if !exp.IsZero() {
		resp["expiresAt"] = exp.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUploadChunk handles PUT /api/upload-chunk/{sessionId}/{chunkNumber}
// with the payload in the multipart field "audio".
func (h *Handlers) HandleUploadChunk(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	vars := mux.Vars(r)
	sessionID := strings.TrimSpace(vars["sessionId"])
	n, err := recording.ParseOrdinal(vars["chunkNumber"])
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.signer.Verify(r.URL.Query().Get("token"), sessionID, n); err != nil {
		l.Warn("upload rejected", "session", sessionID, "ordinal", n, "err", err)
		writeErr(w, err)
		return
	}

	if err := h.uploads.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "upload cancelled")
		return
	}
	defer h.uploads.Release(1)

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxChunkBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "chunk too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	key, err := storage.ChunkKey(sessionID, n, filepath.Ext(header.Filename))
	if err != nil {
		writeErr(w, err)
		return
	}
	obj, err := h.blobs.Put(r.Context(), key, file)
	if err != nil {
		l.Error("store chunk failed", "session", sessionID, "ordinal", n, "err", err)
		writeErr(w, err)
		return
	}

	chunkID, err := h.coord.UploadChunk(sessionID, n, obj.Key, obj.Size)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Chunk uploaded successfully",
		"chunkId":  chunkID,
		"checksum": obj.Checksum,
	})
}

// HandleNotifyChunk handles POST /api/v1/notify-chunk-uploaded
func (h *Handlers) HandleNotifyChunk(w http.ResponseWriter, r *http.Request) {
	sessionID, n, err := h.decodeChunkRef(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.coord.NotifyChunkUploaded(sessionID, n); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chunk upload notification received"})
}

// HandleListPatients handles GET /api/v1/patients?userId=
func (h *Handlers) HandleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.coord.Patients(r.URL.Query().Get("userId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

// HandleAddPatient handles POST /api/v1/add-patient-ext
func (h *Handlers) HandleAddPatient(w http.ResponseWriter, r *http.Request) {
	var in recording.PatientInput
	if err := decodeBody(r, h.validate, &in); err != nil {
		writeErr(w, err)
		return
	}
	p, err := h.coord.UpsertPatient(in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleSessionsByPatient handles GET /api/v1/fetch-session-by-patient/{patientId}
func (h *Handlers) HandleSessionsByPatient(w http.ResponseWriter, r *http.Request) {
	sessions := h.coord.SessionsByPatient(mux.Vars(r)["patientId"])
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// HandleTranscription handles GET /api/v1/transcription/{sessionId}[?format=srt|vtt]
func (h *Handlers) HandleTranscription(w http.ResponseWriter, r *http.Request) {
	tr, err := h.coord.Transcript(mux.Vars(r)["sessionId"])
	if err != nil {
		writeErr(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" || format == "json" {
		writeJSON(w, http.StatusOK, map[string]any{"transcription": tr.Text, "segments": tr.Segments})
		return
	}

	// Render before writing so errors still get a proper status.
	var buf bytes.Buffer
	if err := recording.Export(tr, format, &buf); err != nil {
		writeErr(w, err)
		return
	}
	ctype := "application/x-subrip"
	if format == recording.FormatWebVTT {
		ctype = "text/vtt"
	}
	w.Header().Set("Content-Type", ctype+"; charset=utf-8")
	w.Write(buf.Bytes()) //nolint:errcheck
}
