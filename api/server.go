package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tomasen/realip"

	"github.com/ghyeongl/scribe-relay/logging"
)

// NewRouter mounts the API, the websocket gateway and the metrics endpoint.
// Websocket upgrades on unknown paths are handed to the gateway, which
// refuses them.
func NewRouter(h *Handlers, gateway http.Handler, wsPath string, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverMiddleware, logMiddleware)

	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	if gateway != nil {
		r.Handle(wsPath, gateway)
	}

	r.HandleFunc("/api/upload-chunk/{sessionId}/{chunkNumber}", h.HandleUploadChunk).Methods(http.MethodPut)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/upload-session", h.HandleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{sessionId}", h.HandleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{sessionId}/chunks", h.HandleListChunks).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{sessionId}/bundle", h.HandleBundle).Methods(http.MethodGet)
	v1.HandleFunc("/get-presigned-url", h.HandlePresignedURL).Methods(http.MethodPost)
	v1.HandleFunc("/notify-chunk-uploaded", h.HandleNotifyChunk).Methods(http.MethodPost)
	v1.HandleFunc("/patients", h.HandleListPatients).Methods(http.MethodGet)
	v1.HandleFunc("/add-patient-ext", h.HandleAddPatient).Methods(http.MethodPost)
	v1.HandleFunc("/fetch-session-by-patient/{patientId}", h.HandleSessionsByPatient).Methods(http.MethodGet)
	v1.HandleFunc("/transcription/{sessionId}", h.HandleTranscription).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if gateway != nil && websocket.IsWebSocketUpgrade(req) {
			gateway.ServeHTTP(w, req)
			return
		}
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound
	return r
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.Sub("http").Error("handler panic", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, msgInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Sub("http").Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", realip.FromRequest(r),
			"dur", time.Since(start))
	})
}
