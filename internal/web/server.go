// Package web serves the JSON API: health and file listing, validation and
// rendering of OpenSCAD sources, and the session endpoints driving the
// iterative design loop. Responses carry {"error": msg} bodies on failure,
// with typed domain errors mapped to specific status codes.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"chisel/pkg/design"
	"chisel/pkg/render"
	"chisel/pkg/session"
	"chisel/pkg/vision"
)

// allowedOrigins is the CORS allow-list for the local frontend.
//
//nolint:gochecknoglobals // fixed origin table, treated as read-only
var allowedOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://127.0.0.1:3000": true,
}

// Server holds the API dependencies. All fields are required except Status,
// which defaults to an unwatched cache over DataDir.
type Server struct {
	Renderer *render.Renderer
	Sessions *session.Service
	DataDir  string
	Status   *StatusCache
	Version  string

	logger *slog.Logger
}

// New builds a Server and its file-status cache.
func New(renderer *render.Renderer, sessions *session.Service, dataDir, version string, logger *slog.Logger) *Server {
	return &Server{
		Renderer: renderer,
		Sessions: sessions,
		DataDir:  dataDir,
		Status:   NewStatusCache(dataDir, logger),
		Version:  version,
		logger:   logger,
	}
}

// Close releases the file-status watcher.
func (s *Server) Close() {
	if s.Status != nil {
		s.Status.Close()
	}
}

// Routes wires every endpoint onto a mux wrapped with CORS and request
// logging.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("GET /api/files/status", s.handleFilesStatus)

	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("POST /api/render/png", s.handleRenderPNG)
	mux.HandleFunc("POST /api/render/stl", s.handleRenderSTL)

	mux.HandleFunc("POST /api/agent/start", s.handleAgentStart)
	mux.HandleFunc("POST /api/agent/evaluate", s.handleAgentEvaluate)
	mux.HandleFunc("POST /api/agent/apply", s.handleAgentApply)
	mux.HandleFunc("POST /api/agent/stop", s.handleAgentStop)

	return s.withCORS(s.withLogging(mux))
}

// withLogging records one line per request with method, path, status, and
// duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// withCORS handles the local-frontend allow-list and preflight requests.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// writeJSON serializes v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

// writeError emits an {"error": msg} body.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps typed domain errors onto HTTP statuses: unknown
// session or missing file → 404, nothing staged → 409, failed validation →
// 422, iteration budget spent → 429, upstream model failure → 502. Renders
// and anything unrecognized are 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound  *design.SessionNotFoundError
		noPending *design.NoPendingCodeError
		limit     *design.IterationLimitError
		invalid   *design.ValidateError
		api       *vision.APIError
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &noPending):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalid):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &limit):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &api):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON parses the request body into v, rejecting unknown garbage with
// a uniform message.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
