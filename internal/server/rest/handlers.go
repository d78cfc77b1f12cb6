package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tripwire/frostwatch/internal/agent"
	"github.com/tripwire/frostwatch/internal/audit"
)

// Server holds the handler dependencies.
type Server struct {
	store     Store
	auditPath string
	health    http.HandlerFunc
	stream    http.Handler
	metrics   http.Handler
	logger    *slog.Logger
}

// NewServer returns a Server. health answers /healthz; when nil a static
// {"status":"ok"} is served. An empty auditPath disables /api/v1/audit.
func NewServer(store Store, auditPath string, health http.HandlerFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, auditPath: auditPath, health: health, logger: logger}
}

// WithStream mounts h at /api/v1/findings/stream.
func (s *Server) WithStream(h http.Handler) *Server {
	s.stream = h
	return s
}

// WithMetrics mounts h at /metrics, outside authentication.
func (s *Server) WithMetrics(h http.Handler) *Server {
	s.metrics = h
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetFindings serves GET /api/v1/findings.
//
//	limit     – page size (default 100, max 1000)
//	offset    – rows to skip (default 0)
//	min_score – lowest score returned; scores may be negative
func (s *Server) handleGetFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var fq agent.FindingQuery

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		fq.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		fq.Offset = n
	}
	if v := q.Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "'min_score' must be an integer")
			return
		}
		fq.MinScore = &n
	}

	findings, err := s.store.QueryFindings(r.Context(), fq.Normalize())
	if err != nil {
		s.logger.Error("rest: query findings", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to query findings")
		return
	}
	if findings == nil {
		findings = []agent.Finding{}
	}
	writeJSON(w, http.StatusOK, findings)
}

// auditResponse is the body of GET /api/v1/audit.
type auditResponse struct {
	Verified bool          `json:"verified"`
	Entries  []audit.Entry `json:"entries"`
}

// handleGetAudit serves GET /api/v1/audit. The whole chain is verified on
// every request; a broken chain is reported as 409.
func (s *Server) handleGetAudit(w http.ResponseWriter, _ *http.Request) {
	if s.auditPath == "" {
		writeJSONError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	entries, err := audit.Verify(s.auditPath)
	switch {
	case errors.Is(err, audit.ErrChainBroken):
		s.logger.Error("rest: audit chain broken", slog.Any("error", err))
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("rest: read audit log", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Verified: true, Entries: entries})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError sets Content-Type before the status so it is always sent.
func writeJSONError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"error": detail})
}
