// Package httpapi exposes research runs over HTTP: start a run, poll its
// state, read its evidence, report, and audit trail.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/observability"
	"github.com/probelab/scrutiny/report"
	"github.com/probelab/scrutiny/runctl"
	"github.com/probelab/scrutiny/shield"
)

// Options configures the API server.
type Options struct {
	// AdminUser and AdminHash guard mutating routes with basic auth. An
	// empty hash disables auth; only do that in development.
	AdminUser string
	AdminHash string // bcrypt
	Logger    *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	runs    *runctl.Manager
	store   *evidence.Store
	reports *report.Assembler
	trail   *observability.Trail // may be nil
	log     *slog.Logger
	opts    Options
}

// New wires the server. trail may be nil.
func New(runs *runctl.Manager, store *evidence.Store, reports *report.Assembler, trail *observability.Trail, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AdminHash == "" {
		opts.Logger.Warn("httpapi: no admin hash configured, mutating routes are open")
	}
	return &Server{
		runs:    runs,
		store:   store,
		reports: reports,
		trail:   trail,
		log:     opts.Logger,
		opts:    opts,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(1 << 20))
	r.Use(shield.NewRateLimiter(nil).Middleware)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.With(s.requireAdmin).Post("/api/runs", s.handleStartRun)
	r.Get("/api/runs", s.handleListRuns)
	r.Get("/api/runs/{id}", s.handleGetRun)
	r.Get("/api/runs/{id}/evidence", s.handleRunEvidence)
	r.Get("/api/runs/{id}/report", s.handleRunReport)
	r.Get("/api/runs/{id}/audit", s.handleRunAudit)

	return r
}

type startRunRequest struct {
	Company   string `json:"company"`
	TargetURL string `json:"target_url"`
	Thesis    string `json:"thesis,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	if req.Company == "" || req.TargetURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "company and target_url are required"})
		return
	}

	entry, err := s.runs.Start(req.Company, req.TargetURL, req.Thesis)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": entry.ID, "status": entry.Status})
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	list := s.runs.List()
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		out = append(out, map[string]any{
			"id": e.ID, "company": e.Company, "status": e.Status, "started_at": e.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRunEvidence(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	items, err := s.store.Recent(r.Context(), entry.Company, 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if items == nil {
		items = []evidence.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if entry.State == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run still in progress"})
		return
	}
	md, err := s.reports.Render(r.Context(), entry.State)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(md))
}

func (s *Server) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if s.trail == nil || entry.State == nil {
		writeJSON(w, http.StatusOK, []observability.Entry{})
		return
	}
	entries, err := s.trail.ByRun(r.Context(), entry.State.RunID, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []observability.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// requireAdmin guards mutating routes with bcrypt basic auth.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.opts.AdminUser {
			unauthorized(w)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.opts.AdminHash), []byte(pass)); err != nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="scrutiny"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response", "error", err)
	}
}
