// Package api exposes the shuffle pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/analytics"
	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/metrics"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/shuffle"
	"github.com/lucy-a11y/shuffle/internal/store"
)

// UserHeader carries the caller identity set by the upstream auth gateway.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Shuffler is the inbound API the HTTP layer serves.
type Shuffler interface {
	StartShuffle(ctx context.Context, userID string, req shuffle.StartRequest) (string, error)
	GetShuffleSessions(ctx context.Context, userID string, projectID int64) ([]model.ShuffleSession, error)
	GetShuffleDetails(ctx context.Context, userID, sessionID string) (*shuffle.SessionDetails, error)
	GenerateScriptForCompany(ctx context.Context, userID string, companyID int64, tone string) (*model.SalesScript, error)
	UpdateCompanyContactStatus(ctx context.Context, userID string, companyID int64, status, notes string) (*model.DiscoveredCompany, error)
	GetSalesAnalytics(ctx context.Context, userID string, projectID *int64, timeRange string) (*analytics.Report, error)
	CancelShuffle(ctx context.Context, userID, sessionID string) (bool, error)
	GetShuffleSalesScripts(ctx context.Context, userID, sessionID string) ([]store.CompanyScript, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the router.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the shuffle service.
type Server struct {
	router chi.Router
	svc    Shuffler
	db     Pinger
}

// NewServer constructs a Server with middleware and routes. db may be nil.
func NewServer(svc Shuffler, db Pinger, opts Options) *Server {
	s := &Server{svc: svc, db: db}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Route("/projects/{projectID}/shuffles", func(r chi.Router) {
			r.Post("/", s.startShuffle)
			r.Get("/", s.listSessions)
		})
		r.Route("/shuffles/{sessionID}", func(r chi.Router) {
			r.Get("/", s.sessionDetails)
			r.Post("/cancel", s.cancelShuffle)
			r.Get("/scripts", s.sessionScripts)
		})
		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Post("/scripts", s.generateScript)
			r.Put("/contact-status", s.updateContactStatus)
		})
		r.Get("/analytics/sales", s.salesAnalytics)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	Category        string  `json:"category"`
	Demographics    *string `json:"demographics,omitempty"`
	SitesToDiscover int     `json:"sites_to_discover"`
}

func (s *Server) startShuffle(w http.ResponseWriter, r *http.Request) {
	projectID, ok := int64Param(w, r, "projectID")
	if !ok {
		return
	}
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.svc.StartShuffle(r.Context(), userID(r), shuffle.StartRequest{
		ProjectID:       projectID,
		Category:        req.Category,
		Demographics:    req.Demographics,
		SitesToDiscover: req.SitesToDiscover,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": string(model.SessionStatusRunning)})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	projectID, ok := int64Param(w, r, "projectID")
	if !ok {
		return
	}
	sessions, err := s.svc.GetShuffleSessions(r.Context(), userID(r), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []model.ShuffleSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) sessionDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.GetShuffleDetails(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) cancelShuffle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ok, err := s.svc.CancelShuffle(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "cancel_requested": ok})
}

func (s *Server) sessionScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.svc.GetShuffleSalesScripts(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if scripts == nil {
		scripts = []store.CompanyScript{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": scripts})
}

type scriptRequest struct {
	Tone string `json:"tone"`
}

func (s *Server) generateScript(w http.ResponseWriter, r *http.Request) {
	companyID, ok := int64Param(w, r, "companyID")
	if !ok {
		return
	}
	var req scriptRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	script, err := s.svc.GenerateScriptForCompany(r.Context(), userID(r), companyID, req.Tone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, script)
}

type contactStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) updateContactStatus(w http.ResponseWriter, r *http.Request) {
	companyID, ok := int64Param(w, r, "companyID")
	if !ok {
		return
	}
	var req contactStatusRequest
	if !decode(w, r, &req) {
		return
	}
	company, err := s.svc.UpdateCompanyContactStatus(r.Context(), userID(r), companyID, req.Status, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

func (s *Server) salesAnalytics(w http.ResponseWriter, r *http.Request) {
	var projectID *int64
	if raw := r.URL.Query().Get("projectId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, apperr.E(apperr.Validation, "api: projectId must be an integer"))
			return
		}
		projectID = &id
	}
	rep, err := s.svc.GetSalesAnalytics(r.Context(), userID(r), projectID, r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func userID(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, apperr.E(apperr.Validation, "api: %s must be an integer", name))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, apperr.Wrap(err, apperr.Validation, "api: invalid JSON body"))
		return false
	}
	return true
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("kind", string(kind)), zap.Error(err))
		if kind == apperr.Internal {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}
