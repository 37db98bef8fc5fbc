package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"plenum/core"
	"plenum/registry"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Hubs       map[string]*core.Hub
	Store      *registry.Store
	AuthSecret string
	Logger     *slog.Logger
	// Telemetry wraps the router with otelhttp instrumentation.
	Telemetry bool
	// CastRate bounds vote/command submissions per identity. Zero applies
	// the default of 5 per second with a burst of 10.
	CastRate  rate.Limit
	CastBurst int
}

// Server exposes the voting core over HTTP and websocket.
type Server struct {
	hubs   map[string]*core.Hub
	store  *registry.Store
	auth   *Authenticator
	logger *slog.Logger

	castRate  rate.Limit
	castBurst int
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	router http.Handler
}

// New constructs a configured router over the supplied chamber hubs.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CastRate <= 0 {
		cfg.CastRate = rate.Limit(5)
	}
	if cfg.CastBurst <= 0 {
		cfg.CastBurst = 10
	}
	srv := &Server{
		hubs:      cfg.Hubs,
		store:     cfg.Store,
		auth:      NewAuthenticator(cfg.AuthSecret),
		logger:    cfg.Logger,
		castRate:  cfg.CastRate,
		castBurst: cfg.CastBurst,
		limiters:  make(map[string]*rate.Limiter),
	}
	srv.router = srv.buildRouter(cfg.Telemetry)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter(telemetry bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.auth.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/chambers/{chamber}", func(cr chi.Router) {
		cr.Get("/state", s.GetState)
		cr.Get("/stream", s.Stream)
		cr.Get("/matters", s.ListMatters)

		cr.Group(func(control chi.Router) {
			control.Use(RequireRole(core.RoleController))
			control.Post("/sessions", s.ScheduleSession)
			control.Post("/sessions/{session}/start", s.StartSession)
			control.Post("/sessions/{session}/end", s.EndSession)
			control.Post("/rounds", s.OpenRound)
			control.Post("/rounds/{round}/close", s.CloseRound)
			control.Post("/rounds/{round}/interrupt", s.InterruptRound)
			control.Get("/audit", s.GetAudit)
		})

		cr.Group(func(voter chi.Router) {
			voter.Use(RequireRole(core.RoleVoter))
			voter.Post("/rounds/{round}/votes", s.CastVote)
		})
	})

	if telemetry {
		return otelhttp.NewHandler(r, "plenum.rpc")
	}
	return r
}

func (s *Server) hub(w http.ResponseWriter, r *http.Request) *core.Hub {
	chamber := chi.URLParam(r, "chamber")
	hub, ok := s.hubs[chamber]
	if !ok {
		writeError(w, http.StatusNotFound, "chamber_not_found", "unknown chamber")
		return nil
	}
	return hub
}

// ScheduleSession creates the chamber's next sitting.
func (s *Server) ScheduleSession(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	var body struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if body.ScheduledAt.IsZero() {
		body.ScheduledAt = time.Now().UTC()
	}
	session, err := hub.ScheduleSession(body.ScheduledAt, identity.Subject)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// StartSession opens the scheduled session.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	session, err := hub.StartSession(chi.URLParam(r, "session"), identity.Subject)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// EndSession closes the open session, interrupting any open round first.
func (s *Server) EndSession(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	report, err := hub.EndSession(chi.URLParam(r, "session"), identity.Subject)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// OpenRound puts a matter up for a roll call.
func (s *Server) OpenRound(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	var body struct {
		MatterID        string `json:"matter_id"`
		DurationSeconds int    `json:"duration_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if body.DurationSeconds < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "duration_seconds must not be negative")
		return
	}
	round, err := hub.OpenRound(body.MatterID, time.Duration(body.DurationSeconds)*time.Second, identity.Subject)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, round)
}

// CloseRound finalizes the round. A duplicate close reports the stored
// result with already_closed set, not an error.
func (s *Server) CloseRound(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	result, err := hub.CloseRound(chi.URLParam(r, "round"), identity.Subject)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// InterruptRound abandons the round without an outcome.
func (s *Server) InterruptRound(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	round, err := hub.InterruptRound(chi.URLParam(r, "round"), identity.Subject)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// CastVote records the calling councilor's ballot. The identity subject is
// the councilor id; a voter can only ever cast as itself.
func (s *Server) CastVote(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	if !s.allow(identity.Subject) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}
	var body struct {
		Value core.VoteValue `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	quorum, err := hub.CastVote(chi.URLParam(r, "round"), identity.Subject, body.Value)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quorum)
}

// GetState returns the role-scoped chamber snapshot.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, hub.State(identity.Role, identity.Subject))
}

// GetAudit returns the chamber's append-only audit trail.
func (s *Server) GetAudit(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	writeJSON(w, http.StatusOK, hub.AuditLog())
}

// ListMatters returns the chamber's matters, pending first.
func (s *Server) ListMatters(w http.ResponseWriter, r *http.Request) {
	chamber := chi.URLParam(r, "chamber")
	if _, ok := s.hubs[chamber]; !ok {
		writeError(w, http.StatusNotFound, "chamber_not_found", "unknown chamber")
		return
	}
	matters, err := s.store.Matters(chamber)
	if err != nil {
		s.logger.Error("list matters", "chamber", chamber, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, matters)
}

func (s *Server) allow(subject string) bool {
	s.limiterMu.Lock()
	limiter, ok := s.limiters[subject]
	if !ok {
		limiter = rate.NewLimiter(s.castRate, s.castBurst)
		s.limiters[subject] = limiter
	}
	s.limiterMu.Unlock()
	return limiter.Allow()
}

// writeCoreError maps the core error taxonomy onto HTTP statuses. The codes
// keep "already closed" distinguishable from "round not found" so the
// calling UI can decide between an error banner and a silent refresh.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, core.ErrRoundNotFound):
		writeError(w, http.StatusNotFound, "round_not_found", err.Error())
	case errors.Is(err, core.ErrRoundAlreadyOpen):
		writeError(w, http.StatusConflict, "round_already_open", err.Error())
	case errors.Is(err, core.ErrSessionAlreadyOpen):
		writeError(w, http.StatusConflict, "session_already_open", err.Error())
	case errors.Is(err, core.ErrNoOpenSession):
		writeError(w, http.StatusConflict, "no_open_session", err.Error())
	case errors.Is(err, core.ErrAlreadyClosed):
		writeError(w, http.StatusConflict, "already_closed", err.Error())
	case errors.Is(err, core.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, core.ErrInvalidMatter):
		writeError(w, http.StatusUnprocessableEntity, "invalid_matter", err.Error())
	case errors.Is(err, core.ErrNotEligible):
		writeError(w, http.StatusForbidden, "not_eligible", err.Error())
	case errors.Is(err, core.ErrInvalidVote):
		writeError(w, http.StatusBadRequest, "invalid_vote", err.Error())
	default:
		s.logger.Error("command failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "command failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":  code,
		"error": strings.TrimSpace(message),
	})
}
