// Package server exposes the operator HTTP surface: enrolling leads,
// pausing and resuming campaigns, and inspecting enrollment state.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/scheduler"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Server wires the store behind HTTP handlers.
type Server struct {
	store store.Store
	now   func() time.Time
}

// New creates the operator server.
func New(s store.Store) *Server {
	return &Server{store: s, now: time.Now}
}

// WithNow overrides the clock. Test hook.
func (s *Server) WithNow(now func() time.Time) *Server {
	s.now = now
	return s
}

// Router builds the chi router with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/enroll", s.handleEnroll)
	r.Get("/enrollments/{id}", s.handleGetEnrollment)
	r.Get("/campaigns", s.handleListCampaigns)
	r.Get("/campaigns/{id}/summary", s.handleCampaignSummary)
	r.Post("/campaigns/{id}/pause", s.handlePause)
	r.Post("/campaigns/{id}/resume", s.handleResume)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadID     string `json:"lead_id"`
		CampaignID string `json:"campaign_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LeadID == "" || req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "lead_id and campaign_id are required")
		return
	}

	enr, err := scheduler.Enroll(r.Context(), s.store, req.LeadID, req.CampaignID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead or campaign not found")
			return
		}
		zap.L().Error("enroll failed",
			zap.String("lead_id", req.LeadID),
			zap.String("campaign_id", req.CampaignID),
			zap.Error(err))
		writeError(w, http.StatusConflict, eris.Cause(err).Error())
		return
	}
	writeJSON(w, http.StatusCreated, enr)
}

func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	enr, err := s.store.GetEnrollment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "enrollment not found")
			return
		}
		zap.L().Error("get enrollment", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, enr)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context())
	if err != nil {
		zap.L().Error("list campaigns", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if campaigns == nil {
		campaigns = []model.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) handleCampaignSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	camp, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		zap.L().Error("campaign summary", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	counts, err := s.store.CountEnrollments(r.Context(), id)
	if err != nil {
		zap.L().Error("count enrollments", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign": camp,
		"states":   counts,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := chi.URLParam(r, "id")
	if err := s.store.SetCampaignPaused(r.Context(), id, paused); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		zap.L().Error("set campaign paused",
			zap.String("id", id),
			zap.Bool("paused", paused),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "paused": paused})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
