// Package api is the HTTP surface: health and metrics endpoints, the
// WhatsApp webhook, and the facility administration API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mamabot/internal/config"
	"mamabot/internal/domain"
	"mamabot/internal/metrics"
)

const maxBodySize = 1 << 20 // 1MB

// ConversationStore reads the conversation log for the review surface.
type ConversationStore interface {
	GetByWhatsAppID(ctx context.Context, waID string) (*domain.User, error)
	RecentMessages(ctx context.Context, userID string, limit int) ([]domain.ConversationRecord, error)
}

// Server hosts every HTTP endpoint on a single listener.
type Server struct {
	cfg           *config.Config
	facilities    domain.FacilityStore
	conversations ConversationStore
	webhook       http.Handler
	collector     *metrics.MetricsCollector
	logger        *slog.Logger
	server        *http.Server
}

type ServerConfig struct {
	Config        *config.Config
	Facilities    domain.FacilityStore
	Conversations ConversationStore
	Webhook       http.Handler
	Collector     *metrics.MetricsCollector
	Logger        *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:           cfg.Config,
		facilities:    cfg.Facilities,
		conversations: cfg.Conversations,
		webhook:       cfg.Webhook,
		collector:     cfg.Collector,
		logger:        cfg.Logger,
	}
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.cfg.Metrics.Enabled && s.collector != nil {
		endpoint := s.cfg.Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.HandleFunc("GET "+endpoint, s.collector.Handler())
	}

	if s.webhook != nil {
		path := s.cfg.WhatsApp.WebhookPath
		if path == "" {
			path = "/webhook/whatsapp"
		}
		mux.Handle(path, s.webhook)
	}

	if s.cfg.API.Enabled && s.facilities != nil {
		mux.HandleFunc("GET /api/facilities", s.handleListFacilities)
		mux.HandleFunc("POST /api/facilities", s.handleCreateFacility)
		mux.HandleFunc("GET /api/facilities/{id}", s.handleGetFacility)
		mux.HandleFunc("PUT /api/facilities/{id}", s.handleUpdateFacility)
		mux.HandleFunc("DELETE /api/facilities/{id}", s.handleDeleteFacility)
	}

	if s.cfg.API.Enabled && s.conversations != nil {
		mux.HandleFunc("GET /api/users/{waID}/conversations", s.handleUserConversations)
	}

	return mux
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.General.Listen
	if addr == "" {
		addr = ":8080"
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("http server started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.collector != nil {
		status["uptime_seconds"] = int64(s.collector.Uptime().Seconds())
	}
	writeJSON(rw, http.StatusOK, status)
}

// --- Facility administration ---

func (s *Server) handleListFacilities(rw http.ResponseWriter, r *http.Request) {
	county := r.URL.Query().Get("county")
	activeOnly := r.URL.Query().Get("all") == ""

	facilities, err := s.facilities.List(r.Context(), county, activeOnly)
	if err != nil {
		s.logger.Error("facility list failed", "error", err)
		writeError(rw, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"facilities": facilities, "count": len(facilities)})
}

func (s *Server) handleCreateFacility(rw http.ResponseWriter, r *http.Request) {
	var f domain.FacilityRecord
	if err := decodeBody(r, &f); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(f.Name) == "" {
		writeError(rw, http.StatusBadRequest, "name is required")
		return
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Active = true

	if err := s.facilities.Create(r.Context(), f); err != nil {
		s.logger.Error("facility create failed", "name", f.Name, "error", err)
		writeError(rw, http.StatusInternalServerError, "create failed")
		return
	}
	s.logger.Info("facility created", "id", f.ID, "name", f.Name, "county", f.County)
	writeJSON(rw, http.StatusCreated, f)
}

func (s *Server) handleGetFacility(rw http.ResponseWriter, r *http.Request) {
	f, err := s.facilities.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, "lookup failed")
		return
	}
	if f == nil {
		writeError(rw, http.StatusNotFound, "facility not found")
		return
	}
	writeJSON(rw, http.StatusOK, f)
}

func (s *Server) handleUpdateFacility(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.facilities.Get(r.Context(), id)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, "lookup failed")
		return
	}
	if existing == nil {
		writeError(rw, http.StatusNotFound, "facility not found")
		return
	}

	var f domain.FacilityRecord
	if err := decodeBody(r, &f); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	f.ID = id

	if err := s.facilities.Update(r.Context(), f); err != nil {
		s.logger.Error("facility update failed", "id", id, "error", err)
		writeError(rw, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(rw, http.StatusOK, f)
}

// handleDeleteFacility deactivates; records are kept for audit.
func (s *Server) handleDeleteFacility(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.facilities.Get(r.Context(), id)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, "lookup failed")
		return
	}
	if existing == nil {
		writeError(rw, http.StatusNotFound, "facility not found")
		return
	}

	if err := s.facilities.Deactivate(r.Context(), id); err != nil {
		s.logger.Error("facility deactivate failed", "id", id, "error", err)
		writeError(rw, http.StatusInternalServerError, "deactivate failed")
		return
	}
	s.logger.Info("facility deactivated", "id", id, "name", existing.Name)
	rw.WriteHeader(http.StatusNoContent)
}

// --- Conversation review ---

func (s *Server) handleUserConversations(rw http.ResponseWriter, r *http.Request) {
	waID := r.PathValue("waID")

	user, err := s.conversations.GetByWhatsAppID(r.Context(), waID)
	if err != nil {
		s.logger.Error("user lookup failed", "whatsapp_id", waID, "error", err)
		writeError(rw, http.StatusInternalServerError, "lookup failed")
		return
	}
	if user == nil {
		writeError(rw, http.StatusNotFound, "user not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(rw, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	messages, err := s.conversations.RecentMessages(r.Context(), user.ID, limit)
	if err != nil {
		s.logger.Error("conversation read failed", "user", user.ID, "error", err)
		writeError(rw, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"whatsapp_id": user.WhatsAppID,
		"messages":    messages,
		"count":       len(messages),
	})
}

func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
