package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"repin/internal/models"
	"repin/internal/store"
	"repin/internal/telemetry"
)

// ItemStore is the slice of the work item store the API serves from.
type ItemStore interface {
	CreateItem(ctx context.Context, p store.CreateItemParams) (models.WorkItem, error)
	GetItem(ctx context.Context, id string) (models.WorkItem, error)
	ListItems(ctx context.Context, limit int) ([]models.WorkItem, error)
}

// Trigger is the manual entry point into the pipeline.
type Trigger interface {
	RunOnce(ctx context.Context) models.RunOutcome
}

// Server wires HTTP handlers for submissions and the manual trigger.
type Server struct {
	store       ItemStore
	trigger     Trigger
	maxAttempts int
}

// New constructs the API server. maxAttempts is applied to new submissions.
func New(st ItemStore, trigger Trigger, maxAttempts int) *Server {
	return &Server{
		store:       st,
		trigger:     trigger,
		maxAttempts: maxAttempts,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/items", s.handleSubmit)
	r.Get("/items", s.handleListItems)
	r.Get("/items/{id}", s.handleGetItem)
	r.Post("/run", s.handleRun)
	return r
}

type submitRequest struct {
	SourceURL string `json:"source_url"`
	OwnerID   string `json:"owner_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	if !validSourceURL(req.SourceURL) {
		http.Error(w, "source_url must be a valid http(s) url", http.StatusBadRequest)
		return
	}

	item, err := s.store.CreateItem(r.Context(), store.CreateItemParams{
		SourceURL:   req.SourceURL,
		OwnerID:     req.OwnerID,
		MaxAttempts: s.maxAttempts,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, item)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := s.store.ListItems(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.WorkItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleRun triggers one pipeline run and reports its outcome. Safe to call
// while the timer loop is active: a run in flight answers busy.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	outcome := s.trigger.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]models.RunOutcome{"outcome": outcome})
}

func validSourceURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
