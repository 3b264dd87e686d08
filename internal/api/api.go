package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/review"
	"github.com/joescharf/council/internal/store"
)

// ModelManager is the residency surface exposed over HTTP.
type ModelManager interface {
	Evict(ctx context.Context, model string)
	Snapshot() map[string]models.ResidencyStatus
}

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	orch    *review.Orchestrator
	gateway inference.Gateway
	models  ModelManager
	logger  *slog.Logger
}

// NewServer creates a new API server.
// The model manager may be nil when the inference provider has no residency to manage.
func NewServer(s store.Store, orch *review.Orchestrator, gw inference.Gateway, mm ModelManager) *Server {
	return &Server{
		store:   s,
		orch:    orch,
		gateway: gw,
		models:  mm,
		logger:  slog.Default(),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/reviews", s.startReview)
	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)
	mux.HandleFunc("GET /api/v1/reviews/current", s.currentReview)
	mux.HandleFunc("DELETE /api/v1/reviews/current", s.cancelReview)
	mux.HandleFunc("POST /api/v1/reviews/current/complete", s.completeReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)

	mux.HandleFunc("PUT /api/v1/findings/{id}", s.updateFinding)

	mux.HandleFunc("GET /api/v1/events", s.events)

	mux.HandleFunc("GET /api/v1/reviewers", s.listReviewers)
	mux.HandleFunc("PUT /api/v1/reviewers/{id}", s.updateReviewer)

	mux.HandleFunc("GET /api/v1/models", s.listModels)
	mux.HandleFunc("POST /api/v1/models/unload", s.unloadModel)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// reviewErrorStatus maps orchestrator and store errors to HTTP status codes.
func reviewErrorStatus(err error) int {
	switch {
	case errors.Is(err, review.ErrEmptyDocument), errors.Is(err, review.ErrNoReviewers):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrReviewInProgress), errors.Is(err, review.ErrNotDeciding):
		return http.StatusConflict
	case errors.Is(err, review.ErrFindingNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// --- Reviews ---

func (s *Server) startReview(w http.ResponseWriter, r *http.Request) {
	var req review.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	id, err := s.orch.Start(r.Context(), req)
	if err != nil {
		writeError(w, reviewErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func (s *Server) currentReview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) cancelReview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.orch.Cancel()})
}

func (s *Server) completeReview(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Complete(); err != nil {
		writeError(w, reviewErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	filter := store.ReviewListFilter{DocumentPath: r.URL.Query().Get("path"), Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	sessions, err := s.store.ListReviewSessions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.ReviewSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	session, doc, err := s.store.GetReview(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, reviewErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "document": doc})
}

// updateFinding applies a decision to the live review, or to a stored one when the finding
// belongs to an earlier session.
func (s *Server) updateFinding(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.FindingStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !body.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", body.Status))
		return
	}

	id := r.PathValue("id")
	err := s.orch.UpdateFindingStatus(r.Context(), id, body.Status)
	if errors.Is(err, review.ErrNotDeciding) || errors.Is(err, review.ErrFindingNotFound) {
		err = s.store.UpdateFindingStatus(r.Context(), id, body.Status)
	}
	if err != nil {
		writeError(w, reviewErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(body.Status)})
}

// events streams orchestrator events as server-sent events, starting with a snapshot.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.orch.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", s.orch.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, string(ev.Kind), ev); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// --- Reviewers ---

func (s *Server) listReviewers(w http.ResponseWriter, r *http.Request) {
	reviewers, err := s.store.ListReviewers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reviewers == nil {
		reviewers = []*models.Reviewer{}
	}
	writeJSON(w, http.StatusOK, reviewers)
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
			*target = str
		}
	}
}

func (s *Server) updateReviewer(w http.ResponseWriter, r *http.Request) {
	rev, err := s.store.GetReviewer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, reviewErrorStatus(err), err.Error())
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	patchString(patch, "name", &rev.Name)
	patchString(patch, "icon", &rev.Icon)
	patchString(patch, "color", &rev.Color)
	patchString(patch, "model", &rev.Model)
	patchString(patch, "system_prompt", &rev.SystemPrompt)
	if v, ok := patch["enabled"].(bool); ok {
		rev.Enabled = v
	}
	if v, ok := patch["is_editor"].(bool); ok {
		rev.IsEditor = v
	}
	if v, ok := patch["sort_order"].(float64); ok {
		rev.SortOrder = int(v)
	}

	if err := s.store.SaveReviewer(r.Context(), rev); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// --- Models ---

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	resident, err := s.gateway.ListResident(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	residency := map[string]models.ResidencyStatus{}
	if s.models != nil {
		residency = s.models.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"resident": resident, "residency": residency})
}

func (s *Server) unloadModel(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeError(w, http.StatusNotImplemented, "model residency is not managed for this provider")
		return
	}
	// The orchestrator owns residency while a review runs.
	if s.orch.Snapshot().Running {
		writeError(w, reviewErrorStatus(review.ErrReviewInProgress), "cannot unload a model while a review is running")
		return
	}
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Model) == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	s.models.Evict(r.Context(), body.Model)
	writeJSON(w, http.StatusOK, map[string]any{"model": body.Model, "status": s.models.Snapshot()[body.Model]})
}
