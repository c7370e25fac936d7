package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stockcount-sync-api/internal/conflict"
	"stockcount-sync-api/internal/middleware"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/pkg/apierror"
	"stockcount-sync-api/pkg/response"
)

// ConflictHandler serves conflict listing and resolution.
type ConflictHandler struct {
	engine *conflict.Engine
}

// NewConflictHandler creates a conflict handler.
func NewConflictHandler(engine *conflict.Engine) *ConflictHandler {
	return &ConflictHandler{engine: engine}
}

// List handles GET /api/v1/conflicts
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ConflictFilter{
		Status:     q.Get("status"),
		SessionID:  q.Get("session_id"),
		User:       q.Get("user"),
		EntityType: q.Get("entity_type"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apierror.BadRequest("limit must be an integer"))
			return
		}
		filter.Limit = n
	}

	conflicts, err := h.engine.GetConflicts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// Stats handles GET /api/v1/conflicts/stats
func (h *ConflictHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetConflictStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, stats)
}

// Get handles GET /api/v1/conflicts/{id}
func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.GetConflictByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, c)
}

// ResolveRequest is the body of a single resolution.
type ResolveRequest struct {
	Resolution string         `json:"resolution"`
	MergedData map[string]any `json:"merged_data,omitempty"`
}

func resolver(r *http.Request) (string, error) {
	caller := middleware.CallerFromContext(r.Context())
	if caller.UserID == "" {
		return "", apierror.BadRequest(middleware.HeaderUserID + " header is required")
	}
	return caller.UserID, nil
}

// Resolve handles POST /api/v1/conflicts/{id}/resolve
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	by, err := resolver(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.engine.ResolveConflict(r.Context(), chi.URLParam(r, "id"), req.Resolution, by, req.MergedData)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, c)
}

// BatchResolveRequest is the body of a batch resolution.
type BatchResolveRequest struct {
	ConflictIDs []string `json:"conflict_ids"`
	Resolution  string   `json:"resolution"`
}

// BatchResolve handles POST /api/v1/conflicts/batch-resolve
func (h *ConflictHandler) BatchResolve(w http.ResponseWriter, r *http.Request) {
	by, err := resolver(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req BatchResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.ConflictIDs) == 0 {
		writeError(w, apierror.BadRequest("conflict_ids is required"))
		return
	}

	res, err := h.engine.BatchResolve(r.Context(), req.ConflictIDs, req.Resolution, by)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, res)
}

// AutoResolveRequest is the body of an auto resolution.
type AutoResolveRequest struct {
	Strategy string `json:"strategy"`
}

// AutoResolve handles POST /api/v1/conflicts/auto-resolve
func (h *ConflictHandler) AutoResolve(w http.ResponseWriter, r *http.Request) {
	var req AutoResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Strategy == "" {
		req.Strategy = model.StrategyServerWins
	}

	n, err := h.engine.AutoResolveSimpleConflicts(r.Context(), req.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"strategy": req.Strategy,
		"resolved": n,
	})
}
