package handler

import (
	"net/http"

	"stockcount-sync-api/internal/middleware"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/service"
	"stockcount-sync-api/pkg/apierror"
	"stockcount-sync-api/pkg/response"
)

// SyncHandler serves batch sync and heartbeats.
type SyncHandler struct {
	batch     *service.BatchProcessor
	heartbeat *service.HeartbeatService
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(batch *service.BatchProcessor, heartbeat *service.HeartbeatService) *SyncHandler {
	return &SyncHandler{batch: batch, heartbeat: heartbeat}
}

// Batch handles POST /api/v1/sync/batch
func (h *SyncHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Records) == 0 && len(req.Operations) == 0 {
		writeError(w, apierror.BadRequest("records or operations are required"))
		return
	}

	resp, err := h.batch.Process(r.Context(), middleware.CallerFromContext(r.Context()), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, resp)
}

// HeartbeatRequest is the body of POST /api/v1/sync/heartbeat.
type HeartbeatRequest struct {
	SessionID string `json:"session_id"`
	RackID    string `json:"rack_id,omitempty"`
}

// Heartbeat handles POST /api/v1/sync/heartbeat
func (h *SyncHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	res, err := h.heartbeat.Heartbeat(r.Context(), caller.UserID, req.SessionID, req.RackID)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, res)
}
