package handler

import (
	"net/http"

	"stockcount-sync-api/internal/service"
	"stockcount-sync-api/pkg/response"
)

// AutoSyncHandler exposes the source monitor.
type AutoSyncHandler struct {
	monitor *service.AutoSyncMonitor
	items   *service.ItemSyncService
}

// NewAutoSyncHandler creates an auto-sync handler.
func NewAutoSyncHandler(monitor *service.AutoSyncMonitor, items *service.ItemSyncService) *AutoSyncHandler {
	return &AutoSyncHandler{monitor: monitor, items: items}
}

// Status handles GET /api/v1/autosync/status
func (h *AutoSyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{"monitor": h.monitor.Status()}
	if h.items != nil {
		runs, err := h.items.RecentRuns(r.Context(), 5)
		if err != nil {
			writeError(w, err)
			return
		}
		out["recent_runs"] = runs
	}
	response.OK(w, out)
}

// Trigger handles POST /api/v1/autosync/trigger. A started sync answers 202;
// a refused one answers 200 with the reason. Clients poll status for the outcome.
func (h *AutoSyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	res := h.monitor.TriggerManual()
	status := http.StatusOK
	if res.Triggered {
		status = http.StatusAccepted
	}
	response.JSON(w, status, res)
}
