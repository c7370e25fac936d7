package handler

import (
	"net/http"
	"runtime"
	"time"

	"stockcount-sync-api/internal/breaker"
	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	breakers  *breaker.Registry
	store     docstore.Store
	dbType    string // sqlite or mongodb
	cacheType string // memory or redis
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(breakers *breaker.Registry, store docstore.Store, dbType, cacheType string) *AdminHandler {
	return &AdminHandler{
		breakers:  breakers,
		store:     store,
		dbType:    dbType,
		cacheType: cacheType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.breakers != nil {
		stats["circuit_breakers"] = h.breakers.Snapshots()
	}

	if h.store != nil {
		storeStats, err := h.store.Stats(r.Context())
		if err == nil {
			storeStats["status"] = "connected"
			stats["document_store"] = storeStats
		} else {
			stats["document_store"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
