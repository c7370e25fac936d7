package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stockcount-sync-api/internal/lock"
	"stockcount-sync-api/internal/syncerr"
	"stockcount-sync-api/pkg/apierror"
	"stockcount-sync-api/pkg/response"
)

// maxLockWait caps how long an acquire request may poll for a busy rack.
const maxLockWait = 30 * time.Second

// LockHandler exposes rack leases over HTTP.
type LockHandler struct {
	locks      *lock.Manager
	defaultTTL time.Duration
}

// NewLockHandler creates a lock handler. defaultTTL applies when a request
// omits ttl_seconds.
func NewLockHandler(locks *lock.Manager, defaultTTL time.Duration) *LockHandler {
	return &LockHandler{locks: locks, defaultTTL: defaultTTL}
}

// LockRequest is the body of acquire, renew and release.
type LockRequest struct {
	Owner      string `json:"owner"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	// WaitMS makes acquire poll with backoff for up to this long.
	WaitMS int `json:"wait_ms,omitempty"`
}

func (h *LockHandler) parse(r *http.Request) (string, LockRequest, error) {
	var req LockRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", req, err
	}
	if req.Owner == "" {
		req.Owner = r.URL.Query().Get("owner")
	}
	if req.Owner == "" {
		return "", req, apierror.BadRequest("owner is required")
	}
	if req.TTLSeconds < 0 || req.WaitMS < 0 {
		return "", req, apierror.BadRequest("ttl_seconds and wait_ms must not be negative")
	}
	return chi.URLParam(r, "rack_id"), req, nil
}

func (h *LockHandler) ttl(req LockRequest) time.Duration {
	if req.TTLSeconds > 0 {
		return time.Duration(req.TTLSeconds) * time.Second
	}
	return h.defaultTTL
}

// Get handles GET /api/v1/locks/racks/{rack_id}
func (h *LockHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.locks.RackLockInfo(r.Context(), chi.URLParam(r, "rack_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, info)
}

// Acquire handles POST /api/v1/locks/racks/{rack_id}
func (h *LockHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	rackID, req, err := h.parse(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var ok bool
	if req.WaitMS > 0 {
		wait := time.Duration(req.WaitMS) * time.Millisecond
		if wait > maxLockWait {
			wait = maxLockWait
		}
		policy := lock.DefaultRetryPolicy()
		policy.MaxElapsedTime = wait
		ok, err = h.locks.AcquireRackLockWithRetry(r.Context(), rackID, req.Owner, h.ttl(req), policy)
	} else {
		ok, err = h.locks.AcquireRackLock(r.Context(), rackID, req.Owner, h.ttl(req))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, syncerr.New(syncerr.KindLockConflict, "rack %s is locked by another owner", rackID))
		return
	}
	h.Get(w, r)
}

// Renew handles PUT /api/v1/locks/racks/{rack_id}
func (h *LockHandler) Renew(w http.ResponseWriter, r *http.Request) {
	rackID, req, err := h.parse(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.locks.RenewRackLock(r.Context(), rackID, req.Owner, h.ttl(req))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, syncerr.New(syncerr.KindLockConflict, "rack %s is not held by %s", rackID, req.Owner))
		return
	}
	h.Get(w, r)
}

// Release handles DELETE /api/v1/locks/racks/{rack_id}
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	rackID, req, err := h.parse(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.locks.ReleaseRackLock(r.Context(), rackID, req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, syncerr.New(syncerr.KindLockConflict, "rack %s is not held by %s", rackID, req.Owner))
		return
	}
	response.OK(w, map[string]interface{}{"rack_id": rackID, "released": true})
}
