package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcount-sync-api/internal/breaker"
	"stockcount-sync-api/internal/cache"
	"stockcount-sync-api/internal/conflict"
	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/handler"
	"stockcount-sync-api/internal/lock"
	"stockcount-sync-api/internal/middleware"
	"stockcount-sync-api/internal/repository"
	"stockcount-sync-api/internal/service"
	"stockcount-sync-api/internal/source"
)

type testAPI struct {
	srv    http.Handler
	engine *conflict.Engine
	locks  *lock.Manager
}

func newTestAPI(t *testing.T, rl service.RateLimitConfig, apiKeys ...string) *testAPI {
	t.Helper()
	store, err := docstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	kv := cache.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })

	locks := lock.NewManager(kv, "api-test")
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	engine := conflict.NewEngine(repository.NewConflictRepository(store), repository.NewEntityWriter(store))

	batch := service.NewBatchProcessor(service.BatchDeps{
		Records:   repository.NewRecordRepository(store),
		Serials:   repository.NewSerialRepository(store),
		Legacy:    repository.NewLegacyRepository(store),
		Locks:     locks,
		Conflicts: engine,
		Limiter:   service.NewRateLimiter(kv, rl),
		Breaker:   breakers.Get("batch_sync"),
		Store:     store,
	}, service.BatchConfig{})

	src := source.Disabled{}
	items := service.NewItemSyncService(src, repository.NewItemRepository(store), repository.NewSyncRunRepository(store))
	monitor := service.NewAutoSyncMonitor(src, func(ctx context.Context, trigger string) error {
		_, err := items.Run(ctx, trigger)
		return err
	}, breakers.Get("source_sync"), service.AutoSyncConfig{})

	srv := New(Config{
		Handler:         handler.New("stockcount-sync-api", "test", map[string]handler.CheckFunc{"document_store": store.Ping, "kv": kv.Ping}),
		SyncHandler:     handler.NewSyncHandler(batch, service.NewHeartbeatService(locks, time.Minute, 5*time.Minute)),
		LockHandler:     handler.NewLockHandler(locks, 5*time.Minute),
		ConflictHandler: handler.NewConflictHandler(engine),
		AutoSyncHandler: handler.NewAutoSyncHandler(monitor, items),
		AdminHandler:    handler.NewAdminHandler(breakers, store, "sqlite", "memory"),
		AuthMiddleware: middleware.NewIdentityMiddleware(middleware.IdentityConfig{
			APIKeys: apiKeys,
			Public:  []string{"/api/v1/health", "/api/v1/ready"},
		}),
	})
	return &testAPI{srv: srv, engine: engine, locks: locks}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
		Limit      *int   `json:"limit"`
		Remaining  *int   `json:"remaining"`
	} `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	a.srv.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json" && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func rec(id string, verified, damage float64) map[string]any {
	return map[string]any{
		"client_record_id": id,
		"session_id":       "S1",
		"item_code":        "ITEM-" + id,
		"verified_qty":     verified,
		"damage_qty":       damage,
		"created_at":       "2024-09-03T08:00:00Z",
		"updated_at":       "2024-09-03T08:00:00Z",
	}
}

func TestBatchEndpoint(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{})

	w, env := api.do(t, http.MethodPost, "/api/v1/sync/batch", "alice", map[string]any{
		"records": []any{rec("r1", 5, 0), rec("r2", 1, 2), rec("r3", 3, 0)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		OK           []string `json:"ok"`
		Conflicts    []any    `json:"conflicts"`
		Errors       []any    `json:"errors"`
		TotalRecords int      `json:"total_records"`
		SuccessCount int      `json:"success_count"`
		FailedCount  int      `json:"failed_count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, []string{"r1", "r3"}, resp.OK)
	assert.Len(t, resp.Conflicts, 1)
	assert.NotNil(t, resp.Errors)
	assert.Equal(t, 3, resp.TotalRecords)
	assert.Equal(t, 2, resp.SuccessCount)
	assert.Equal(t, 1, resp.FailedCount)

	w, env = api.do(t, http.MethodPost, "/api/v1/sync/batch", "alice", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
}

func TestBatchRateLimitResponse(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Minute})
	body := map[string]any{"records": []any{rec("r1", 1, 0)}}

	w, _ := api.do(t, http.MethodPost, "/api/v1/sync/batch", "alice", body)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := api.do(t, http.MethodPost, "/api/v1/sync/batch", "alice", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.Positive(t, env.Error.RetryAfter)
	require.NotNil(t, env.Error.Remaining)
	assert.Equal(t, 0, *env.Error.Remaining)
	require.NotNil(t, env.Error.Limit)
	assert.Equal(t, 1, *env.Error.Limit)
}

func TestLockEndpoints(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{})
	path := "/api/v1/locks/racks/R-12"

	w, env := api.do(t, http.MethodPost, path, "alice", map[string]any{"owner": "S1", "ttl_seconds": 120})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info lock.Info
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.True(t, info.Locked)
	assert.Equal(t, "S1", info.Owner)
	assert.InDelta(t, 120, info.TTLSeconds, 1)

	w, env = api.do(t, http.MethodPost, path, "bob", map[string]any{"owner": "S2"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "LOCK_CONFLICT", env.Error.Code)

	w, _ = api.do(t, http.MethodPut, path, "bob", map[string]any{"owner": "S2"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = api.do(t, http.MethodPut, path, "alice", map[string]any{"owner": "S1", "ttl_seconds": 600})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.InDelta(t, 600, info.TTLSeconds, 1)

	w, _ = api.do(t, http.MethodDelete, path+"?owner=S1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = api.do(t, http.MethodGet, path, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.False(t, info.Locked)

	w, _ = api.do(t, http.MethodPost, path, "alice", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "owner is required")
}

func TestConflictEndpoints(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{})
	id, err := api.engine.DetectConflict(context.Background(), conflict.DetectInput{
		EntityType: "verification_record",
		EntityID:   "r1",
		Local:      map[string]any{"verified_qty": 5},
		Server:     map[string]any{"verified_qty": 4},
		User:       "alice",
		SessionID:  "S1",
	})
	require.NoError(t, err)

	w, env := api.do(t, http.MethodGet, "/api/v1/conflicts?status=pending", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Count)

	w, _ = api.do(t, http.MethodGet, "/api/v1/conflicts/"+id, "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(t, http.MethodGet, "/api/v1/conflicts/nope", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(t, http.MethodPost, "/api/v1/conflicts/"+id+"/resolve", "", map[string]any{"resolution": "accept_server"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "resolver identity is required")

	w, env = api.do(t, http.MethodPost, "/api/v1/conflicts/"+id+"/resolve", "alice", map[string]any{"resolution": "merge"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_RESOLUTION", env.Error.Code)

	w, env = api.do(t, http.MethodPost, "/api/v1/conflicts/"+id+"/resolve", "alice", map[string]any{"resolution": "accept_server"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resolved struct {
		Status     string `json:"status"`
		ResolvedBy string `json:"resolved_by"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.Equal(t, "resolved", resolved.Status)
	assert.Equal(t, "alice", resolved.ResolvedBy)

	w, _ = api.do(t, http.MethodPost, "/api/v1/conflicts/"+id+"/resolve", "alice", map[string]any{"resolution": "ignore"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, env = api.do(t, http.MethodGet, "/api/v1/conflicts/stats", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Total    int64 `json:"total"`
		Resolved int64 `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Resolved)

	w, _ = api.do(t, http.MethodPost, "/api/v1/conflicts/batch-resolve", "alice",
		map[string]any{"conflict_ids": []string{id}, "resolution": "merge"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, env = api.do(t, http.MethodPost, "/api/v1/conflicts/auto-resolve", "alice", map[string]any{"strategy": "newest_wins"})
	require.Equal(t, http.StatusOK, w.Code)
	var auto struct {
		Resolved int `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &auto))
	assert.Zero(t, auto.Resolved)

	w, _ = api.do(t, http.MethodPost, "/api/v1/conflicts/auto-resolve", "alice", map[string]any{"strategy": "coin_flip"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHeartbeatEndpoint(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{})
	ok, err := api.locks.AcquireRackLock(context.Background(), "R1", "S1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	w, env := api.do(t, http.MethodPost, "/api/v1/sync/heartbeat", "alice", map[string]any{"session_id": "S1", "rack_id": "R1"})
	require.Equal(t, http.StatusOK, w.Code)
	var res service.HeartbeatResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.RackRenewed)

	w, _ = api.do(t, http.MethodPost, "/api/v1/sync/heartbeat", "", map[string]any{"session_id": "S1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutoSyncEndpoints(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{})

	w, env := api.do(t, http.MethodPost, "/api/v1/autosync/trigger", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res service.TriggerResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Triggered)
	assert.Equal(t, service.ReasonSourceUnavailable, res.Reason)

	w, _ = api.do(t, http.MethodGet, "/api/v1/autosync/status", "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndAdmin(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{})

	for _, path := range []string{"/api/v1/health", "/api/v1/ready", "/api/status", "/api/v1/admin/stats"} {
		w, _ := api.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w, _ := api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestAPIKeyRequired(t *testing.T) {
	api := newTestAPI(t, service.RateLimitConfig{}, "secret")

	w, env := api.do(t, http.MethodGet, "/api/v1/conflicts", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	w, _ = api.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
