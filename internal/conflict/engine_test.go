package conflict

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/repository"
	"stockcount-sync-api/internal/syncerr"
)

var now = time.Date(2024, 8, 5, 14, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *Engine
	conflicts *repository.DocConflictRepository
	records   *repository.DocRecordRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := docstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	conflicts := repository.NewConflictRepository(store)
	return &fixture{
		engine:    NewEngine(conflicts, repository.NewEntityWriter(store), WithClock(func() time.Time { return now })),
		conflicts: conflicts,
		records:   repository.NewRecordRepository(store),
	}
}

func (f *fixture) seedRecord(t *testing.T, id string, qty float64) {
	t.Helper()
	_, err := f.records.Save(context.Background(), &model.VerificationRecord{
		ClientRecordID: id, SessionID: "S1", ItemCode: "X", VerifiedQty: qty, UpdatedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)
}

func (f *fixture) detect(t *testing.T, entityID string, local, server map[string]any) string {
	t.Helper()
	id, err := f.engine.DetectConflict(context.Background(), DetectInput{
		EntityType: "verification_record", EntityID: entityID,
		Local: local, Server: server, User: "alice", SessionID: "S1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestDetectConflictNoDifference(t *testing.T) {
	f := newFixture(t)

	id, err := f.engine.DetectConflict(context.Background(), DetectInput{
		EntityType: "verification_record", EntityID: "r1",
		Local:  map[string]any{"verified_qty": 5, "note": "local only"},
		Server: map[string]any{"verified_qty": 5.0, "floor": "2"},
	})
	require.NoError(t, err)
	assert.Empty(t, id)

	stats, err := f.engine.GetConflictStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestDetectConflictRecordsEachDifferingField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := map[string]any{"verified_qty": 7, "damage_qty": 1, "item_code": "X", "updated_at": "2024-08-05T13:00:00Z"}
	server := map[string]any{"verified_qty": 5, "damage_qty": 0, "item_code": "X", "updated_at": "2024-08-05T12:00:00Z"}
	id := f.detect(t, "r1", local, server)

	c, err := f.engine.GetConflictByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictPending, c.Status)
	require.Len(t, c.Fields, 3)
	assert.Equal(t, []string{"damage_qty", "updated_at", "verified_qty"},
		[]string{c.Fields[0].Field, c.Fields[1].Field, c.Fields[2].Field})
	require.NotNil(t, c.LocalTimestamp)
	require.NotNil(t, c.ServerTimestamp)
	assert.True(t, c.LocalTimestamp.After(*c.ServerTimestamp))
	assert.True(t, c.CreatedAt.Equal(now))
}

func TestResolveAcceptServerWritesEntityOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRecord(t, "r1", 7)

	id := f.detect(t, "r1", map[string]any{"verified_qty": 7}, map[string]any{"verified_qty": 5})

	c, err := f.engine.ResolveConflict(ctx, id, model.ResolutionAcceptServer, "sup", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictResolved, c.Status)
	assert.Equal(t, "sup", c.ResolvedBy)

	rec, err := f.records.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, rec.VerifiedQty)
	assert.True(t, rec.UpdatedAt.Equal(now))

	_, err = f.engine.ResolveConflict(ctx, id, model.ResolutionAcceptServer, "sup", nil)
	assert.ErrorIs(t, err, syncerr.ErrInvalidResolution)
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.detect(t, "r1", map[string]any{"a": 1}, map[string]any{"a": 2})

	_, err := f.engine.ResolveConflict(ctx, "missing", model.ResolutionAcceptLocal, "sup", nil)
	assert.ErrorIs(t, err, syncerr.ErrNotFound)

	_, err = f.engine.ResolveConflict(ctx, id, "coin_flip", "sup", nil)
	assert.ErrorIs(t, err, syncerr.ErrInvalidResolution)

	_, err = f.engine.ResolveConflict(ctx, id, model.ResolutionMerge, "sup", nil)
	assert.ErrorIs(t, err, syncerr.ErrInvalidResolution)

	c, err := f.engine.GetConflictByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictPending, c.Status, "rejected resolutions leave the conflict pending")
}

func TestResolveMergeAndIgnore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRecord(t, "r1", 7)
	f.seedRecord(t, "r2", 3)

	mergeID := f.detect(t, "r1", map[string]any{"verified_qty": 7}, map[string]any{"verified_qty": 5})
	_, err := f.engine.ResolveConflict(ctx, mergeID, model.ResolutionMerge, "sup", map[string]any{"verified_qty": 6})
	require.NoError(t, err)
	rec, err := f.records.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, rec.VerifiedQty)

	ignoreID := f.detect(t, "r2", map[string]any{"verified_qty": 9}, map[string]any{"verified_qty": 3})
	c, err := f.engine.ResolveConflict(ctx, ignoreID, model.ResolutionIgnore, "sup", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictIgnored, c.Status)
	assert.Nil(t, c.ResolvedData)
	rec, err = f.records.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, 3.0, rec.VerifiedQty)
}

func TestResolveMissingEntityStillResolves(t *testing.T) {
	f := newFixture(t)
	id := f.detect(t, "ghost", map[string]any{"a": 1}, map[string]any{"a": 2})

	c, err := f.engine.ResolveConflict(context.Background(), id, model.ResolutionAcceptLocal, "sup", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictResolved, c.Status)
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.seedRecord(t, "r1", 1)
	id := f.detect(t, "r1", map[string]any{"verified_qty": 1}, map[string]any{"verified_qty": 2})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.ResolveConflict(context.Background(), id, model.ResolutionAcceptServer, "sup", nil); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

type failingWriter struct{}

func (failingWriter) Apply(context.Context, string, string, map[string]any, time.Time) (bool, error) {
	return false, syncerr.Transient(errors.New("disk full"), "write failed")
}

func TestResolveReopensWhenEntityWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.detect(t, "r1", map[string]any{"a": 1}, map[string]any{"a": 2})

	engine := NewEngine(f.conflicts, failingWriter{}, WithClock(func() time.Time { return now }))
	_, err := engine.ResolveConflict(ctx, id, model.ResolutionAcceptServer, "sup", nil)
	assert.ErrorIs(t, err, syncerr.ErrTransientStore)

	c, err := f.engine.GetConflictByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictPending, c.Status)
	assert.Empty(t, c.ResolvedBy)
}

func TestAutoResolveNewestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRecord(t, "newer-local", 1)
	f.seedRecord(t, "older-local", 1)
	f.seedRecord(t, "tie", 1)

	mk := func(entityID string, local, server time.Time) {
		_, err := f.engine.DetectConflict(ctx, DetectInput{
			EntityType: "verification_record", EntityID: entityID,
			Local:          map[string]any{"verified_qty": 10},
			Server:         map[string]any{"verified_qty": 20},
			LocalTimestamp: &local, ServerTimestamp: &server,
		})
		require.NoError(t, err)
	}
	mk("newer-local", now, now.Add(-time.Minute))
	mk("older-local", now.Add(-time.Minute), now)
	mk("tie", now, now)

	n, err := f.engine.AutoResolveSimpleConflicts(ctx, model.StrategyNewestWins)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for id, want := range map[string]float64{"newer-local": 10, "older-local": 20, "tie": 20} {
		rec, err := f.records.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, rec.VerifiedQty, id)
	}

	resolved, err := f.engine.GetConflicts(ctx, model.ConflictFilter{Status: model.ConflictResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	for _, c := range resolved {
		assert.Equal(t, AutoResolver, c.ResolvedBy)
	}

	_, err = f.engine.AutoResolveSimpleConflicts(ctx, "loudest_wins")
	assert.ErrorIs(t, err, syncerr.ErrInvalidResolution)
}

func TestBatchResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.detect(t, "r1", map[string]any{"x": 1}, map[string]any{"x": 2})
	b := f.detect(t, "r2", map[string]any{"x": 1}, map[string]any{"x": 2})

	_, err := f.engine.BatchResolve(ctx, []string{a, b}, model.ResolutionMerge, "sup")
	assert.ErrorIs(t, err, syncerr.ErrInvalidResolution)

	res, err := f.engine.BatchResolve(ctx, []string{a, "missing", b}, model.ResolutionIgnore, "sup")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Resolved)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	assert.False(t, res.Results[1].Success)
	assert.Equal(t, string(syncerr.KindNotFound), res.Results[1].ErrorCode)

	stats, err := f.engine.GetConflictStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Ignored)
	assert.Equal(t, int64(2), stats.ByEntityType["verification_record"])
}

func TestGetConflictsClampsLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.detect(t, "r", map[string]any{"x": i}, map[string]any{"x": -1})
	}
	list, err := f.engine.GetConflicts(context.Background(), model.ConflictFilter{Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
