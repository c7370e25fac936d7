package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcount-sync-api/internal/conflict"
	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/repository"
	"stockcount-sync-api/internal/syncerr"
)

func TestRetentionPurgesOnlyOldTerminalConflicts(t *testing.T) {
	ctx := context.Background()
	store, err := docstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := repository.NewConflictRepository(store)
	seed := func(id, status string, age, resolvedAge time.Duration) {
		c := &model.SyncConflict{
			ID: id, EntityType: "verification_record", EntityID: id, User: "alice",
			Fields: []model.FieldDiff{}, Status: status, CreatedAt: t0.Add(-age),
		}
		if status != model.ConflictPending {
			at := t0.Add(-resolvedAge)
			c.ResolvedAt = &at
		}
		require.NoError(t, repo.Create(ctx, c))
	}
	seed("old-resolved", model.ConflictResolved, 40*24*time.Hour, 35*24*time.Hour)
	seed("old-ignored", model.ConflictIgnored, 31*24*time.Hour, 31*24*time.Hour)
	seed("old-pending", model.ConflictPending, 90*24*time.Hour, 0)
	seed("new-resolved", model.ConflictResolved, 24*time.Hour, time.Hour)
	seed("late-resolved", model.ConflictResolved, 90*24*time.Hour, 24*time.Hour)

	engine := conflict.NewEngine(repo, repository.NewEntityWriter(store))
	sched := NewRetentionScheduler(engine, RetentionConfig{Retention: 30 * 24 * time.Hour})
	sched.now = func() time.Time { return t0 }

	deleted, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	for _, id := range []string{"old-pending", "new-resolved", "late-resolved"} {
		_, err := repo.Get(ctx, id)
		assert.NoError(t, err, id)
	}
	_, err = repo.Get(ctx, "old-resolved")
	assert.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestRetentionStartStop(t *testing.T) {
	purged := make(chan time.Time, 1)
	sched := NewRetentionScheduler(purgeFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
		select {
		case purged <- cutoff:
		default:
		}
		return 0, nil
	}), RetentionConfig{Retention: time.Hour, Interval: time.Hour})
	sched.now = func() time.Time { return t0 }

	sched.Start()
	sched.Start()
	defer sched.Stop()

	select {
	case cutoff := <-purged:
		assert.Equal(t, t0.Add(-time.Hour), cutoff)
	case <-time.After(2 * time.Second):
		t.Fatal("initial purge did not run")
	}
	sched.Stop()
}

type purgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f purgeFunc) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}
