package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/syncerr"
)

func newStore(t *testing.T) docstore.Store {
	t.Helper()
	s, err := docstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

func TestRecordSaveKeepsFirstSyncAudit(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepository(newStore(t))

	first := t0
	rec := &model.VerificationRecord{
		ClientRecordID: "rec-1", SessionID: "S1", ItemCode: "X", VerifiedQty: 4,
		Status: model.RecordStatusPartial, SyncStatus: model.SyncStatusSynced,
		SyncedBy: "alice", SyncedAt: &first,
	}
	inserted, err := repo.Save(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	later := t0.Add(time.Hour)
	again := *rec
	again.VerifiedQty = 6
	again.SyncedBy = "bob"
	again.SyncedAt = &later
	inserted, err = repo.Save(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, got.VerifiedQty)
	assert.Equal(t, "alice", got.SyncedBy)
	require.NotNil(t, got.SyncedAt)
	assert.True(t, got.SyncedAt.Equal(first))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestSerialClaimsAndOwners(t *testing.T) {
	ctx := context.Background()
	repo := NewSerialRepository(newStore(t))

	ok, err := repo.Claim(ctx, model.SerialNumber{Serial: "SN1", ClientRecordID: "rec-1", CreatedAt: t0})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, model.SerialNumber{Serial: "SN1", ClientRecordID: "rec-2", CreatedAt: t0})
	require.NoError(t, err)
	assert.False(t, ok)

	owners, err := repo.Owners(ctx, []string{"SN1", "SN2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SN1": "rec-1"}, owners)

	owners, err = repo.Owners(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func newConflict(id, status, entityType string, created time.Time) *model.SyncConflict {
	return &model.SyncConflict{
		ID: id, EntityType: entityType, EntityID: "e-" + id, User: "u1", SessionID: "S1",
		Fields:     []model.FieldDiff{{Field: "qty", LocalValue: 1.0, ServerValue: 2.0}},
		LocalData:  map[string]any{"qty": 1.0},
		ServerData: map[string]any{"qty": 2.0},
		Status:     status, CreatedAt: created,
	}
}

func TestConflictListMarkStatsPurge(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictRepository(newStore(t))

	require.NoError(t, repo.Create(ctx, newConflict("c1", model.ConflictPending, "verification_record", t0)))
	require.NoError(t, repo.Create(ctx, newConflict("c2", model.ConflictPending, "session", t0.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newConflict("c3", model.ConflictIgnored, "session", t0.Add(2*time.Minute))))

	list, err := repo.List(ctx, model.ConflictFilter{Status: model.ConflictPending})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID, "newest first")

	list, err = repo.List(ctx, model.ConflictFilter{EntityType: "session", Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c3", list[0].ID)

	upd := TerminalUpdate{
		Status: model.ConflictResolved, Resolution: model.ResolutionAcceptServer,
		ResolvedBy: "sup", ResolvedAt: t0.Add(time.Hour), ResolvedData: map[string]any{"qty": 2.0},
	}
	ok, err := repo.MarkTerminal(ctx, "c1", upd)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkTerminal(ctx, "c1", upd)
	require.NoError(t, err)
	assert.False(t, ok, "only pending conflicts transition")

	c1, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.ConflictResolved, c1.Status)
	assert.Equal(t, "sup", c1.ResolvedBy)
	assert.Equal(t, 2.0, c1.ResolvedData["qty"])

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Resolved)
	assert.Equal(t, int64(1), stats.Ignored)
	assert.Equal(t, map[string]int64{"verification_record": 1, "session": 2}, stats.ByEntityType)

	n, err := repo.DeleteTerminalBefore(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "c2 is pending and c3 has no resolution time")

	_, err = repo.Get(ctx, "c1")
	assert.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestConflictPurgeUsesResolutionTime(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictRepository(newStore(t))
	cutoff := t0.Add(30 * 24 * time.Hour)

	require.NoError(t, repo.Create(ctx, newConflict("old-late", model.ConflictPending, "session", t0)))
	require.NoError(t, repo.Create(ctx, newConflict("old-early", model.ConflictPending, "session", t0)))
	require.NoError(t, repo.Create(ctx, newConflict("old-open", model.ConflictPending, "session", t0)))

	ok, err := repo.MarkTerminal(ctx, "old-late", TerminalUpdate{
		Status: model.ConflictResolved, Resolution: model.ResolutionAcceptLocal,
		ResolvedBy: "sup", ResolvedAt: cutoff.Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.MarkTerminal(ctx, "old-early", TerminalUpdate{
		Status: model.ConflictIgnored, ResolvedBy: "sup", ResolvedAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, ok)

	n, err := repo.DeleteTerminalBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Get(ctx, "old-early")
	assert.ErrorIs(t, err, syncerr.ErrNotFound)
	_, err = repo.Get(ctx, "old-late")
	assert.NoError(t, err, "recently resolved conflicts are kept however old")
	_, err = repo.Get(ctx, "old-open")
	assert.NoError(t, err)
}

func TestEntityWriterApply(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	records := NewRecordRepository(store)
	w := NewEntityWriter(store)

	_, err := records.Save(ctx, &model.VerificationRecord{ClientRecordID: "rec-9", SessionID: "S1", ItemCode: "X", VerifiedQty: 3})
	require.NoError(t, err)

	ok, err := w.Apply(ctx, "verification_record", "rec-9", map[string]any{"verified_qty": 8, "id": "hijack"}, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := records.Get(ctx, "rec-9")
	require.NoError(t, err)
	assert.Equal(t, 8.0, got.VerifiedQty)
	assert.Equal(t, "rec-9", got.ClientRecordID)
	assert.True(t, got.UpdatedAt.Equal(t0))

	ok, err = w.Apply(ctx, "verification_record", "nope", map[string]any{"verified_qty": 1}, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntityCollection(t *testing.T) {
	assert.Equal(t, CollRecords, EntityCollection("verification_record"))
	assert.Equal(t, CollCountLines, EntityCollection("count_line"))
	assert.Equal(t, "pallets", EntityCollection("pallet"))
}

func TestLegacyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewLegacyRepository(newStore(t))

	require.NoError(t, repo.SaveSession(ctx, &model.Session{ID: "sess-1", Warehouse: "WH1", Status: "active", CreatedAt: t0}))
	require.NoError(t, repo.SaveCountLine(ctx, &model.CountLine{ID: "l2", SessionID: "sess-1", ItemCode: "B", CountedAt: t0.Add(time.Minute)}))
	require.NoError(t, repo.SaveCountLine(ctx, &model.CountLine{ID: "l1", SessionID: "sess-1", ItemCode: "A", CountedAt: t0}))
	require.NoError(t, repo.SaveUnknownItem(ctx, &model.UnknownItem{ID: "u1", SessionID: "sess-1", Qty: 1, ReportedAt: t0}))

	s, err := repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "WH1", s.Warehouse)

	require.NoError(t, repo.SaveSession(ctx, &model.Session{ID: "sess-2", OfflineID: "TMP1", CreatedBy: "alice", CreatedAt: t0}))
	found, err := repo.SessionByOfflineID(ctx, "TMP1", "alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "sess-2", found.ID)
	found, err = repo.SessionByOfflineID(ctx, "TMP1", "bob")
	require.NoError(t, err)
	assert.Nil(t, found)

	lines, err := repo.CountLines(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "A", lines[0].ItemCode)

	unknown, err := repo.UnknownItems(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, unknown, 1)
}

func TestLegacyRowsByOfflineID(t *testing.T) {
	ctx := context.Background()
	repo := NewLegacyRepository(newStore(t))

	require.NoError(t, repo.SaveCountLine(ctx, &model.CountLine{ID: "l-a", OfflineID: "1", SessionID: "sess-a", CountedBy: "alice", CountedAt: t0}))
	require.NoError(t, repo.SaveCountLine(ctx, &model.CountLine{ID: "l-b", OfflineID: "1", SessionID: "sess-b", CountedBy: "bob", CountedAt: t0}))
	require.NoError(t, repo.SaveUnknownItem(ctx, &model.UnknownItem{ID: "u-a", OfflineID: "op3", SessionID: "sess-a", ReportedBy: "alice", ReportedAt: t0}))

	line, err := repo.CountLineByOfflineID(ctx, "1", "sess-a", "alice")
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, "l-a", line.ID)

	line, err = repo.CountLineByOfflineID(ctx, "1", "sess-a", "bob")
	require.NoError(t, err)
	assert.Nil(t, line)

	item, err := repo.UnknownItemByOfflineID(ctx, "op3", "sess-a", "alice")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "u-a", item.ID)

	item, err = repo.UnknownItemByOfflineID(ctx, "op3", "sess-b", "alice")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestItemsAndSyncRuns(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	items := NewItemRepository(store)
	runs := NewSyncRunRepository(store)

	require.NoError(t, items.BatchUpsert(ctx, []model.InventoryItem{
		{ItemCode: "A", Description: "Apple", OnHandQty: 3},
		{ItemCode: "B", Description: "Banana", OnHandQty: 5},
	}))
	require.NoError(t, items.BatchUpsert(ctx, []model.InventoryItem{{ItemCode: "A", Description: "Apricot", OnHandQty: 4}}))

	n, err := items.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	a, err := items.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Apricot", a.Description)

	latest, err := runs.LatestCompleted(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, runs.Save(ctx, &model.SyncRun{ID: "r1", Status: model.SyncRunCompleted, StartedAt: t0}))
	require.NoError(t, runs.Save(ctx, &model.SyncRun{ID: "r2", Status: model.SyncRunFailed, StartedAt: t0.Add(time.Hour)}))
	require.NoError(t, runs.Save(ctx, &model.SyncRun{ID: "r3", Status: model.SyncRunCompleted, StartedAt: t0.Add(30 * time.Minute)}))

	latest, err = runs.LatestCompleted(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r3", latest.ID)

	recent, err := runs.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r2", recent[0].ID)
}
