package repository

import (
	"context"
	"errors"

	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/syncerr"
)

// DocItemRepository implements ItemRepository on a document store.
type DocItemRepository struct {
	store docstore.Store
}

// NewItemRepository creates an item repository.
func NewItemRepository(store docstore.Store) *DocItemRepository {
	return &DocItemRepository{store: store}
}

// BatchUpsert writes items in one bulk operation.
func (r *DocItemRepository) BatchUpsert(ctx context.Context, items []model.InventoryItem) error {
	if len(items) == 0 {
		return nil
	}
	docs := make([]docstore.Doc, len(items))
	for i := range items {
		docs[i] = docstore.Doc{ID: items[i].ItemCode, Value: items[i]}
	}
	if err := r.store.UpsertMany(ctx, CollItems, docs); err != nil {
		return syncerr.Transient(err, "failed to upsert %d items", len(items))
	}
	return nil
}

// Get returns one item.
func (r *DocItemRepository) Get(ctx context.Context, itemCode string) (*model.InventoryItem, error) {
	var item model.InventoryItem
	if err := r.store.FindOne(ctx, CollItems, docstore.ByID(itemCode), &item); err != nil {
		return nil, loadErr(err, "item "+itemCode)
	}
	return &item, nil
}

// Count returns the number of items.
func (r *DocItemRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.store.Count(ctx, CollItems, nil)
	if err != nil {
		return 0, syncerr.Transient(err, "failed to count items")
	}
	return n, nil
}

// DocSyncRunRepository implements SyncRunRepository on a document store.
type DocSyncRunRepository struct {
	store docstore.Store
}

// NewSyncRunRepository creates a sync run repository.
func NewSyncRunRepository(store docstore.Store) *DocSyncRunRepository {
	return &DocSyncRunRepository{store: store}
}

// Save upserts run.
func (r *DocSyncRunRepository) Save(ctx context.Context, run *model.SyncRun) error {
	if _, err := r.store.Upsert(ctx, CollSyncRuns, run.ID, run); err != nil {
		return syncerr.Transient(err, "failed to save sync run %s", run.ID)
	}
	return nil
}

// LatestCompleted returns the most recently started completed run, or nil.
func (r *DocSyncRunRepository) LatestCompleted(ctx context.Context) (*model.SyncRun, error) {
	var runs []model.SyncRun
	err := r.store.Find(ctx, CollSyncRuns, docstore.Filter{docstore.Eq("status", model.SyncRunCompleted)},
		docstore.FindOptions{Sort: "started_at", Descending: true, Limit: 1}, &runs)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, syncerr.Transient(err, "failed to load latest sync run")
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Recent returns the newest runs.
func (r *DocSyncRunRepository) Recent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	runs := []model.SyncRun{}
	err := r.store.Find(ctx, CollSyncRuns, nil, docstore.FindOptions{Sort: "started_at", Descending: true, Limit: limit}, &runs)
	if err != nil {
		return nil, syncerr.Transient(err, "failed to list sync runs")
	}
	return runs, nil
}

var (
	_ ItemRepository    = (*DocItemRepository)(nil)
	_ SyncRunRepository = (*DocSyncRunRepository)(nil)
)
