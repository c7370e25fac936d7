package repository

import (
	"context"
	"strings"
	"time"

	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/syncerr"
)

// TerminalUpdate describes the pending to resolved/ignored transition.
type TerminalUpdate struct {
	Status       string
	Resolution   string
	ResolvedBy   string
	ResolvedData map[string]any
	ResolvedAt   time.Time
}

// DocConflictRepository implements ConflictRepository on a document store.
type DocConflictRepository struct {
	store docstore.Store
}

// NewConflictRepository creates a conflict repository.
func NewConflictRepository(store docstore.Store) *DocConflictRepository {
	return &DocConflictRepository{store: store}
}

// Create persists a new conflict.
func (r *DocConflictRepository) Create(ctx context.Context, c *model.SyncConflict) error {
	if err := r.store.Insert(ctx, CollConflicts, c.ID, c); err != nil {
		return syncerr.Transient(err, "failed to store conflict %s", c.ID)
	}
	return nil
}

// Get returns the conflict with id.
func (r *DocConflictRepository) Get(ctx context.Context, id string) (*model.SyncConflict, error) {
	var c model.SyncConflict
	if err := r.store.FindOne(ctx, CollConflicts, docstore.ByID(id), &c); err != nil {
		return nil, loadErr(err, "conflict "+id)
	}
	return &c, nil
}

// List returns conflicts matching filter, newest first. A zero limit means
// no limit.
func (r *DocConflictRepository) List(ctx context.Context, filter model.ConflictFilter) ([]model.SyncConflict, error) {
	var f docstore.Filter
	if filter.Status != "" {
		f = append(f, docstore.Eq("status", filter.Status))
	}
	if filter.SessionID != "" {
		f = append(f, docstore.Eq("session_id", filter.SessionID))
	}
	if filter.User != "" {
		f = append(f, docstore.Eq("user", filter.User))
	}
	if filter.EntityType != "" {
		f = append(f, docstore.Eq("entity_type", filter.EntityType))
	}

	conflicts := []model.SyncConflict{}
	opts := docstore.FindOptions{Sort: "created_at", Descending: true, Limit: filter.Limit}
	if err := r.store.Find(ctx, CollConflicts, f, opts, &conflicts); err != nil {
		return nil, syncerr.Transient(err, "failed to list conflicts")
	}
	return conflicts, nil
}

// MarkTerminal applies update only while the conflict is still pending.
func (r *DocConflictRepository) MarkTerminal(ctx context.Context, id string, update TerminalUpdate) (bool, error) {
	filter := docstore.Filter{
		docstore.Eq(docstore.IDField, id),
		docstore.Eq("status", model.ConflictPending),
	}
	set := map[string]any{
		"status":        update.Status,
		"resolution":    update.Resolution,
		"resolved_by":   update.ResolvedBy,
		"resolved_at":   update.ResolvedAt,
		"resolved_data": update.ResolvedData,
	}

	matched, err := r.store.Update(ctx, CollConflicts, filter, set)
	if err != nil {
		return false, syncerr.Transient(err, "failed to update conflict %s", id)
	}
	return matched > 0, nil
}

// Reopen returns a conflict moved by update back to pending.
func (r *DocConflictRepository) Reopen(ctx context.Context, id string, update TerminalUpdate) error {
	filter := docstore.Filter{
		docstore.Eq(docstore.IDField, id),
		docstore.Eq("status", update.Status),
		docstore.Eq("resolved_by", update.ResolvedBy),
	}
	set := map[string]any{
		"status":        model.ConflictPending,
		"resolution":    "",
		"resolved_by":   "",
		"resolved_at":   nil,
		"resolved_data": nil,
	}
	if _, err := r.store.Update(ctx, CollConflicts, filter, set); err != nil {
		return syncerr.Transient(err, "failed to reopen conflict %s", id)
	}
	return nil
}

// Stats counts conflicts by status and by entity type.
func (r *DocConflictRepository) Stats(ctx context.Context) (model.ConflictStats, error) {
	stats := model.ConflictStats{ByEntityType: map[string]int64{}}

	byStatus, err := r.store.CountBy(ctx, CollConflicts, nil, "status")
	if err != nil {
		return stats, syncerr.Transient(err, "failed to count conflicts by status")
	}
	byType, err := r.store.CountBy(ctx, CollConflicts, nil, "entity_type")
	if err != nil {
		return stats, syncerr.Transient(err, "failed to count conflicts by entity type")
	}

	for _, n := range byStatus {
		stats.Total += n
	}
	stats.Pending = byStatus[model.ConflictPending]
	stats.Resolved = byStatus[model.ConflictResolved]
	stats.Ignored = byStatus[model.ConflictIgnored]
	for k, n := range byType {
		stats.ByEntityType[k] = n
	}
	return stats, nil
}

// DeleteTerminalBefore purges resolved and ignored conflicts whose
// resolution is older than cutoff.
func (r *DocConflictRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := docstore.Filter{
		docstore.In("status", model.ConflictResolved, model.ConflictIgnored),
		docstore.Lt("resolved_at", cutoff),
	}
	n, err := r.store.Delete(ctx, CollConflicts, filter)
	if err != nil {
		return 0, syncerr.Transient(err, "failed to purge conflicts")
	}
	return n, nil
}

// DocEntityWriter implements EntityWriter on a document store.
type DocEntityWriter struct {
	store docstore.Store
}

// NewEntityWriter creates an entity writer.
func NewEntityWriter(store docstore.Store) *DocEntityWriter {
	return &DocEntityWriter{store: store}
}

// Apply writes data onto the canonical entity, stamping updated_at and the
// conflict_resolved marker.
func (w *DocEntityWriter) Apply(ctx context.Context, entityType, entityID string, data map[string]any, at time.Time) (bool, error) {
	set := make(map[string]any, len(data)+2)
	for k, v := range data {
		// Ids are immutable and operator-like keys are not field names.
		if k == "id" || k == docstore.IDField || strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			continue
		}
		set[k] = v
	}
	set["updated_at"] = at
	set["conflict_resolved"] = true

	coll := EntityCollection(entityType)
	matched, err := w.store.Update(ctx, coll, docstore.ByID(entityID), set)
	if err != nil {
		return false, syncerr.Transient(err, "failed to apply resolution to %s/%s", coll, entityID)
	}
	return matched > 0, nil
}

var (
	_ ConflictRepository = (*DocConflictRepository)(nil)
	_ EntityWriter       = (*DocEntityWriter)(nil)
)
