package repository

import (
	"context"

	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/syncerr"
)

// DocLegacyRepository implements LegacyRepository on a document store.
type DocLegacyRepository struct {
	store docstore.Store
}

// NewLegacyRepository creates a legacy entity repository.
func NewLegacyRepository(store docstore.Store) *DocLegacyRepository {
	return &DocLegacyRepository{store: store}
}

func (r *DocLegacyRepository) save(ctx context.Context, coll, id string, doc any) error {
	if _, err := r.store.Upsert(ctx, coll, id, doc); err != nil {
		return syncerr.Transient(err, "failed to save %s/%s", coll, id)
	}
	return nil
}

// SaveSession upserts a session.
func (r *DocLegacyRepository) SaveSession(ctx context.Context, s *model.Session) error {
	return r.save(ctx, CollSessions, s.ID, s)
}

// SaveCountLine upserts a count line.
func (r *DocLegacyRepository) SaveCountLine(ctx context.Context, l *model.CountLine) error {
	return r.save(ctx, CollCountLines, l.ID, l)
}

// SaveUnknownItem upserts an unknown item report.
func (r *DocLegacyRepository) SaveUnknownItem(ctx context.Context, u *model.UnknownItem) error {
	return r.save(ctx, CollUnknownItems, u.ID, u)
}

// GetSession returns the session with id.
func (r *DocLegacyRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	if err := r.store.FindOne(ctx, CollSessions, docstore.ByID(id), &s); err != nil {
		return nil, loadErr(err, "session "+id)
	}
	return &s, nil
}

// SessionByOfflineID returns the session user created under offlineID.
func (r *DocLegacyRepository) SessionByOfflineID(ctx context.Context, offlineID, user string) (*model.Session, error) {
	var found []model.Session
	filter := docstore.Filter{docstore.Eq("offline_id", offlineID), docstore.Eq("created_by", user)}
	if err := r.store.Find(ctx, CollSessions, filter, docstore.FindOptions{Limit: 1}, &found); err != nil {
		return nil, syncerr.Transient(err, "failed to look up offline session %s", offlineID)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// CountLineByOfflineID returns the line user counted under offlineID in
// sessionID, or nil.
func (r *DocLegacyRepository) CountLineByOfflineID(ctx context.Context, offlineID, sessionID, user string) (*model.CountLine, error) {
	var found []model.CountLine
	filter := docstore.Filter{
		docstore.Eq("offline_id", offlineID),
		docstore.Eq("session_id", sessionID),
		docstore.Eq("counted_by", user),
	}
	if err := r.store.Find(ctx, CollCountLines, filter, docstore.FindOptions{Limit: 1}, &found); err != nil {
		return nil, syncerr.Transient(err, "failed to look up offline count line %s", offlineID)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// UnknownItemByOfflineID returns the report user filed under offlineID in
// sessionID, or nil.
func (r *DocLegacyRepository) UnknownItemByOfflineID(ctx context.Context, offlineID, sessionID, user string) (*model.UnknownItem, error) {
	var found []model.UnknownItem
	filter := docstore.Filter{
		docstore.Eq("offline_id", offlineID),
		docstore.Eq("session_id", sessionID),
		docstore.Eq("reported_by", user),
	}
	if err := r.store.Find(ctx, CollUnknownItems, filter, docstore.FindOptions{Limit: 1}, &found); err != nil {
		return nil, syncerr.Transient(err, "failed to look up offline unknown item %s", offlineID)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// CountLines lists a session's count lines in counting order.
func (r *DocLegacyRepository) CountLines(ctx context.Context, sessionID string) ([]model.CountLine, error) {
	lines := []model.CountLine{}
	err := r.store.Find(ctx, CollCountLines, docstore.Filter{docstore.Eq("session_id", sessionID)},
		docstore.FindOptions{Sort: "counted_at"}, &lines)
	if err != nil {
		return nil, syncerr.Transient(err, "failed to list count lines for session %s", sessionID)
	}
	return lines, nil
}

// UnknownItems lists a session's unknown item reports.
func (r *DocLegacyRepository) UnknownItems(ctx context.Context, sessionID string) ([]model.UnknownItem, error) {
	items := []model.UnknownItem{}
	err := r.store.Find(ctx, CollUnknownItems, docstore.Filter{docstore.Eq("session_id", sessionID)},
		docstore.FindOptions{Sort: "reported_at"}, &items)
	if err != nil {
		return nil, syncerr.Transient(err, "failed to list unknown items for session %s", sessionID)
	}
	return items, nil
}

var _ LegacyRepository = (*DocLegacyRepository)(nil)
