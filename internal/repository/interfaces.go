package repository

import (
	"context"
	"time"

	"stockcount-sync-api/internal/model"
)

// RecordRepository persists verification records.
type RecordRepository interface {
	// Get returns the record or an error matching syncerr.ErrNotFound.
	Get(ctx context.Context, clientRecordID string) (*model.VerificationRecord, error)

	// Save upserts by client_record_id. synced_by and synced_at are written
	// only when the record is first inserted. It reports whether it inserted.
	Save(ctx context.Context, rec *model.VerificationRecord) (bool, error)
}

// SerialRepository tracks which record owns each serial number.
type SerialRepository interface {
	// Owners maps each already-claimed serial to its client_record_id.
	Owners(ctx context.Context, serials []string) (map[string]string, error)

	// Claim inserts a serial. It returns false, without error, if the serial
	// already exists.
	Claim(ctx context.Context, sn model.SerialNumber) (bool, error)
}

// ConflictRepository persists sync conflicts.
type ConflictRepository interface {
	Create(ctx context.Context, c *model.SyncConflict) error
	Get(ctx context.Context, id string) (*model.SyncConflict, error)
	List(ctx context.Context, filter model.ConflictFilter) ([]model.SyncConflict, error)

	// MarkTerminal moves a pending conflict to status. It returns false when
	// the conflict is no longer pending.
	MarkTerminal(ctx context.Context, id string, update TerminalUpdate) (bool, error)

	// Reopen undoes a MarkTerminal whose follow-up work failed.
	Reopen(ctx context.Context, id string, update TerminalUpdate) error

	Stats(ctx context.Context) (model.ConflictStats, error)

	// DeleteTerminalBefore removes resolved and ignored conflicts resolved
	// before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EntityWriter applies resolved conflict data to canonical entities.
type EntityWriter interface {
	// Apply sets data on the entity and reports whether it exists.
	Apply(ctx context.Context, entityType, entityID string, data map[string]any, at time.Time) (bool, error)
}

// LegacyRepository persists the entities created by legacy operations.
type LegacyRepository interface {
	SaveSession(ctx context.Context, s *model.Session) error
	SaveCountLine(ctx context.Context, l *model.CountLine) error
	SaveUnknownItem(ctx context.Context, u *model.UnknownItem) error

	GetSession(ctx context.Context, id string) (*model.Session, error)
	// SessionByOfflineID finds a session created offline by user, or nil.
	SessionByOfflineID(ctx context.Context, offlineID, user string) (*model.Session, error)
	// CountLineByOfflineID and UnknownItemByOfflineID find rows user created
	// offline in sessionID, or nil.
	CountLineByOfflineID(ctx context.Context, offlineID, sessionID, user string) (*model.CountLine, error)
	UnknownItemByOfflineID(ctx context.Context, offlineID, sessionID, user string) (*model.UnknownItem, error)
	CountLines(ctx context.Context, sessionID string) ([]model.CountLine, error)
	UnknownItems(ctx context.Context, sessionID string) ([]model.UnknownItem, error)
}

// ItemRepository stores the item master pulled from the external source.
type ItemRepository interface {
	BatchUpsert(ctx context.Context, items []model.InventoryItem) error
	Get(ctx context.Context, itemCode string) (*model.InventoryItem, error)
	Count(ctx context.Context) (int64, error)
}

// SyncRunRepository records item sync runs.
type SyncRunRepository interface {
	Save(ctx context.Context, run *model.SyncRun) error
	LatestCompleted(ctx context.Context) (*model.SyncRun, error)
	Recent(ctx context.Context, limit int) ([]model.SyncRun, error)
}
