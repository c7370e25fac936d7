package repository

import (
	"context"
	"errors"

	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/syncerr"
)

// DocRecordRepository implements RecordRepository on a document store.
type DocRecordRepository struct {
	store docstore.Store
}

// NewRecordRepository creates a record repository.
func NewRecordRepository(store docstore.Store) *DocRecordRepository {
	return &DocRecordRepository{store: store}
}

// Get returns the record with clientRecordID.
func (r *DocRecordRepository) Get(ctx context.Context, clientRecordID string) (*model.VerificationRecord, error) {
	var rec model.VerificationRecord
	if err := r.store.FindOne(ctx, CollRecords, docstore.ByID(clientRecordID), &rec); err != nil {
		return nil, loadErr(err, "verification record "+clientRecordID)
	}
	return &rec, nil
}

// Save upserts rec, preserving the first sync's audit fields.
func (r *DocRecordRepository) Save(ctx context.Context, rec *model.VerificationRecord) (bool, error) {
	inserted, err := r.store.Upsert(ctx, CollRecords, rec.ClientRecordID, rec, "synced_by", "synced_at")
	if err != nil {
		return false, syncerr.Transient(err, "failed to save verification record %s", rec.ClientRecordID)
	}
	return inserted, nil
}

// DocSerialRepository implements SerialRepository on a document store.
type DocSerialRepository struct {
	store docstore.Store
}

// NewSerialRepository creates a serial number repository.
func NewSerialRepository(store docstore.Store) *DocSerialRepository {
	return &DocSerialRepository{store: store}
}

// Owners looks up existing claims for serials.
func (r *DocSerialRepository) Owners(ctx context.Context, serials []string) (map[string]string, error) {
	owners := make(map[string]string)
	if len(serials) == 0 {
		return owners, nil
	}

	ids := make([]any, len(serials))
	for i, s := range serials {
		ids[i] = s
	}

	var found []model.SerialNumber
	if err := r.store.Find(ctx, CollSerials, docstore.Filter{docstore.In(docstore.IDField, ids...)}, docstore.FindOptions{}, &found); err != nil {
		return nil, syncerr.Transient(err, "failed to look up serial numbers")
	}
	for _, sn := range found {
		owners[sn.Serial] = sn.ClientRecordID
	}
	return owners, nil
}

// Claim inserts sn unless the serial already exists.
func (r *DocSerialRepository) Claim(ctx context.Context, sn model.SerialNumber) (bool, error) {
	err := r.store.Insert(ctx, CollSerials, sn.Serial, sn)
	if errors.Is(err, docstore.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, syncerr.Transient(err, "failed to claim serial %s", sn.Serial)
	}
	return true, nil
}

var (
	_ RecordRepository = (*DocRecordRepository)(nil)
	_ SerialRepository = (*DocSerialRepository)(nil)
)
