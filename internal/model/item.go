package model

import "time"

// InventoryItem is an item master row pulled from the external source.
type InventoryItem struct {
	ItemCode        string    `json:"id" bson:"_id"`
	Description     string    `json:"description" bson:"description"`
	UOM             string    `json:"uom" bson:"uom"`
	OnHandQty       float64   `json:"on_hand_qty" bson:"on_hand_qty"`
	SourceUpdatedAt time.Time `json:"source_updated_at" bson:"source_updated_at"`
	SyncedAt        time.Time `json:"synced_at" bson:"synced_at"`
}

// Sync run states and triggers.
const (
	SyncRunRunning   = "running"
	SyncRunCompleted = "completed"
	SyncRunFailed    = "failed"

	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

// SyncRun records one pull from the external source.
type SyncRun struct {
	ID         string     `json:"id" bson:"_id"`
	Trigger    string     `json:"trigger" bson:"trigger"`
	Status     string     `json:"status" bson:"status"`
	StartedAt  time.Time  `json:"started_at" bson:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
	Watermark  *time.Time `json:"watermark,omitempty" bson:"watermark,omitempty"`
	Fetched    int        `json:"fetched" bson:"fetched"`
	Upserted   int        `json:"upserted" bson:"upserted"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
}

// AutoSyncStats are cumulative counters kept for the life of the process.
type AutoSyncStats struct {
	ConnectionChecks    int64      `json:"connection_checks"`
	ConnectionRestored  int64      `json:"connection_restored"`
	ConnectionLost      int64      `json:"connection_lost"`
	SyncsTriggered      int64      `json:"syncs_triggered"`
	SyncsCompleted      int64      `json:"syncs_completed"`
	SyncsFailed         int64      `json:"syncs_failed"`
	LastRestoredAt      *time.Time `json:"last_restored_at,omitempty"`
	LastLostAt          *time.Time `json:"last_lost_at,omitempty"`
	LastSyncCompletedAt *time.Time `json:"last_sync_completed_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}
