package model

import "time"

// Verification record lifecycle states.
const (
	RecordStatusPartial   = "partial"
	RecordStatusFinalized = "finalized"

	SyncStatusSynced = "synced"
)

// VerificationRecord is one counted-item observation captured on a device.
// ClientRecordID is chosen by the client and doubles as the document id.
type VerificationRecord struct {
	ClientRecordID string     `json:"id" bson:"_id"`
	SessionID      string     `json:"session_id" bson:"session_id"`
	RackID         string     `json:"rack_id,omitempty" bson:"rack_id,omitempty"`
	Floor          string     `json:"floor,omitempty" bson:"floor,omitempty"`
	ItemCode       string     `json:"item_code" bson:"item_code"`
	VerifiedQty    float64    `json:"verified_qty" bson:"verified_qty"`
	DamageQty      float64    `json:"damage_qty" bson:"damage_qty"`
	SerialNumbers  []string   `json:"serial_numbers" bson:"serial_numbers"`
	Status         string     `json:"status" bson:"status"`
	CreatedAt      time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" bson:"updated_at"`
	SyncStatus     string     `json:"sync_status" bson:"sync_status"`
	SyncedBy       string     `json:"synced_by" bson:"synced_by"`
	SyncedAt       *time.Time `json:"synced_at,omitempty" bson:"synced_at,omitempty"`
}

// RecordInput is a verification record as submitted by a client in a batch.
type RecordInput struct {
	ClientRecordID string    `json:"client_record_id"`
	SessionID      string    `json:"session_id"`
	RackID         string    `json:"rack_id,omitempty"`
	Floor          string    `json:"floor,omitempty"`
	ItemCode       string    `json:"item_code"`
	VerifiedQty    float64   `json:"verified_qty"`
	DamageQty      float64   `json:"damage_qty"`
	SerialNumbers  []string  `json:"serial_numbers,omitempty"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SerialNumber records which verification record first claimed a serial.
type SerialNumber struct {
	Serial         string    `json:"id" bson:"_id"`
	ClientRecordID string    `json:"client_record_id" bson:"client_record_id"`
	SessionID      string    `json:"session_id" bson:"session_id"`
	ItemCode       string    `json:"item_code" bson:"item_code"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}
