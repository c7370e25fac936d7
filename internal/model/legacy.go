package model

import "time"

// Legacy operation types accepted in free-form batches.
const (
	OperationSession     = "session"
	OperationCountLine   = "count_line"
	OperationUnknownItem = "unknown_item"
)

// Session is a stock-counting run by one user against one warehouse area.
type Session struct {
	ID        string    `json:"id" bson:"_id"`
	OfflineID string    `json:"offline_id,omitempty" bson:"offline_id,omitempty"`
	Warehouse string    `json:"warehouse" bson:"warehouse"`
	Area      string    `json:"area,omitempty" bson:"area,omitempty"`
	Name      string    `json:"name,omitempty" bson:"name,omitempty"`
	Status    string    `json:"status" bson:"status"`
	CreatedBy string    `json:"created_by" bson:"created_by"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// CountLine is a counted quantity of one item within a session.
type CountLine struct {
	ID         string    `json:"id" bson:"_id"`
	OfflineID  string    `json:"offline_id,omitempty" bson:"offline_id,omitempty"`
	SessionID  string    `json:"session_id" bson:"session_id"`
	ItemCode   string    `json:"item_code" bson:"item_code"`
	RackID     string    `json:"rack_id,omitempty" bson:"rack_id,omitempty"`
	CountedQty float64   `json:"counted_qty" bson:"counted_qty"`
	DamageQty  float64   `json:"damage_qty" bson:"damage_qty"`
	CountedBy  string    `json:"counted_by" bson:"counted_by"`
	CountedAt  time.Time `json:"counted_at" bson:"counted_at"`
}

// UnknownItem is a scanned barcode that did not match any known item.
type UnknownItem struct {
	ID          string    `json:"id" bson:"_id"`
	OfflineID   string    `json:"offline_id,omitempty" bson:"offline_id,omitempty"`
	SessionID   string    `json:"session_id" bson:"session_id"`
	Barcode     string    `json:"barcode,omitempty" bson:"barcode,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Qty         float64   `json:"qty" bson:"qty"`
	RackID      string    `json:"rack_id,omitempty" bson:"rack_id,omitempty"`
	ReportedBy  string    `json:"reported_by" bson:"reported_by"`
	ReportedAt  time.Time `json:"reported_at" bson:"reported_at"`
}

// Operation is one entry of a legacy batch. Data is decoded per Type.
type Operation struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
