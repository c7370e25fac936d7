package model

import "time"

// Conflict lifecycle states.
const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
	ConflictIgnored  = "ignored"
)

// Resolution choices for a pending conflict.
const (
	ResolutionAcceptServer = "accept_server"
	ResolutionAcceptLocal  = "accept_local"
	ResolutionMerge        = "merge"
	ResolutionIgnore       = "ignore"
)

// Auto-resolve strategies.
const (
	StrategyServerWins = "server_wins"
	StrategyLocalWins  = "local_wins"
	StrategyNewestWins = "newest_wins"
)

// FieldDiff is one field whose local and server values differ.
type FieldDiff struct {
	Field       string `json:"field" bson:"field"`
	LocalValue  any    `json:"local_value" bson:"local_value"`
	ServerValue any    `json:"server_value" bson:"server_value"`
}

// SyncConflict records divergence between a device's copy of an entity and
// the server's. It is terminal once resolved or ignored.
type SyncConflict struct {
	ID              string         `json:"id" bson:"_id"`
	EntityType      string         `json:"entity_type" bson:"entity_type"`
	EntityID        string         `json:"entity_id" bson:"entity_id"`
	SessionID       string         `json:"session_id,omitempty" bson:"session_id,omitempty"`
	User            string         `json:"user" bson:"user"`
	Fields          []FieldDiff    `json:"fields" bson:"fields"`
	LocalData       map[string]any `json:"local_data" bson:"local_data"`
	ServerData      map[string]any `json:"server_data" bson:"server_data"`
	Status          string         `json:"status" bson:"status"`
	Resolution      string         `json:"resolution,omitempty" bson:"resolution,omitempty"`
	ResolvedData    map[string]any `json:"resolved_data,omitempty" bson:"resolved_data,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty" bson:"resolved_by,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
	LocalTimestamp  *time.Time     `json:"local_timestamp,omitempty" bson:"local_timestamp,omitempty"`
	ServerTimestamp *time.Time     `json:"server_timestamp,omitempty" bson:"server_timestamp,omitempty"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
}

// ConflictFilter narrows a conflict listing. Empty fields do not filter.
type ConflictFilter struct {
	Status     string
	SessionID  string
	User       string
	EntityType string
	Limit      int
}

// ConflictStats summarises conflicts by status and entity type.
type ConflictStats struct {
	Total        int64            `json:"total"`
	Pending      int64            `json:"pending"`
	Resolved     int64            `json:"resolved"`
	Ignored      int64            `json:"ignored"`
	ByEntityType map[string]int64 `json:"by_entity_type"`
}
