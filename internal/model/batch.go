package model

// BatchRequest is a client batch: typed Records, or legacy Operations.
type BatchRequest struct {
	BatchID    string        `json:"batch_id,omitempty"`
	Records    []RecordInput `json:"records,omitempty"`
	Operations []Operation   `json:"operations,omitempty"`
}

// ConflictEntry describes a record rejected by a business rule.
type ConflictEntry struct {
	ClientRecordID string         `json:"client_record_id"`
	ConflictType   string         `json:"conflict_type"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
}

// ErrorEntry describes a record that failed unexpectedly.
type ErrorEntry struct {
	ClientRecordID string `json:"client_record_id"`
	ErrorType      string `json:"error_type"`
	Message        string `json:"message"`
}

// ResultEntry is the flattened per-item outcome for older consumers.
type ResultEntry struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BatchResponse is the mixed-outcome result of a batch.
type BatchResponse struct {
	BatchID          string            `json:"batch_id"`
	OK               []string          `json:"ok"`
	Conflicts        []ConflictEntry   `json:"conflicts"`
	Errors           []ErrorEntry      `json:"errors"`
	Results          []ResultEntry     `json:"results"`
	IDMappings       map[string]string `json:"id_mappings,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	TotalRecords     int               `json:"total_records"`
	ProcessedCount   int               `json:"processed_count"`
	SuccessCount     int               `json:"success_count"`
	FailedCount      int               `json:"failed_count"`
}

// NewBatchResponse returns a response with non-nil slices so they encode as [].
func NewBatchResponse(batchID string, total int) *BatchResponse {
	return &BatchResponse{
		BatchID:      batchID,
		OK:           []string{},
		Conflicts:    []ConflictEntry{},
		Errors:       []ErrorEntry{},
		Results:      []ResultEntry{},
		TotalRecords: total,
	}
}

// Caller is the identity supplied by the upstream auth layer.
type Caller struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}
