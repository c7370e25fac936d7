// Package repository maps the domain entities onto document store
// collections.
package repository

import (
	"errors"

	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/syncerr"
)

// Collection names.
const (
	CollRecords      = "verification_records"
	CollSerials      = "serial_numbers"
	CollConflicts    = "sync_conflicts"
	CollSessions     = "sessions"
	CollCountLines   = "count_lines"
	CollUnknownItems = "unknown_items"
	CollItems        = "items"
	CollSyncRuns     = "sync_runs"
)

var entityCollections = map[string]string{
	"verification_record": CollRecords,
	"serial_number":       CollSerials,
	"session":             CollSessions,
	"count_line":          CollCountLines,
	"unknown_item":        CollUnknownItems,
	"item":                CollItems,
}

// EntityCollection returns the collection holding entities of entityType.
// Unregistered types fall back to the plural "<type>s".
func EntityCollection(entityType string) string {
	if c, ok := entityCollections[entityType]; ok {
		return c
	}
	return entityType + "s"
}

// loadErr classifies an error from loading what ("conflict c-1").
func loadErr(err error, what string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return syncerr.NotFound("%s not found", what)
	}
	return syncerr.Transient(err, "failed to load %s", what)
}
