// Package conflict detects divergence between a device's copy of an entity
// and the server's copy, and resolves it.
package conflict

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/metrics"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/repository"
	"stockcount-sync-api/internal/syncerr"
	"stockcount-sync-api/pkg/uid"
)

// Listing bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// AutoResolver is recorded as resolved_by for automatic resolutions.
const AutoResolver = "system:auto-resolve"

// Engine is safe for concurrent use; it keeps no state between calls.
type Engine struct {
	conflicts repository.ConflictRepository
	entities  repository.EntityWriter
	now       func() time.Time
	log       zerolog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a conflict engine.
func NewEngine(conflicts repository.ConflictRepository, entities repository.EntityWriter, opts ...Option) *Engine {
	e := &Engine{
		conflicts: conflicts,
		entities:  entities,
		now:       time.Now,
		log:       logging.Component("conflict"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetectInput describes one local/server comparison.
type DetectInput struct {
	EntityType string
	EntityID   string
	Local      map[string]any
	Server     map[string]any
	User       string
	SessionID  string
	// Timestamps default to the snapshots' updated_at values.
	LocalTimestamp  *time.Time
	ServerTimestamp *time.Time
}

// DiffFields lists keys present in both maps whose values differ, sorted by
// key. Values compare by their JSON encoding, so 5 and 5.0 are equal.
func DiffFields(local, server map[string]any) []model.FieldDiff {
	var diffs []model.FieldDiff
	for k, lv := range local {
		sv, ok := server[k]
		if !ok || valuesEqual(lv, sv) {
			continue
		}
		diffs = append(diffs, model.FieldDiff{Field: k, LocalValue: lv, ServerValue: sv})
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Field < diffs[j].Field })
	return diffs
}

func valuesEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// timestampOf reads updated_at from a snapshot.
func timestampOf(m map[string]any) *time.Time {
	switch v := m["updated_at"].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &t
		}
	case interface{ Time() time.Time }:
		t := v.Time()
		return &t
	}
	return nil
}

// DetectConflict persists a pending conflict when any overlapping field
// differs and returns its id. It returns "" when the snapshots agree.
func (e *Engine) DetectConflict(ctx context.Context, in DetectInput) (string, error) {
	diffs := DiffFields(in.Local, in.Server)
	if len(diffs) == 0 {
		return "", nil
	}

	c := &model.SyncConflict{
		ID:              uid.New(),
		EntityType:      in.EntityType,
		EntityID:        in.EntityID,
		SessionID:       in.SessionID,
		User:            in.User,
		Fields:          diffs,
		LocalData:       in.Local,
		ServerData:      in.Server,
		Status:          model.ConflictPending,
		LocalTimestamp:  in.LocalTimestamp,
		ServerTimestamp: in.ServerTimestamp,
		CreatedAt:       e.now(),
	}
	if c.LocalTimestamp == nil {
		c.LocalTimestamp = timestampOf(in.Local)
	}
	if c.ServerTimestamp == nil {
		c.ServerTimestamp = timestampOf(in.Server)
	}

	if err := e.conflicts.Create(ctx, c); err != nil {
		return "", err
	}

	metrics.ConflictsDetected.WithLabelValues(in.EntityType).Inc()
	e.log.Info().
		Str("conflict_id", c.ID).
		Str("entity_type", in.EntityType).
		Str("entity_id", in.EntityID).
		Int("fields", len(diffs)).
		Msg("conflict detected")
	return c.ID, nil
}

// GetConflicts lists conflicts newest first.
func (e *Engine) GetConflicts(ctx context.Context, filter model.ConflictFilter) ([]model.SyncConflict, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}
	return e.conflicts.List(ctx, filter)
}

// GetConflictByID returns one conflict.
func (e *Engine) GetConflictByID(ctx context.Context, id string) (*model.SyncConflict, error) {
	return e.conflicts.Get(ctx, id)
}

// ValidResolution reports whether r names a resolution.
func ValidResolution(r string) bool {
	switch r {
	case model.ResolutionAcceptServer, model.ResolutionAcceptLocal, model.ResolutionMerge, model.ResolutionIgnore:
		return true
	}
	return false
}

// ResolveConflict settles a pending conflict. Non-ignore resolutions write
// the chosen data onto the canonical entity. Only one of several concurrent
// resolvers succeeds; the rest get an invalid resolution error.
func (e *Engine) ResolveConflict(ctx context.Context, id, resolution, resolvedBy string, merged map[string]any) (*model.SyncConflict, error) {
	if !ValidResolution(resolution) {
		return nil, syncerr.InvalidResolution("unknown resolution %q", resolution)
	}

	c, err := e.conflicts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ConflictPending {
		return nil, syncerr.InvalidResolution("conflict %s is already %s", id, c.Status)
	}

	var data map[string]any
	status := model.ConflictResolved
	switch resolution {
	case model.ResolutionAcceptServer:
		data = c.ServerData
	case model.ResolutionAcceptLocal:
		data = c.LocalData
	case model.ResolutionMerge:
		if merged == nil {
			return nil, syncerr.InvalidResolution("merge resolution requires merged data")
		}
		data = merged
	case model.ResolutionIgnore:
		status = model.ConflictIgnored
	}

	at := e.now()
	update := repository.TerminalUpdate{
		Status:       status,
		Resolution:   resolution,
		ResolvedBy:   resolvedBy,
		ResolvedData: data,
		ResolvedAt:   at,
	}

	// Claim the conflict first so only the winning resolver touches the entity.
	ok, err := e.conflicts.MarkTerminal(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syncerr.InvalidResolution("conflict %s is no longer pending", id)
	}

	if resolution != model.ResolutionIgnore {
		exists, err := e.entities.Apply(ctx, c.EntityType, c.EntityID, data, at)
		if err != nil {
			if rerr := e.conflicts.Reopen(context.WithoutCancel(ctx), id, update); rerr != nil {
				e.log.Error().Err(rerr).Str("conflict_id", id).Msg("failed to reopen conflict after entity write failure")
			}
			return nil, err
		}
		if !exists {
			e.log.Warn().
				Str("conflict_id", id).
				Str("entity_type", c.EntityType).
				Str("entity_id", c.EntityID).
				Msg("canonical entity not found, resolution recorded without entity write")
		}
	}

	c.Status = status
	c.Resolution = resolution
	c.ResolvedBy = resolvedBy
	c.ResolvedData = data
	c.ResolvedAt = &at

	e.log.Info().
		Str("conflict_id", id).
		Str("resolution", resolution).
		Str("resolved_by", resolvedBy).
		Msg("conflict resolved")
	return c, nil
}

// BatchItem is the outcome for one id of a batch resolution.
type BatchItem struct {
	ConflictID string `json:"conflict_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// BatchResult summarises a batch resolution.
type BatchResult struct {
	Resolved int         `json:"resolved"`
	Failed   int         `json:"failed"`
	Results  []BatchItem `json:"results"`
}

// BatchResolve applies one resolution to many conflicts. Merge needs per
// conflict data and is rejected.
func (e *Engine) BatchResolve(ctx context.Context, ids []string, resolution, resolvedBy string) (*BatchResult, error) {
	if resolution == model.ResolutionMerge {
		return nil, syncerr.InvalidResolution("merge cannot be applied to a batch")
	}
	if !ValidResolution(resolution) {
		return nil, syncerr.InvalidResolution("unknown resolution %q", resolution)
	}

	res := &BatchResult{Results: make([]BatchItem, 0, len(ids))}
	for _, id := range ids {
		item := BatchItem{ConflictID: id}
		if _, err := e.ResolveConflict(ctx, id, resolution, resolvedBy, nil); err != nil {
			item.Error = err.Error()
			item.ErrorCode = string(syncerr.KindOf(err))
			res.Failed++
		} else {
			item.Success = true
			res.Resolved++
		}
		res.Results = append(res.Results, item)
	}
	return res, nil
}

// newestResolution picks accept_local only when the local copy is strictly
// newer. Missing timestamps favour the server.
func newestResolution(c *model.SyncConflict) string {
	if c.LocalTimestamp != nil && c.ServerTimestamp != nil && c.LocalTimestamp.After(*c.ServerTimestamp) {
		return model.ResolutionAcceptLocal
	}
	return model.ResolutionAcceptServer
}

// AutoResolveSimpleConflicts resolves every pending conflict by strategy and
// returns how many succeeded. Individual failures are logged and skipped.
func (e *Engine) AutoResolveSimpleConflicts(ctx context.Context, strategy string) (int, error) {
	var pick func(*model.SyncConflict) string
	switch strategy {
	case model.StrategyServerWins:
		pick = func(*model.SyncConflict) string { return model.ResolutionAcceptServer }
	case model.StrategyLocalWins:
		pick = func(*model.SyncConflict) string { return model.ResolutionAcceptLocal }
	case model.StrategyNewestWins:
		pick = newestResolution
	default:
		return 0, syncerr.InvalidResolution("unknown strategy %q", strategy)
	}

	pending, err := e.conflicts.List(ctx, model.ConflictFilter{Status: model.ConflictPending})
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range pending {
		c := &pending[i]
		if _, err := e.ResolveConflict(ctx, c.ID, pick(c), AutoResolver, nil); err != nil {
			e.log.Warn().Err(err).Str("conflict_id", c.ID).Str("strategy", strategy).Msg("auto-resolve skipped conflict")
			continue
		}
		resolved++
	}

	e.log.Info().Str("strategy", strategy).Int("resolved", resolved).Int("pending", len(pending)).Msg("auto-resolve finished")
	return resolved, nil
}

// GetConflictStats summarises conflicts by status and entity type.
func (e *Engine) GetConflictStats(ctx context.Context) (model.ConflictStats, error) {
	return e.conflicts.Stats(ctx)
}

// PurgeResolvedBefore deletes resolved and ignored conflicts resolved before cutoff.
func (e *Engine) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return e.conflicts.DeleteTerminalBefore(ctx, cutoff)
}
