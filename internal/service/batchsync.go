package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/breaker"
	"stockcount-sync-api/internal/conflict"
	"stockcount-sync-api/internal/lock"
	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/metrics"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/repository"
	"stockcount-sync-api/internal/syncerr"
	"stockcount-sync-api/pkg/uid"
)

// BatchConfig tunes the batch processor.
type BatchConfig struct {
	MaxBatchSize            int
	RegisterSerialConflicts bool
}

// Pinger checks that a store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BatchDeps are the collaborators of a BatchProcessor.
type BatchDeps struct {
	Records   repository.RecordRepository
	Serials   repository.SerialRepository
	Legacy    repository.LegacyRepository
	Locks     *lock.Manager
	Conflicts *conflict.Engine
	Limiter   *RateLimiter
	Breaker   *breaker.CircuitBreaker
	Store     Pinger
}

// BatchProcessor validates and applies batches of offline records.
type BatchProcessor struct {
	BatchDeps
	cfg BatchConfig
	now func() time.Time
	log zerolog.Logger
}

// NewBatchProcessor creates a batch processor.
func NewBatchProcessor(deps BatchDeps, cfg BatchConfig) *BatchProcessor {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	return &BatchProcessor{
		BatchDeps: deps,
		cfg:       cfg,
		now:       time.Now,
		log:       logging.Component("batch"),
	}
}

// SetClock replaces the time source.
func (p *BatchProcessor) SetClock(now func() time.Time) { p.now = now }

// Process applies a batch. Per-item failures are reported in the response;
// an error is returned only when the whole request is refused.
func (p *BatchProcessor) Process(ctx context.Context, caller model.Caller, req *model.BatchRequest) (*model.BatchResponse, error) {
	if len(req.Records) > 0 && len(req.Operations) > 0 {
		return nil, syncerr.New(syncerr.KindValidation, "batch must carry records or operations, not both")
	}
	// Offline ids are only unique per user.
	if len(req.Operations) > 0 && caller.UserID == "" {
		return nil, syncerr.New(syncerr.KindValidation, "legacy operations require a caller id")
	}
	total := len(req.Records) + len(req.Operations)
	if total > p.cfg.MaxBatchSize {
		return nil, syncerr.New(syncerr.KindValidation, "batch of %d items exceeds the maximum of %d", total, p.cfg.MaxBatchSize)
	}

	key := caller.UserID
	if key == "" {
		key = "anonymous"
	}
	if d := p.Limiter.Allow(ctx, key); !d.Allowed {
		metrics.AdmissionDenied.WithLabelValues("rate_limited").Inc()
		return nil, syncerr.RateLimited(d.Limit, d.Remaining, d.RetryAfter)
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uid.New()
	}
	start := p.now()

	var (
		resp *model.BatchResponse
		err  error
		path string
	)
	if len(req.Operations) > 0 {
		path = "operations"
		resp = p.processOperations(ctx, caller, batchID, req.Operations)
	} else {
		path = "records"
		resp, err = p.processRecords(ctx, caller, batchID, req.Records)
		if err != nil {
			return nil, err
		}
	}

	resp.ProcessingTimeMs = p.now().Sub(start).Milliseconds()
	resp.ProcessedCount = len(resp.Results)
	resp.SuccessCount = len(resp.OK)
	resp.FailedCount = resp.ProcessedCount - resp.SuccessCount

	p.log.Info().
		Str("batch_id", batchID).
		Str("path", path).
		Str("user", caller.UserID).
		Int("total", resp.TotalRecords).
		Int("ok", resp.SuccessCount).
		Int("conflicts", len(resp.Conflicts)).
		Int("errors", len(resp.Errors)).
		Int64("ms", resp.ProcessingTimeMs).
		Msg("batch processed")
	return resp, nil
}

// processRecords runs the typed path under one breaker admission. The
// breaker sees the batch outcome, never individual records.
func (p *BatchProcessor) processRecords(ctx context.Context, caller model.Caller, batchID string, records []model.RecordInput) (resp *model.BatchResponse, err error) {
	if !p.Breaker.Acquire() {
		metrics.AdmissionDenied.WithLabelValues("circuit_open").Inc()
		return nil, syncerr.CircuitOpen(p.Breaker.Name(), p.Breaker.RetryAfter())
	}

	recorded := false
	defer func() {
		if r := recover(); r != nil {
			if !recorded {
				p.Breaker.RecordFailure()
			}
			panic(r)
		}
	}()

	if err := p.Store.Ping(ctx); err != nil {
		recorded = true
		p.Breaker.RecordFailure()
		return nil, syncerr.Transient(err, "document store unavailable")
	}

	resp = model.NewBatchResponse(batchID, len(records))
	for i := range records {
		p.applyRecord(ctx, caller, &records[i], resp)
	}

	recorded = true
	p.Breaker.RecordSuccess()
	return resp, nil
}

func (p *BatchProcessor) applyRecord(ctx context.Context, caller model.Caller, in *model.RecordInput, resp *model.BatchResponse) {
	c, err := p.checkRecord(ctx, caller, in)
	switch {
	case err != nil:
		p.recordError(resp, in.ClientRecordID, err)
		return
	case c != nil:
		resp.Conflicts = append(resp.Conflicts, *c)
		resp.Results = append(resp.Results, model.ResultEntry{ID: in.ClientRecordID, Success: false, Message: c.Message})
		metrics.BatchRecords.WithLabelValues("records", "conflict").Inc()
		return
	}

	if err := p.saveRecord(ctx, caller, in); err != nil {
		p.recordError(resp, in.ClientRecordID, err)
		return
	}

	resp.OK = append(resp.OK, in.ClientRecordID)
	resp.Results = append(resp.Results, model.ResultEntry{ID: in.ClientRecordID, Success: true, Message: "synced"})
	metrics.BatchRecords.WithLabelValues("records", "ok").Inc()
}

func (p *BatchProcessor) recordError(resp *model.BatchResponse, id string, err error) {
	kind := string(syncerr.KindOf(err))
	if kind == "" {
		kind = "internal_error"
	}
	resp.Errors = append(resp.Errors, model.ErrorEntry{ClientRecordID: id, ErrorType: kind, Message: err.Error()})
	resp.Results = append(resp.Results, model.ResultEntry{ID: id, Success: false, Message: err.Error()})
	metrics.BatchRecords.WithLabelValues("records", "error").Inc()
	p.log.Error().Err(err).Str("client_record_id", id).Msg("record failed")
}

func newConflict(id string, kind syncerr.Kind, details map[string]any, format string, args ...any) *model.ConflictEntry {
	return &model.ConflictEntry{
		ClientRecordID: id,
		ConflictType:   string(kind),
		Message:        fmt.Sprintf(format, args...),
		Details:        details,
	}
}

// checkRecord runs the business rules in order: required fields, serial
// ownership, quantities, rack ownership. The first violation wins.
func (p *BatchProcessor) checkRecord(ctx context.Context, caller model.Caller, in *model.RecordInput) (*model.ConflictEntry, error) {
	id := in.ClientRecordID
	switch {
	case id == "":
		return newConflict(id, syncerr.KindValidation, nil, "client_record_id is required"), nil
	case in.SessionID == "":
		return newConflict(id, syncerr.KindValidation, nil, "session_id is required"), nil
	case in.ItemCode == "":
		return newConflict(id, syncerr.KindValidation, nil, "item_code is required"), nil
	case in.VerifiedQty < 0 || in.DamageQty < 0:
		return newConflict(id, syncerr.KindValidation,
			map[string]any{"verified_qty": in.VerifiedQty, "damage_qty": in.DamageQty},
			"quantities must not be negative"), nil
	case in.Status != "" && in.Status != model.RecordStatusPartial && in.Status != model.RecordStatusFinalized:
		return newConflict(id, syncerr.KindValidation, map[string]any{"status": in.Status}, "unknown status %q", in.Status), nil
	}

	if c, err := p.checkSerials(ctx, caller, in); c != nil || err != nil {
		return c, err
	}

	if in.DamageQty > in.VerifiedQty {
		return newConflict(id, syncerr.KindValidation,
			map[string]any{"verified_qty": in.VerifiedQty, "damage_qty": in.DamageQty},
			"damage_qty %v exceeds verified_qty %v", in.DamageQty, in.VerifiedQty), nil
	}

	if in.RackID != "" {
		owner, err := p.Locks.RackLockOwner(ctx, in.RackID)
		if err != nil {
			return nil, err
		}
		if owner != "" && owner != in.SessionID {
			return newConflict(id, syncerr.KindLockConflict,
				map[string]any{"rack_id": in.RackID, "lock_owner": owner, "session_id": in.SessionID},
				"rack %s is locked by another session", in.RackID), nil
		}
	}
	return nil, nil
}

func uniqueSerials(serials []string) []string {
	seen := make(map[string]struct{}, len(serials))
	out := make([]string, 0, len(serials))
	for _, s := range serials {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (p *BatchProcessor) checkSerials(ctx context.Context, caller model.Caller, in *model.RecordInput) (*model.ConflictEntry, error) {
	serials := uniqueSerials(in.SerialNumbers)
	if len(serials) == 0 {
		return nil, nil
	}

	owners, err := p.Serials.Owners(ctx, serials)
	if err != nil {
		return nil, err
	}

	var taken []string
	claimedBy := map[string]string{}
	for _, s := range serials {
		if owner, ok := owners[s]; ok && owner != in.ClientRecordID {
			taken = append(taken, s)
			claimedBy[s] = owner
		}
	}
	if len(taken) == 0 {
		return nil, nil
	}

	details := map[string]any{"serial_numbers": taken, "claimed_by": claimedBy}
	if p.cfg.RegisterSerialConflicts && p.Conflicts != nil {
		var ids []string
		for _, s := range taken {
			cid, err := p.Conflicts.DetectConflict(ctx, conflict.DetectInput{
				EntityType: "serial_number",
				EntityID:   s,
				Local:      map[string]any{"client_record_id": in.ClientRecordID, "session_id": in.SessionID},
				Server:     map[string]any{"client_record_id": claimedBy[s]},
				User:       caller.UserID,
				SessionID:  in.SessionID,
			})
			if err != nil {
				p.log.Warn().Err(err).Str("serial", s).Msg("failed to register serial conflict")
				continue
			}
			if cid != "" {
				ids = append(ids, cid)
			}
		}
		if len(ids) > 0 {
			details["conflict_ids"] = ids
		}
	}

	return newConflict(in.ClientRecordID, syncerr.KindDuplicateResource, details,
		"%d serial number(s) already belong to another record", len(taken)), nil
}

func (p *BatchProcessor) saveRecord(ctx context.Context, caller model.Caller, in *model.RecordInput) error {
	now := p.now()
	status := in.Status
	if status == "" {
		status = model.RecordStatusPartial
	}
	serials := uniqueSerials(in.SerialNumbers)

	rec := &model.VerificationRecord{
		ClientRecordID: in.ClientRecordID,
		SessionID:      in.SessionID,
		RackID:         in.RackID,
		Floor:          in.Floor,
		ItemCode:       in.ItemCode,
		VerifiedQty:    in.VerifiedQty,
		DamageQty:      in.DamageQty,
		SerialNumbers:  serials,
		Status:         status,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.UpdatedAt,
		SyncStatus:     model.SyncStatusSynced,
		SyncedBy:       caller.UserID,
		SyncedAt:       &now,
	}
	if _, err := p.Records.Save(ctx, rec); err != nil {
		return err
	}

	for _, s := range serials {
		claimed, err := p.Serials.Claim(ctx, model.SerialNumber{
			Serial:         s,
			ClientRecordID: in.ClientRecordID,
			SessionID:      in.SessionID,
			ItemCode:       in.ItemCode,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		if !claimed {
			p.log.Debug().Str("serial", s).Str("client_record_id", in.ClientRecordID).Msg("serial already stored")
		}
	}
	return nil
}
