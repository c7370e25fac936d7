package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"stockcount-sync-api/internal/metrics"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/syncerr"
	"stockcount-sync-api/pkg/uid"
)

type sessionData struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Warehouse string     `json:"warehouse"`
	Area      string     `json:"area"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	CreatedAt *time.Time `json:"created_at"`
}

type countLineData struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	ItemCode   string     `json:"item_code"`
	RackID     string     `json:"rack_id"`
	CountedQty float64    `json:"counted_qty"`
	DamageQty  float64    `json:"damage_qty"`
	CountedAt  *time.Time `json:"counted_at"`
}

type unknownItemData struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Barcode     string     `json:"barcode"`
	Description string     `json:"description"`
	Qty         *float64   `json:"qty"`
	RackID      string     `json:"rack_id"`
	ReportedAt  *time.Time `json:"reported_at"`
}

func decodeOperation(op *model.Operation, out any) error {
	raw, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return syncerr.New(syncerr.KindValidation, "invalid %s data: %v", op.Type, err)
	}
	return nil
}

// idMap threads offline ids to server ids through one legacy batch. Session
// references resolve only against sessions, so a line's offline id can never
// stand in for a session.
type idMap struct {
	sessions map[string]string
	all      map[string]string
}

func newIDMap() idMap {
	return idMap{sessions: map[string]string{}, all: map[string]string{}}
}

func (m idMap) addSession(offline, real string) {
	m.sessions[offline] = real
	m.all[offline] = real
}

func (m idMap) add(offline, real string) {
	if _, taken := m.all[offline]; !taken {
		m.all[offline] = real
	}
}

// processOperations applies legacy operations strictly in timestamp order,
// since later operations may reference offline ids created by earlier ones.
func (p *BatchProcessor) processOperations(ctx context.Context, caller model.Caller, batchID string, ops []model.Operation) *model.BatchResponse {
	sorted := make([]model.Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	resp := model.NewBatchResponse(batchID, len(ops))
	ids := newIDMap()

	for i := range sorted {
		op := &sorted[i]
		id := op.ID
		if id == "" {
			id = fmt.Sprintf("op-%d", i)
		}

		var err error
		switch op.Type {
		case model.OperationSession:
			err = p.applySession(ctx, caller, op, ids)
		case model.OperationCountLine:
			err = p.applyCountLine(ctx, caller, op, ids)
		case model.OperationUnknownItem:
			err = p.applyUnknownItem(ctx, caller, op, ids)
		default:
			err = syncerr.New(syncerr.KindValidation, "unsupported operation type %q", op.Type)
		}

		if err != nil {
			kind := string(syncerr.KindOf(err))
			if kind == "" {
				kind = "internal_error"
			}
			resp.Errors = append(resp.Errors, model.ErrorEntry{ClientRecordID: id, ErrorType: kind, Message: err.Error()})
			resp.Results = append(resp.Results, model.ResultEntry{ID: id, Success: false, Message: err.Error()})
			metrics.BatchRecords.WithLabelValues("operations", "error").Inc()
			p.log.Warn().Err(err).Str("operation_id", id).Str("type", op.Type).Msg("operation failed")
			continue
		}

		resp.OK = append(resp.OK, id)
		resp.Results = append(resp.Results, model.ResultEntry{ID: id, Success: true, Message: op.Type + " synced"})
		metrics.BatchRecords.WithLabelValues("operations", "ok").Inc()
	}

	resp.IDMappings = ids.all
	return resp
}

// offlineID is the client's id for a row: the id in its data, else the
// operation id. It is never used as the stored id.
func offlineID(dataID string, op *model.Operation) string {
	if dataID != "" {
		return dataID
	}
	return op.ID
}

func (p *BatchProcessor) opTime(op *model.Operation, t *time.Time) time.Time {
	switch {
	case t != nil && !t.IsZero():
		return *t
	case !op.Timestamp.IsZero():
		return op.Timestamp
	default:
		return p.now()
	}
}

// resolveSession maps a session reference to a server id: ids from this
// batch first, then sessions created offline by the caller in earlier batches.
func (p *BatchProcessor) resolveSession(ctx context.Context, caller model.Caller, ref string, ids idMap) (string, error) {
	if real, ok := ids.sessions[ref]; ok {
		return real, nil
	}
	prior, err := p.Legacy.SessionByOfflineID(ctx, ref, caller.UserID)
	if err != nil {
		return "", err
	}
	if prior != nil {
		ids.addSession(ref, prior.ID)
		return prior.ID, nil
	}
	return ref, nil
}

func (p *BatchProcessor) applySession(ctx context.Context, caller model.Caller, op *model.Operation, ids idMap) error {
	var d sessionData
	if err := decodeOperation(op, &d); err != nil {
		return err
	}
	offline := d.SessionID
	if offline == "" {
		offline = d.ID
	}

	// Replaying a batch must not create a second session.
	realID := uid.New()
	if offline != "" {
		existing, err := p.resolveSession(ctx, caller, offline, ids)
		if err != nil {
			return err
		}
		if existing != offline {
			realID = existing
		}
	}

	status := d.Status
	if status == "" {
		status = "active"
	}
	s := &model.Session{
		ID:        realID,
		OfflineID: offline,
		Warehouse: d.Warehouse,
		Area:      d.Area,
		Name:      d.Name,
		Status:    status,
		CreatedBy: caller.UserID,
		CreatedAt: p.opTime(op, d.CreatedAt),
	}
	if err := p.Legacy.SaveSession(ctx, s); err != nil {
		return err
	}
	if offline != "" {
		ids.addSession(offline, realID)
	}
	return nil
}

func (p *BatchProcessor) applyCountLine(ctx context.Context, caller model.Caller, op *model.Operation, ids idMap) error {
	var d countLineData
	if err := decodeOperation(op, &d); err != nil {
		return err
	}
	if d.SessionID == "" || d.ItemCode == "" {
		return syncerr.New(syncerr.KindValidation, "count_line requires session_id and item_code")
	}
	if d.CountedQty < 0 || d.DamageQty < 0 {
		return syncerr.New(syncerr.KindValidation, "count_line quantities must not be negative")
	}

	sessionID, err := p.resolveSession(ctx, caller, d.SessionID, ids)
	if err != nil {
		return err
	}

	offline := offlineID(d.ID, op)
	lineID := uid.New()
	if offline != "" {
		prior, err := p.Legacy.CountLineByOfflineID(ctx, offline, sessionID, caller.UserID)
		if err != nil {
			return err
		}
		if prior != nil {
			lineID = prior.ID
		}
		ids.add(offline, lineID)
	}

	return p.Legacy.SaveCountLine(ctx, &model.CountLine{
		ID:         lineID,
		OfflineID:  offline,
		SessionID:  sessionID,
		ItemCode:   d.ItemCode,
		RackID:     d.RackID,
		CountedQty: d.CountedQty,
		DamageQty:  d.DamageQty,
		CountedBy:  caller.UserID,
		CountedAt:  p.opTime(op, d.CountedAt),
	})
}

func (p *BatchProcessor) applyUnknownItem(ctx context.Context, caller model.Caller, op *model.Operation, ids idMap) error {
	var d unknownItemData
	if err := decodeOperation(op, &d); err != nil {
		return err
	}
	if d.SessionID == "" {
		return syncerr.New(syncerr.KindValidation, "unknown_item requires session_id")
	}

	sessionID, err := p.resolveSession(ctx, caller, d.SessionID, ids)
	if err != nil {
		return err
	}

	qty := 1.0
	if d.Qty != nil {
		qty = *d.Qty
	}
	offline := offlineID(d.ID, op)
	itemID := uid.New()
	if offline != "" {
		prior, err := p.Legacy.UnknownItemByOfflineID(ctx, offline, sessionID, caller.UserID)
		if err != nil {
			return err
		}
		if prior != nil {
			itemID = prior.ID
		}
		ids.add(offline, itemID)
	}

	return p.Legacy.SaveUnknownItem(ctx, &model.UnknownItem{
		ID:          itemID,
		OfflineID:   offline,
		SessionID:   sessionID,
		Barcode:     d.Barcode,
		Description: d.Description,
		Qty:         qty,
		RackID:      d.RackID,
		ReportedBy:  caller.UserID,
		ReportedAt:  p.opTime(op, d.ReportedAt),
	})
}
