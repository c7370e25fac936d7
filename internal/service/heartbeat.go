package service

import (
	"context"
	"time"

	"stockcount-sync-api/internal/lock"
	"stockcount-sync-api/internal/syncerr"
)

// HeartbeatResult reports what a heartbeat refreshed.
type HeartbeatResult struct {
	UserActive  bool   `json:"user_active"`
	RackID      string `json:"rack_id,omitempty"`
	RackRenewed bool   `json:"rack_renewed"`
}

// HeartbeatService keeps user presence and rack leases alive.
type HeartbeatService struct {
	locks       *lock.Manager
	presenceTTL time.Duration
	rackTTL     time.Duration
}

// NewHeartbeatService creates a heartbeat service.
func NewHeartbeatService(locks *lock.Manager, presenceTTL, rackTTL time.Duration) *HeartbeatService {
	return &HeartbeatService{locks: locks, presenceTTL: presenceTTL, rackTTL: rackTTL}
}

// Heartbeat refreshes userID's presence and, when rackID is set, renews the
// rack lease held by sessionID. A lease held by someone else, or already
// expired, is reported as not renewed.
func (s *HeartbeatService) Heartbeat(ctx context.Context, userID, sessionID, rackID string) (*HeartbeatResult, error) {
	if userID == "" || sessionID == "" {
		return nil, syncerr.New(syncerr.KindValidation, "user and session_id are required")
	}

	if err := s.locks.UpdateUserHeartbeat(ctx, userID, s.presenceTTL); err != nil {
		return nil, err
	}
	res := &HeartbeatResult{UserActive: true, RackID: rackID}

	if rackID != "" {
		renewed, err := s.locks.RenewRackLock(ctx, rackID, sessionID, s.rackTTL)
		if err != nil {
			return nil, err
		}
		res.RackRenewed = renewed
	}
	return res, nil
}
