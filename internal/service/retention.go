package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/logging"
)

// ConflictPurger deletes terminal conflicts created before cutoff.
type ConflictPurger interface {
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig holds configuration for the conflict retention scheduler.
type RetentionConfig struct {
	// Retention is how long resolved and ignored conflicts are kept.
	// Default: 30 days
	Retention time.Duration

	// Interval is how often the purge runs.
	// Default: 1 hour
	Interval time.Duration

	// InitialDelay postpones the first purge after Start.
	InitialDelay time.Duration
}

// RetentionScheduler periodically purges terminal conflicts. Pending
// conflicts are never touched.
type RetentionScheduler struct {
	purger    ConflictPurger
	config    RetentionConfig
	now       func() time.Time
	log       zerolog.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewRetentionScheduler creates a stopped scheduler.
func NewRetentionScheduler(purger ConflictPurger, config RetentionConfig) *RetentionScheduler {
	if config.Retention <= 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &RetentionScheduler{
		purger: purger,
		config: config,
		now:    time.Now,
		log:    logging.Component("retention"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the purge loop.
func (s *RetentionScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.log.Info().
		Dur("interval", s.config.Interval).
		Dur("retention", s.config.Retention).
		Msg("conflict retention started")

	go func() {
		select {
		case <-time.After(s.config.InitialDelay):
			s.purge()
		case <-s.stopCh:
		}
	}()

	go s.run()
}

func (s *RetentionScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.purge()
		case <-s.stopCh:
			s.log.Info().Msg("conflict retention stopped")
			return
		}
	}
}

func (s *RetentionScheduler) purge() {
	deleted, err := s.RunNow(context.Background())
	if err != nil {
		s.log.Error().Err(err).Msg("conflict purge failed")
		return
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Msg("purged terminal conflicts")
	}
}

// Stop halts the scheduler.
func (s *RetentionScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow purges immediately and returns the number of conflicts removed.
func (s *RetentionScheduler) RunNow(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return s.purger.PurgeResolvedBefore(ctx, s.now().Add(-s.config.Retention))
}
