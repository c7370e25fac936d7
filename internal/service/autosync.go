package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/breaker"
	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/metrics"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/source"
)

// Reasons a sync trigger is refused.
const (
	ReasonSourceUnavailable = "source_unavailable"
	ReasonSyncInProgress    = "sync_in_progress"
	ReasonCircuitOpen       = "circuit_open"
	ReasonCooldown          = "cooldown"
	ReasonMonitorStopped    = "monitor_stopped"
)

// AutoSyncConfig holds the monitor timings.
type AutoSyncConfig struct {
	CheckInterval time.Duration
	SyncInterval  time.Duration
	SyncTimeout   time.Duration
}

// SyncJob performs one synchronization against the source.
type SyncJob func(ctx context.Context, trigger string) error

// SyncOutcome is passed to OnSyncCompleted callbacks.
type SyncOutcome struct {
	Trigger  string
	Err      error
	Duration time.Duration
}

// TriggerResult answers a trigger request.
type TriggerResult struct {
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
}

// AutoSyncStatus is the monitor's observable state.
type AutoSyncStatus struct {
	Running              bool                `json:"running"`
	Source               string              `json:"source"`
	SourceAvailable      bool                `json:"source_available"`
	SyncInProgress       bool                `json:"sync_in_progress"`
	LastCheckTime        *time.Time          `json:"last_check_time,omitempty"`
	LastSyncAttempt      *time.Time          `json:"last_sync_attempt,omitempty"`
	CheckIntervalSeconds float64             `json:"check_interval_seconds"`
	SyncIntervalSeconds  float64             `json:"sync_interval_seconds"`
	Stats                model.AutoSyncStats `json:"stats"`
	Breaker              breaker.Snapshot    `json:"breaker"`
}

// AutoSyncMonitor polls the source and runs the sync job when it comes back.
// The state guard is never held across the connection test, the job or callbacks.
type AutoSyncMonitor struct {
	src     source.Connector
	job     SyncJob
	breaker *breaker.CircuitBreaker
	cfg     AutoSyncConfig
	now     func() time.Time
	log     zerolog.Logger

	mu          sync.Mutex
	available   bool
	inProgress  bool
	cancelSync  context.CancelFunc
	lastCheck   time.Time
	lastAttempt time.Time
	stats       model.AutoSyncStats
	onRestored  []func()
	onLost      []func()
	onCompleted []func(SyncOutcome)

	running  bool
	stopped  bool
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	jobs     sync.WaitGroup
}

// NewAutoSyncMonitor creates a stopped monitor. The source starts out
// unavailable, so the first successful check counts as a restore.
func NewAutoSyncMonitor(src source.Connector, job SyncJob, cb *breaker.CircuitBreaker, cfg AutoSyncConfig) *AutoSyncMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 10 * time.Minute
	}
	return &AutoSyncMonitor{
		src:     src,
		job:     job,
		breaker: cb,
		cfg:     cfg,
		now:     time.Now,
		log:     logging.Component("autosync"),
		stopCh:  make(chan struct{}),
	}
}

// SetClock replaces the time source.
func (m *AutoSyncMonitor) SetClock(now func() time.Time) { m.now = now }

// OnConnectionRestored registers fn for unavailable to available transitions.
func (m *AutoSyncMonitor) OnConnectionRestored(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRestored = append(m.onRestored, fn)
}

// OnConnectionLost registers fn for available to unavailable transitions.
func (m *AutoSyncMonitor) OnConnectionLost(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = append(m.onLost, fn)
}

// OnSyncCompleted registers fn for finished sync jobs, failed or not.
func (m *AutoSyncMonitor) OnSyncCompleted(fn func(SyncOutcome)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCompleted = append(m.onCompleted, fn)
}

// Start begins polling.
func (m *AutoSyncMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.ticker = time.NewTicker(m.cfg.CheckInterval)
	m.mu.Unlock()

	m.log.Info().
		Str("source", m.src.Name()).
		Dur("check_interval", m.cfg.CheckInterval).
		Dur("sync_interval", m.cfg.SyncInterval).
		Msg("auto-sync monitor started")

	go m.run()
}

func (m *AutoSyncMonitor) run() {
	m.CheckNow(context.Background())
	for {
		select {
		case <-m.ticker.C:
			m.CheckNow(context.Background())
		case <-m.stopCh:
			m.log.Info().Msg("auto-sync monitor stopped")
			return
		}
	}
}

// Stop halts polling, cancels any in-flight sync and waits for it to exit.
func (m *AutoSyncMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.ticker != nil {
			m.ticker.Stop()
		}
		close(m.stopCh)
		m.running = false
		m.stopped = true
		if m.cancelSync != nil {
			m.cancelSync()
		}
		m.mu.Unlock()
	})
	m.jobs.Wait()
}

// Wait blocks until no sync job is running.
func (m *AutoSyncMonitor) Wait() {
	m.jobs.Wait()
}

// CheckNow tests the source connection once and handles any availability transition.
// It reports whether the source answered.
func (m *AutoSyncMonitor) CheckNow(ctx context.Context) bool {
	timeout := m.cfg.CheckInterval
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	err := m.src.TestConnection(checkCtx)
	cancel()
	ok := err == nil
	now := m.now()

	m.mu.Lock()
	m.stats.ConnectionChecks++
	m.lastCheck = now
	was := m.available
	m.available = ok

	var restored, lost bool
	switch {
	case ok && !was:
		restored = true
		m.stats.ConnectionRestored++
		m.stats.LastRestoredAt = &now
	case !ok && was:
		lost = true
		m.stats.ConnectionLost++
		m.stats.LastLostAt = &now
		if m.cancelSync != nil {
			m.cancelSync()
		}
	}
	onRestored := append([]func(){}, m.onRestored...)
	onLost := append([]func(){}, m.onLost...)
	m.mu.Unlock()

	metrics.AutoSyncEvents.WithLabelValues("check").Inc()

	if restored {
		metrics.AutoSyncEvents.WithLabelValues("restored").Inc()
		m.log.Info().Str("source", m.src.Name()).Msg("source connection restored")
		for _, fn := range onRestored {
			m.safeCall("connection_restored", fn)
		}
		if res := m.trigger(model.TriggerAuto, true); !res.Triggered {
			m.log.Info().Str("reason", res.Reason).Msg("auto sync not started")
		}
	}
	if lost {
		metrics.AutoSyncEvents.WithLabelValues("lost").Inc()
		m.log.Warn().Err(err).Str("source", m.src.Name()).Msg("source connection lost")
		for _, fn := range onLost {
			m.safeCall("connection_lost", fn)
		}
	}
	return ok
}

// TriggerManual starts a sync now if the source is reachable, no sync is
// running and the breaker admits it. The cooldown does not apply.
func (m *AutoSyncMonitor) TriggerManual() TriggerResult {
	m.mu.Lock()
	available := m.available
	m.mu.Unlock()

	if !available {
		return TriggerResult{Reason: ReasonSourceUnavailable}
	}
	return m.trigger(model.TriggerManual, false)
}

func (m *AutoSyncMonitor) trigger(trigger string, cooldown bool) TriggerResult {
	m.mu.Lock()
	now := m.now()
	// A check still in flight when Stop ran must not start a job Stop
	// cannot cancel or wait for.
	if m.stopped {
		m.mu.Unlock()
		return TriggerResult{Reason: ReasonMonitorStopped}
	}
	if m.inProgress {
		m.mu.Unlock()
		return TriggerResult{Reason: ReasonSyncInProgress}
	}
	if cooldown && !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < m.cfg.SyncInterval {
		m.mu.Unlock()
		return TriggerResult{Reason: ReasonCooldown}
	}
	if !m.breaker.Acquire() {
		m.mu.Unlock()
		return TriggerResult{Reason: ReasonCircuitOpen}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SyncTimeout)
	m.inProgress = true
	m.cancelSync = cancel
	m.lastAttempt = now
	m.stats.SyncsTriggered++
	m.jobs.Add(1)
	m.mu.Unlock()

	metrics.AutoSyncEvents.WithLabelValues("triggered").Inc()
	m.log.Info().Str("trigger", trigger).Msg("sync started")
	go m.runJob(ctx, cancel, trigger, now)
	return TriggerResult{Triggered: true}
}

func (m *AutoSyncMonitor) runJob(ctx context.Context, cancel context.CancelFunc, trigger string, started time.Time) {
	defer m.jobs.Done()
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sync job panicked: %v", r)
			}
		}()
		return m.job(ctx, trigger)
	}()

	if err != nil {
		m.breaker.RecordFailure()
	} else {
		m.breaker.RecordSuccess()
	}

	now := m.now()
	m.mu.Lock()
	m.inProgress = false
	m.cancelSync = nil
	if err != nil {
		m.stats.SyncsFailed++
		m.stats.LastError = err.Error()
	} else {
		m.stats.SyncsCompleted++
		m.stats.LastSyncCompletedAt = &now
	}
	onCompleted := append([]func(SyncOutcome){}, m.onCompleted...)
	m.mu.Unlock()

	if err != nil {
		metrics.AutoSyncEvents.WithLabelValues("failed").Inc()
		m.log.Warn().Err(err).Str("trigger", trigger).Msg("sync failed")
	} else {
		metrics.AutoSyncEvents.WithLabelValues("completed").Inc()
	}

	outcome := SyncOutcome{Trigger: trigger, Err: err, Duration: now.Sub(started)}
	for _, fn := range onCompleted {
		m.safeCall("sync_completed", func() { fn(outcome) })
	}
}

func (m *AutoSyncMonitor) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("event", event).Msg("auto-sync callback panicked")
		}
	}()
	fn()
}

// Status returns a snapshot of the monitor.
func (m *AutoSyncMonitor) Status() AutoSyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := AutoSyncStatus{
		Running:              m.running,
		Source:               m.src.Name(),
		SourceAvailable:      m.available,
		SyncInProgress:       m.inProgress,
		CheckIntervalSeconds: m.cfg.CheckInterval.Seconds(),
		SyncIntervalSeconds:  m.cfg.SyncInterval.Seconds(),
		Stats:                m.stats,
		Breaker:              m.breaker.Snapshot(),
	}
	if !m.lastCheck.IsZero() {
		t := m.lastCheck
		st.LastCheckTime = &t
	}
	if !m.lastAttempt.IsZero() {
		t := m.lastAttempt
		st.LastSyncAttempt = &t
	}
	return st
}
