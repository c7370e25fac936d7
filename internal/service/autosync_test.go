package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcount-sync-api/internal/breaker"
	"stockcount-sync-api/internal/model"
)

// toggleSource is reachable while up is set.
type toggleSource struct {
	up atomic.Bool
}

func (s *toggleSource) Name() string { return "toggle" }
func (s *toggleSource) Close() error { return nil }

func (s *toggleSource) TestConnection(context.Context) error {
	if s.up.Load() {
		return nil
	}
	return errors.New("dial tcp: connection refused")
}

func (s *toggleSource) FetchItems(context.Context, *time.Time) ([]model.InventoryItem, error) {
	return nil, nil
}

type recordingJob struct {
	mu       sync.Mutex
	triggers []string
	block    chan struct{}
	err      error
}

func (j *recordingJob) Run(ctx context.Context, trigger string) error {
	j.mu.Lock()
	j.triggers = append(j.triggers, trigger)
	block := j.block
	j.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func (j *recordingJob) calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.triggers...)
}

type monitorFixture struct {
	mon     *AutoSyncMonitor
	src     *toggleSource
	job     *recordingJob
	breaker *breaker.CircuitBreaker
	clock   *manualClock
}

func newMonitor(t *testing.T, cbCfg breaker.Config) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		src:   &toggleSource{},
		job:   &recordingJob{},
		clock: &manualClock{now: t0},
	}
	f.breaker = breaker.New("autosync-test", cbCfg, breaker.WithClock(f.clock.Now))
	f.mon = NewAutoSyncMonitor(f.src, f.job.Run, f.breaker, AutoSyncConfig{
		CheckInterval: time.Hour,
		SyncInterval:  5 * time.Minute,
		SyncTimeout:   time.Minute,
	})
	f.mon.SetClock(f.clock.Now)
	t.Cleanup(f.mon.Stop)
	return f
}

func TestMonitorStartsUnavailable(t *testing.T) {
	f := newMonitor(t, breaker.Config{})

	st := f.mon.Status()
	assert.False(t, st.SourceAvailable)
	assert.Nil(t, st.LastCheckTime)

	var restored atomic.Int32
	f.mon.OnConnectionRestored(func() { restored.Add(1) })

	assert.False(t, f.mon.CheckNow(context.Background()))
	assert.Zero(t, restored.Load(), "unavailable to unavailable is not a transition")
	assert.Equal(t, int64(1), f.mon.Status().Stats.ConnectionChecks)
}

func TestMonitorRestoreTriggersSync(t *testing.T) {
	f := newMonitor(t, breaker.Config{})
	ctx := context.Background()

	var restored atomic.Int32
	done := make(chan SyncOutcome, 1)
	f.mon.OnConnectionRestored(func() { restored.Add(1) })
	f.mon.OnSyncCompleted(func(o SyncOutcome) { done <- o })

	f.src.up.Store(true)
	assert.True(t, f.mon.CheckNow(ctx))
	f.mon.Wait()

	assert.Equal(t, int32(1), restored.Load())
	assert.Equal(t, []string{model.TriggerAuto}, f.job.calls())
	outcome := <-done
	assert.NoError(t, outcome.Err)
	assert.Equal(t, model.TriggerAuto, outcome.Trigger)

	st := f.mon.Status()
	assert.True(t, st.SourceAvailable)
	assert.False(t, st.SyncInProgress)
	assert.Equal(t, int64(1), st.Stats.ConnectionRestored)
	assert.Equal(t, int64(1), st.Stats.SyncsTriggered)
	assert.Equal(t, int64(1), st.Stats.SyncsCompleted)
	require.NotNil(t, st.LastSyncAttempt)
	assert.True(t, st.LastSyncAttempt.Equal(t0))

	// Staying available is not a restore.
	f.mon.CheckNow(ctx)
	f.mon.Wait()
	assert.Len(t, f.job.calls(), 1)
}

func TestMonitorRespectsSyncInterval(t *testing.T) {
	f := newMonitor(t, breaker.Config{})
	ctx := context.Background()

	f.src.up.Store(true)
	f.mon.CheckNow(ctx)
	f.mon.Wait()

	// Flap within the cooldown.
	f.src.up.Store(false)
	f.mon.CheckNow(ctx)
	f.clock.Advance(time.Minute)
	f.src.up.Store(true)
	f.mon.CheckNow(ctx)
	f.mon.Wait()
	assert.Len(t, f.job.calls(), 1)

	// Flap after it.
	f.src.up.Store(false)
	f.mon.CheckNow(ctx)
	f.clock.Advance(5 * time.Minute)
	f.src.up.Store(true)
	f.mon.CheckNow(ctx)
	f.mon.Wait()
	assert.Len(t, f.job.calls(), 2)
	assert.Equal(t, int64(3), f.mon.Status().Stats.ConnectionRestored)
}

func TestMonitorConnectionLostCancelsSync(t *testing.T) {
	f := newMonitor(t, breaker.Config{})
	ctx := context.Background()
	f.job.block = make(chan struct{})

	var lost atomic.Int32
	f.mon.OnConnectionLost(func() { lost.Add(1) })

	f.src.up.Store(true)
	f.mon.CheckNow(ctx)
	require.Eventually(t, func() bool { return len(f.job.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.mon.Status().SyncInProgress)

	f.src.up.Store(false)
	f.mon.CheckNow(ctx)
	f.mon.Wait()

	assert.Equal(t, int32(1), lost.Load())
	st := f.mon.Status()
	assert.False(t, st.SyncInProgress)
	assert.Equal(t, int64(1), st.Stats.SyncsFailed)
	assert.Contains(t, st.Stats.LastError, "context canceled")
	assert.Equal(t, 1, f.breaker.Snapshot().FailureCount)
}

func TestTriggerManualReasons(t *testing.T) {
	f := newMonitor(t, breaker.Config{FailureThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	assert.Equal(t, TriggerResult{Reason: ReasonSourceUnavailable}, f.mon.TriggerManual())

	f.job.block = make(chan struct{})
	f.src.up.Store(true)
	f.mon.CheckNow(ctx)
	require.Eventually(t, func() bool { return len(f.job.calls()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, TriggerResult{Reason: ReasonSyncInProgress}, f.mon.TriggerManual())

	close(f.job.block)
	f.mon.Wait()

	f.breaker.RecordFailure()
	assert.Equal(t, TriggerResult{Reason: ReasonCircuitOpen}, f.mon.TriggerManual())

	f.clock.Advance(time.Minute)
	res := f.mon.TriggerManual()
	assert.True(t, res.Triggered, "manual triggers ignore the cooldown")
	f.mon.Wait()
	assert.Equal(t, []string{model.TriggerAuto, model.TriggerManual}, f.job.calls())
	assert.Equal(t, breaker.StateHalfOpen, f.breaker.State(), "one success does not close the circuit")
}

func TestMonitorSurvivesPanickingJobAndCallbacks(t *testing.T) {
	f := newMonitor(t, breaker.Config{})
	f.mon.job = func(context.Context, string) error { panic("driver bug") }
	f.mon.OnConnectionRestored(func() { panic("callback bug") })

	f.src.up.Store(true)
	f.mon.CheckNow(context.Background())
	f.mon.Wait()

	st := f.mon.Status()
	assert.Equal(t, int64(1), st.Stats.SyncsFailed)
	assert.Contains(t, st.Stats.LastError, "driver bug")
	assert.False(t, st.SyncInProgress)
}

func TestMonitorStartStop(t *testing.T) {
	f := newMonitor(t, breaker.Config{})
	f.src.up.Store(true)

	f.mon.Start()
	require.Eventually(t, func() bool {
		return f.mon.Status().Stats.SyncsCompleted == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.mon.Status().Running)

	f.mon.Stop()
	assert.False(t, f.mon.Status().Running)
}

func TestStoppedMonitorRefusesSyncs(t *testing.T) {
	f := newMonitor(t, breaker.Config{})
	f.mon.Stop()

	f.src.up.Store(true)
	assert.True(t, f.mon.CheckNow(context.Background()), "a check racing with Stop still reaches the source")
	assert.Equal(t, TriggerResult{Reason: ReasonMonitorStopped}, f.mon.TriggerManual())

	f.mon.Wait()
	assert.Empty(t, f.job.calls())
	st := f.mon.Status()
	assert.Zero(t, st.Stats.SyncsTriggered)
	assert.False(t, st.SyncInProgress)
	assert.Equal(t, breaker.StateClosed, f.breaker.State())
}
