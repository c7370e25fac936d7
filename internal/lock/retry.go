package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errRackBusy = errors.New("rack busy")

// RetryPolicy bounds AcquireRackLockWithRetry. The manager itself never
// queues waiters; this is polling with exponential backoff and jitter, so
// contending clients spread out instead of retrying in lockstep.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy retries for up to ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return b
}

// AcquireRackLockWithRetry keeps trying AcquireRackLock until it succeeds, the
// policy's elapsed-time budget runs out, or ctx is done. It returns false with
// a nil error when the budget is exhausted while the rack is still held.
// Store errors stop retrying immediately.
func (m *Manager) AcquireRackLockWithRetry(ctx context.Context, rackID, owner string, ttl time.Duration, policy RetryPolicy) (bool, error) {
	attempts := 0
	op := func() error {
		attempts++
		ok, err := m.AcquireRackLock(ctx, rackID, owner, ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errRackBusy
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(policy.backOff(), ctx))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errRackBusy):
		m.log.Debug().Str("rack_id", rackID).Int("attempts", attempts).Msg("rack still locked after retries")
		return false, nil
	default:
		return false, err
	}
}
