package commcare

import (
	"context"
	"math"
	"time"

	"github.com/caktus/commcare-utilities/pkg/errors"
)

// Backoff describes the retry schedule used for reads that race CommCare's
// eventual consistency. Delays start at Initial and grow by Multiplier; the
// attempt count is derived from MaxTotalWait so the cumulative sleep never
// exceeds it.
type Backoff struct {
	Initial      time.Duration
	Multiplier   float64
	MaxTotalWait time.Duration

	// Sleep is swappable so tests can run against a fake clock.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Attempts returns how many tries the schedule allows. With the defaults
// (1s initial, x2, 512s ceiling) that is 10 attempts sleeping
// 1+2+...+256 = 511s in the worst case.
func (b Backoff) Attempts() int {
	if b.Initial <= 0 || b.Multiplier <= 1 || b.MaxTotalWait < b.Initial {
		return 1
	}
	ratio := float64(b.MaxTotalWait) / float64(b.Initial)
	return int(math.Floor(math.Log(ratio)/math.Log(b.Multiplier))) + 1
}

// Retry runs op until it reports done, sleeping per the schedule between
// attempts. A non-nil error from op aborts immediately. If every attempt
// comes back not-done the retry budget is exhausted and ErrLookupTimeout is
// returned; callers handle that per batch, never as a run-wide abort.
func (b Backoff) Retry(ctx context.Context, op func(ctx context.Context) (bool, error)) error {
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := b.Initial
	attempts := b.Attempts()
	for attempt := 1; ; attempt++ {
		done, err := op(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt >= attempts {
			return errors.ErrLookupTimeout
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * b.Multiplier)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
