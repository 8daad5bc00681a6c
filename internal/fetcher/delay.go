package fetcher

import (
	"context"
	"math/rand/v2"
	"time"
)

// DelayPolicy computes the politeness pause applied before every request.
type DelayPolicy struct {
	Base      time.Duration
	Randomize bool

	// Float returns a value in [0, 1); defaults to math/rand/v2.
	Float func() float64
}

// Bounds returns the inclusive range Next draws from.
func (d DelayPolicy) Bounds() (time.Duration, time.Duration) {
	if !d.Randomize {
		return d.Base, d.Base
	}
	return d.Base / 2, d.Base + d.Base/2
}

// Next returns the delay for the upcoming request.
func (d DelayPolicy) Next() time.Duration {
	if d.Base <= 0 {
		return 0
	}
	if !d.Randomize {
		return d.Base
	}
	lo, hi := d.Bounds()
	f := d.Float
	if f == nil {
		f = rand.Float64
	}
	return lo + time.Duration(f()*float64(hi-lo))
}

// SleepContext waits for delay or until ctx is done.
func SleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
