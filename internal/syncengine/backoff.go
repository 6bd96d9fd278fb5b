package syncengine

import (
	"context"
	"math/rand"
	"time"
)

// MaxBackoff caps the delay between attempts of one task.
const MaxBackoff = 60 * time.Second

// RawBackoff is min(initial * 2^attempts, MaxBackoff).
func RawBackoff(initial time.Duration, attempts int) time.Duration {
	if initial <= 0 || attempts < 0 {
		return 0
	}
	d := initial
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return min(d, MaxBackoff)
}

// Jitter spreads raw across [0.9*raw, 1.1*raw).
func Jitter(raw time.Duration, r *rand.Rand) time.Duration {
	if raw <= 0 {
		return 0
	}
	f := 0.9 + r.Float64()*0.2
	return time.Duration(float64(raw) * f)
}

// sleep waits for d or until ctx is done, reporting whether it slept fully
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
