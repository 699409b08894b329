package browser

// Timing helpers for the capture session. Delays are jittered so repeated
// captures do not pace like a metronome.

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// rngPool manages synchronized random number generators.
var rngPool = sync.Pool{
	New: func() interface{} {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	},
}

func getRNG() *rand.Rand {
	return rngPool.Get().(*rand.Rand)
}

func putRNG(r *rand.Rand) {
	rngPool.Put(r)
}

// hesitate pauses execution, respecting context cancellation.
func hesitate(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter spreads a base duration by up to ±15%.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	rng := getRNG()
	defer putRNG(rng)

	spread := float64(base) * 0.15
	offset := (rng.Float64()*2 - 1) * spread
	return base + time.Duration(offset)
}
