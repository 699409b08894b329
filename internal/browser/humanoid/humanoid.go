// Package humanoid dispatches touch gestures that read like a person
// rather than a script. Landers that fingerprint scroll mechanics see a
// finger swipe with lateral wobble and uneven pacing, not a bare
// window.scrollTo call.
package humanoid

import (
	"context"
	"math/rand"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
)

// Dispatcher delivers one CDP touch event. The browser session provides it
// so gestures stay independent of how the session manages its contexts.
type Dispatcher interface {
	DispatchTouch(ctx context.Context, typ input.TouchType, points []*input.TouchPoint) error
}

// Gestures generates swipe input for one session. Not safe for concurrent
// use; each session owns its own instance.
type Gestures struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	rng        *rand.Rand

	// Perlin noise gives the finger path a smooth organic wobble instead
	// of per-step white noise.
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	phase  float64
}

// New creates a gesture generator bound to a dispatcher.
func New(dispatcher Dispatcher, logger *zap.Logger) *Gestures {
	seed := time.Now().UnixNano()
	return &Gestures{
		dispatcher: dispatcher,
		logger:     logger.Named("humanoid"),
		rng:        rand.New(rand.NewSource(seed)),
		noiseX:     perlin.NewPerlin(2.0, 2.0, 3, seed),
		noiseY:     perlin.NewPerlin(2.0, 2.0, 3, seed+1),
	}
}

// pause sleeps for a random duration in [min, max), honoring cancellation.
func (g *Gestures) pause(ctx context.Context, min, max time.Duration) error {
	span := max - min
	if span < 0 {
		span = 0
	}
	d := min + time.Duration(g.rng.Int63n(int64(span)+1))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
