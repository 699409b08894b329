package humanoid

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/input"
)

const (
	// fingerRadius approximates a thumb contact patch in CSS pixels.
	fingerRadius = 11.0
	// wobbleAmplitude bounds the lateral drift along a swipe.
	wobbleAmplitude = 9.0
)

// FlickUp swipes from the lower middle of the viewport toward its upper
// half, scrolling the page down by roughly three quarters of a screen. The
// path curves with Perlin noise and the move cadence is uneven, the way a
// thumb actually travels.
func (g *Gestures) FlickUp(ctx context.Context, width, height int) error {
	w, h := float64(width), float64(height)
	if w <= 0 || h <= 0 {
		return fmt.Errorf("viewport %dx%d cannot host a gesture", width, height)
	}

	startX := w*0.5 + (g.rng.Float64()-0.5)*w*0.3
	startY := h*0.72 + (g.rng.Float64()-0.5)*h*0.12
	distance := h * (0.55 + g.rng.Float64()*0.25)
	endY := math.Max(startY-distance, h*0.08)

	g.phase += 0.37 + g.rng.Float64()*0.2

	if err := g.dispatch(ctx, input.TouchStart, g.point(startX, startY, w, h)); err != nil {
		return err
	}

	steps := 14 + g.rng.Intn(8)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		eased := easeInOut(t)

		x := startX + g.noiseX.Noise1D(g.phase+t*2.0)*wobbleAmplitude
		y := startY + (endY-startY)*eased + g.noiseY.Noise1D(g.phase+t*2.0)*3.0

		if err := g.dispatch(ctx, input.TouchMove, g.point(x, y, w, h)); err != nil {
			return err
		}
		if err := g.pause(ctx, 4*time.Millisecond, 10*time.Millisecond); err != nil {
			return err
		}
	}

	if err := g.dispatch(ctx, input.TouchEnd, []*input.TouchPoint{}); err != nil {
		return err
	}

	// Let the fling settle and mimic a beat of reading before the next
	// swipe.
	return g.pause(ctx, 120*time.Millisecond, 420*time.Millisecond)
}

func (g *Gestures) dispatch(ctx context.Context, typ input.TouchType, points []*input.TouchPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.dispatcher.DispatchTouch(ctx, typ, points)
}

// point clamps a touch location into the viewport and wraps it as a CDP
// touch point.
func (g *Gestures) point(x, y, w, h float64) []*input.TouchPoint {
	x = math.Max(1, math.Min(x, w-1))
	y = math.Max(1, math.Min(y, h-1))
	return []*input.TouchPoint{{
		X:       x,
		Y:       y,
		RadiusX: fingerRadius,
		RadiusY: fingerRadius,
		Force:   0.6 + g.rng.Float64()*0.3,
		ID:      1,
	}}
}

// easeInOut is a smoothstep curve: the finger accelerates out of the
// touch-down and decelerates into the lift.
func easeInOut(t float64) float64 {
	return t * t * (3 - 2*t)
}
