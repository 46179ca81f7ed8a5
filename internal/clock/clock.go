// Package clock provides in-process logical clocks for the claim registry.
package clock

import (
	"context"
	"sync/atomic"

	"PoE-Chain/internal/claim"
)

var (
	_ claim.LogicalClock = (*Counter)(nil)
	_ claim.LogicalClock = (*Fixed)(nil)
)

// Counter hands out a fresh time point on every call.
type Counter struct {
	next atomic.Uint64
}

// NewCounter returns a Counter whose first reading is start.
func NewCounter(start uint64) *Counter {
	c := &Counter{}
	c.next.Store(start)
	return c
}

// Now implements claim.LogicalClock.
func (c *Counter) Now(ctx context.Context) (claim.TimePoint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return claim.TimePoint(c.next.Add(1) - 1), nil
}

// Peek returns the value the next call to Now will produce.
func (c *Counter) Peek() claim.TimePoint {
	return claim.TimePoint(c.next.Load())
}

// Fixed reports a point that only moves when told to.
type Fixed struct {
	point atomic.Uint64
}

// NewFixed returns a Fixed clock set to point.
func NewFixed(point uint64) *Fixed {
	f := &Fixed{}
	f.point.Store(point)
	return f
}

// Now implements claim.LogicalClock.
func (f *Fixed) Now(context.Context) (claim.TimePoint, error) {
	return claim.TimePoint(f.point.Load()), nil
}

// Set moves the clock to point.
func (f *Fixed) Set(point uint64) {
	f.point.Store(point)
}

// Advance moves the clock forward by delta and returns the new point.
func (f *Fixed) Advance(delta uint64) claim.TimePoint {
	return claim.TimePoint(f.point.Add(delta))
}
