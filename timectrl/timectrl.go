// Package timectrl paces a simulation. Each tick advances simulation time by
// a fixed step and notifies the registered listeners, either in step with the
// wall clock or as fast as the listeners return.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives read access to simulation time.
type SimClock interface {
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners run.
	Accelerated
)

// ParseMode selects Accelerated when accelerated is set.
func ParseMode(accelerated bool) Mode {
	if accelerated {
		return Accelerated
	}
	return RealTime
}

// TimeController drives simulation time and notifies registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// Interval is the wall-clock pause between ticks in RealTime mode;
	// Tick when zero.
	Interval time.Duration

	currentTime time.Time
	ticks       int

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the simulation clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Ticks returns the number of ticks delivered since the last Start.
func (tc *TimeController) Ticks() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked on every tick. Listeners run on
// the controller goroutine in registration order.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for n ticks in a separate goroutine; n <= 0 runs
// until ctx is cancelled. It returns a channel that is closed when the
// controller finishes.
func (tc *TimeController) Start(ctx context.Context, n int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.ticks = 0
		listeners := append([]func(time.Time){}, tc.listeners...)
		tc.mu.Unlock()

		interval := tc.Interval
		if interval <= 0 {
			interval = tc.Tick
		}
		var wait <-chan time.Time
		if tc.Mode == RealTime && interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			wait = ticker.C
		}

		for i := 0; n <= 0 || i < n; i++ {
			if wait != nil {
				select {
				case <-ctx.Done():
					return
				case <-wait:
				}
			} else if ctx.Err() != nil {
				return
			}

			simTime = simTime.Add(tc.Tick)
			tc.mu.Lock()
			tc.currentTime = simTime
			tc.ticks++
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}
