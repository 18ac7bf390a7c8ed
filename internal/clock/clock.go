// Package clock provides the time seam used by pkg/bus for its current
// time and its heartbeat and NAK-poll tickers, so that timing can be driven
// deterministically in tests instead of by wall-clock time, mirroring the
// injectable NetworkInterface collaborator pattern used elsewhere in this
// module.
package clock

import "time"

// Clock abstracts wall-clock time and timer creation.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts time.Ticker so a fake clock can control tick delivery.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is a Clock backed by the standard library.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// After returns a channel that fires once after d, per time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTicker returns a Ticker backed by time.NewTicker.
func (Real) NewTicker(d time.Duration) Ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
