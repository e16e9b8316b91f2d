package livescope

import (
	"context"
	"sync"
	"time"
)

// DefaultPacingFactor is the safety margin over one full sweep
// (timebase × divisions) between waveform fetches. Requesting faster than
// the instrument can complete an acquisition stalls it or corrupts the
// response; empirically 4 sweeps of spacing keeps the SDS series happy.
const DefaultPacingFactor = 4.0

// RequestPacer spaces data-fetch requests so a session never outruns the
// instrument's own acquisition cadence. It caches the device-reported sweep
// parameters; call Invalidate after changing the timebase so the next fetch
// requeries them.
type RequestPacer struct {
	factor float64

	mu          sync.Mutex
	timePerDiv  float64 // seconds per horizontal division
	divisions   int
	valid       bool
	lastRequest time.Time
}

// NewRequestPacer creates a pacer with the given sweep factor. A factor of
// 0 or less selects DefaultPacingFactor.
func NewRequestPacer(factor float64) *RequestPacer {
	if factor <= 0 {
		factor = DefaultPacingFactor
	}
	return &RequestPacer{factor: factor}
}

// Factor returns the configured sweep factor.
func (p *RequestPacer) Factor() float64 { return p.factor }

// SetSweep records the device-reported sweep parameters and re-derives the
// minimum inter-request interval.
func (p *RequestPacer) SetSweep(timePerDiv float64, divisions int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timePerDiv = timePerDiv
	p.divisions = divisions
	p.valid = timePerDiv > 0 && divisions > 0
}

// Invalidate marks the cached sweep parameters stale, e.g. after a timebase
// change was sent to the device.
func (p *RequestPacer) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = false
}

// Sweep returns the cached sweep parameters. Both are zero while unknown.
func (p *RequestPacer) Sweep() (timePerDiv float64, divisions int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid {
		return 0, 0
	}
	return p.timePerDiv, p.divisions
}

// Valid reports whether the pacer currently knows the sweep parameters.
func (p *RequestPacer) Valid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid
}

// MinInterval returns the current minimum spacing between fetch requests,
// factor × timePerDiv × divisions. It is zero while the sweep parameters
// are unknown.
func (p *RequestPacer) MinInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minIntervalLocked()
}

func (p *RequestPacer) minIntervalLocked() time.Duration {
	if !p.valid {
		return 0
	}
	secs := p.factor * p.timePerDiv * float64(p.divisions)
	return time.Duration(secs * float64(time.Second))
}

// Wait suspends the caller until MinInterval has elapsed since the previous
// request on this session, then records the new request time. The wait is
// an intentional suspension, not an error; only ctx cancellation makes Wait
// return early.
func (p *RequestPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	interval := p.minIntervalLocked()
	last := p.lastRequest
	p.mu.Unlock()

	if !last.IsZero() && interval > 0 {
		if remain := interval - time.Since(last); remain > 0 {
			timer := time.NewTimer(remain)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	p.mu.Lock()
	p.lastRequest = time.Now()
	p.mu.Unlock()
	return nil
}
