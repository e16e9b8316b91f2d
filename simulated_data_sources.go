package livescope

import (
	"context"
	"fmt"
	"math"
	"time"
)

// FMSineSource synthesizes an FM-modulated sine wave: carrier 1 Hz,
// modulation 3 Hz, deviation 0.25 Hz, 1000 samples spanning [-2, 2] s.
// The values are chosen so consumers have something visibly moving to chew
// on at full speed.
//
// Fetch runs to completion without suspending, so Yields reports false and
// the loop compensates with an explicit scheduler yield. This is the
// canonical non-cooperative source.
type FMSineSource struct {
	start     time.Time
	t         []float64
	carrier   float64
	modFreq   float64
	deviation float64
}

// NewFMSineSource creates the demo source.
func NewFMSineSource() *FMSineSource {
	const n = 1000
	t := make([]float64, n)
	for i := range t {
		t[i] = -2 + 4*float64(i)/float64(n)
	}
	return &FMSineSource{
		start:     time.Now(),
		t:         t,
		carrier:   1,
		modFreq:   3,
		deviation: 0.25,
	}
}

// Fetch computes the waveform for the current wall-clock phase. It never
// blocks and never fails.
func (s *FMSineSource) Fetch(ctx context.Context) (Packet, error) {
	now := time.Since(s.start).Seconds()
	xm := math.Sin(2 * math.Pi * now * s.modFreq) // baseband signal
	v := make([]float64, len(s.t))
	for i, t := range s.t {
		v[i] = math.Sin(2 * math.Pi * (s.carrier + s.deviation*xm) * t)
	}
	dt := (s.t[1] - s.t[0]) * 2 * math.Pi
	return Packet{Chan: NoChannel, Wave: Waveform{Dt: dt, V: v}}, nil
}

// Yields reports false: Fetch is pure CPU work.
func (s *FMSineSource) Yields() bool { return false }

// Close is a no-op; there is no session.
func (s *FMSineSource) Close() error { return nil }

// TriangleSource synthesizes triangle waves at a fixed cycle rate, cycling
// over its channel tags the way an instrument source would. Fetch suspends
// until the next cycle is "acquired", so it is a cooperative source.
type TriangleSource struct {
	channels   []int
	next       int
	onecycle   []float64
	timeperbuf time.Duration
	lastread   time.Time
}

// NewTriangleSource creates a source producing one ncycle-sample triangle
// per channel per period of ncycle/sampleRate seconds.
func NewTriangleSource(channels []int, sampleRate float64, ncycle int) (*TriangleSource, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrConfiguration)
	}
	if sampleRate <= 0 || ncycle < 2 {
		return nil, fmt.Errorf("%w: need positive rate and ncycle >= 2", ErrConfiguration)
	}
	ts := &TriangleSource{
		channels: append([]int(nil), channels...),
		onecycle: make([]float64, ncycle),
	}
	half := ncycle / 2
	for i := 0; i < half; i++ {
		ts.onecycle[i] = float64(i) / float64(half)
		ts.onecycle[i+half] = 1 - float64(i)/float64(half)
	}
	ts.timeperbuf = time.Duration(float64(ncycle) / sampleRate * float64(time.Second))
	return ts, nil
}

// Fetch waits out the remainder of the current cycle, then returns a copy
// of it tagged with the next channel in the cycle.
func (ts *TriangleSource) Fetch(ctx context.Context) (Packet, error) {
	// One period covers a full sweep of all channels.
	if ts.next == 0 {
		nextread := ts.lastread.Add(ts.timeperbuf)
		if wait := time.Until(nextread); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return Packet{}, ctx.Err()
			case <-timer.C:
			}
		}
		ts.lastread = time.Now()
	}

	ch := ts.channels[ts.next]
	ts.next = (ts.next + 1) % len(ts.channels)

	datacopy := make([]float64, len(ts.onecycle))
	copy(datacopy, ts.onecycle)
	dt := ts.timeperbuf.Seconds() / float64(len(ts.onecycle))
	return Packet{Chan: ch, Wave: Waveform{Dt: dt, V: datacopy}}, nil
}

// Yields reports true: Fetch suspends on its cycle timer.
func (ts *TriangleSource) Yields() bool { return true }

// Close is a no-op; there is no session.
func (ts *TriangleSource) Close() error { return nil }
