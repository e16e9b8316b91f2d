package livescope

import (
	"context"
	"sync/atomic"
	"time"
)

// Rate is one throughput observation from a RateReporter.
type Rate struct {
	Name      string        // loop name
	Count     int64         // packets produced since the previous report
	Interval  time.Duration // elapsed wall-clock time
	PerSecond float64
}

// RateReporter measures packets-per-second on a fixed wall-clock interval
// and hands each observation to a sink, off the data path. The producer
// only touches an atomic counter, so reporting can never delay acquisition,
// and a misbehaving sink cannot take the pipeline down with it.
type RateReporter struct {
	name     string
	interval time.Duration
	sink     func(Rate)
	count    atomic.Int64
}

// NewRateReporter creates a reporter. A nil sink logs observations to the
// ProblemLogger; an interval of 0 or less selects one second.
func NewRateReporter(name string, interval time.Duration, sink func(Rate)) *RateReporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &RateReporter{name: name, interval: interval, sink: sink}
}

// Add records n produced packets.
func (r *RateReporter) Add(n int) {
	r.count.Add(int64(n))
}

// Run emits reports until ctx is canceled. Intervals with no packets are
// skipped. Run is a long-running goroutine owned by the loop.
func (r *RateReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n := r.count.Swap(0)
			elapsed := now.Sub(last)
			last = now
			if n == 0 || elapsed <= 0 {
				continue
			}
			r.emit(Rate{
				Name:      r.name,
				Count:     n,
				Interval:  elapsed,
				PerSecond: float64(n) / elapsed.Seconds(),
			})
		}
	}
}

// emit isolates the pipeline from sink panics.
func (r *RateReporter) emit(rate Rate) {
	defer func() {
		if p := recover(); p != nil {
			ProblemLogger.Printf("%s rate sink panicked: %v", r.name, p)
		}
	}()
	if r.sink == nil {
		ProblemLogger.Printf("%s: %.1f packets/s", rate.Name, rate.PerSecond)
		return
	}
	r.sink(rate)
}
