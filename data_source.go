package livescope

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DataSource is the interface for instruments or simulated generators that
// produce packets one fetch at a time.
//
// Sources that cover several instrument channels cycle through them
// internally, returning one tagged packet per Fetch in channel order.
type DataSource interface {
	// Fetch obtains the next packet. It may suspend (on I/O, or on a
	// pacing wait) and must return promptly with ctx.Err() once ctx is
	// canceled. Any other error is fatal to the loop that owns the source.
	Fetch(ctx context.Context) (Packet, error)

	// Yields reports whether Fetch reliably suspends on its own. When it
	// returns false the loop inserts an explicit scheduler yield after
	// every fetch, because with an unbounded FIFO nothing else would ever
	// cede control. A source that busy-computes without yielding and still
	// reports true here starves every goroutine sharing its thread; that
	// is the source author's obligation, not the loop's.
	Yields() bool

	// Close releases the device session. Called once by the loop when it
	// stops for any reason.
	Close() error
}

// LoopState describes where an AcquisitionLoop is in its lifecycle.
type LoopState int

const (
	Idle    LoopState = iota // constructed, not yet started
	Running                  // producing packets
	Stopped                  // terminal; stopped or failed
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	return fmt.Sprintf("LoopState(%d)", int(s))
}

// LoopConfig configures an AcquisitionLoop.
type LoopConfig struct {
	Name           string        // identifies the loop in reports; default "source"
	Capacity       int           // FIFO bound; 0 = unbounded
	AddTimestamp   bool          // stamp each packet at enqueue time
	ReportInterval time.Duration // rate report cadence; 0 disables reporting
	RateSink       func(Rate)    // side channel for reports; nil logs them
}

// AcquisitionLoop repeatedly invokes a DataSource and pushes the resulting
// packets into its FIFO, decoupling the acquisition rate from the rate of
// whoever drains the FIFO. Each loop exclusively owns its source and FIFO;
// loops never share either, so independent loops need no locking between
// them.
//
// Lifecycle is Idle → Running → Stopped, with Stopped terminal. A fetch
// error stops the loop and is available from Err once Done is closed.
type AcquisitionLoop struct {
	source   DataSource
	fifo     *PacketFIFO
	name     string
	id       ulid.ULID
	stamp    bool
	reporter *RateReporter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state LoopState
	err   error
}

// NewAcquisitionLoop builds a loop around src. Configuration problems
// (negative capacity) surface here, never during a run.
func NewAcquisitionLoop(src DataSource, cfg LoopConfig) (*AcquisitionLoop, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil data source", ErrConfiguration)
	}
	fifo, err := NewPacketFIFO(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "source"
	}
	al := &AcquisitionLoop{
		source: src,
		fifo:   fifo,
		name:   name,
		id:     ulid.Make(),
		stamp:  cfg.AddTimestamp,
		done:   make(chan struct{}),
	}
	if cfg.ReportInterval > 0 {
		al.reporter = NewRateReporter(name, cfg.ReportInterval, cfg.RateSink)
	}
	return al, nil
}

// Name returns the loop's report name.
func (al *AcquisitionLoop) Name() string { return al.name }

// ID returns the loop's session ULID.
func (al *AcquisitionLoop) ID() ulid.ULID { return al.id }

// Output returns the FIFO the loop fills. The consumer owns each packet
// after dequeue. Out() is closed once the loop has stopped, after any
// remaining packets have been drained.
func (al *AcquisitionLoop) Output() *PacketFIFO { return al.fifo }

// State returns the current lifecycle state.
func (al *AcquisitionLoop) State() LoopState {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.state
}

// Running reports whether the loop is actively producing.
func (al *AcquisitionLoop) Running() bool { return al.State() == Running }

// Done is closed when the loop has fully stopped and its session is closed.
func (al *AcquisitionLoop) Done() <-chan struct{} { return al.done }

// Err returns the fatal error that stopped the loop, or nil after a clean
// Stop. Meaningful once Done is closed.
func (al *AcquisitionLoop) Err() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.err
}

// Start transitions Idle → Running and begins producing. Starting a loop
// twice, or after it stopped, is an error.
func (al *AcquisitionLoop) Start() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.state != Idle {
		return fmt.Errorf("cannot start %s loop from state %s", al.name, al.state)
	}
	al.state = Running
	al.ctx, al.cancel = context.WithCancel(context.Background())
	if al.reporter != nil {
		go al.reporter.Run(al.ctx)
	}
	go al.produce()
	return nil
}

// Stop requests Running → Stopped. The request is observed at the top of
// the next iteration, or immediately at any suspension point (pacing wait,
// blocked enqueue, in-flight I/O honoring ctx). Stop waits for the loop to
// finish; no packet is enqueued afterward, the session is closed, and the
// FIFO keeps whatever it held for the consumer to drain.
func (al *AcquisitionLoop) Stop() error {
	al.mu.Lock()
	switch al.state {
	case Idle:
		al.state = Stopped
		al.fifo.Close()
		close(al.done)
		al.mu.Unlock()
		return al.source.Close()
	case Stopped:
		al.mu.Unlock()
		return nil
	}
	al.mu.Unlock()

	al.cancel()
	<-al.done
	return nil
}

func (al *AcquisitionLoop) setErr(err error) {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.err == nil {
		al.err = err
	}
}

// produce is the acquisition goroutine: fetch, stamp, enqueue, repeat.
func (al *AcquisitionLoop) produce() {
	defer func() {
		al.source.Close()
		al.fifo.Close()
		al.cancel()
		al.mu.Lock()
		al.state = Stopped
		al.mu.Unlock()
		close(al.done)
	}()

	for {
		select {
		case <-al.ctx.Done():
			return
		default:
		}

		pkt, err := al.source.Fetch(al.ctx)
		if err != nil {
			if al.ctx.Err() != nil {
				// Stop was observed inside the fetch (pacing wait or I/O).
				return
			}
			if !errors.Is(err, ErrConnection) && !errors.Is(err, ErrAcquisition) {
				err = fmt.Errorf("%w: %s: %v", ErrAcquisition, al.name, err)
			}
			ProblemLogger.Printf("%s loop stopping: %v", al.name, err)
			al.setErr(err)
			return
		}

		if !al.source.Yields() {
			// A non-cooperative fetch plus an unbounded (never-suspending)
			// enqueue would otherwise starve every other goroutine on this
			// thread.
			runtime.Gosched()
		}

		if al.stamp {
			pkt.Time = time.Now()
		}
		if err := al.fifo.Enqueue(al.ctx, pkt); err != nil {
			// Canceled while suspended on a full FIFO.
			return
		}
		if al.reporter != nil {
			al.reporter.Add(1)
		}
	}
}

// Consume runs fn over every packet the loop produces, in FIFO order, until
// the loop stops and the FIFO drains. It is a convenience for owners that
// want a callback instead of ranging over Output().Out() themselves.
func (al *AcquisitionLoop) Consume(fn func(Packet)) {
	for pkt := range al.fifo.Out() {
		fn(pkt)
	}
}
