package livescope

import (
	"context"
	"fmt"

	"github.com/datacq/livescope/internal/elastic"
)

// PacketFIFO is the ordered buffer between an acquisition loop and its
// consumer. With capacity C > 0 it is a plain buffered channel: Enqueue
// suspends the producer while C packets are waiting, which is the pipeline's
// only backpressure mechanism. With capacity 0 it is unbounded and Enqueue
// never suspends; see AcquisitionLoop for the yield obligation that imposes.
//
// A PacketFIFO must not be shared between loops. Within one producer and one
// consumer, dequeue order equals enqueue order.
type PacketFIFO struct {
	capacity int
	bounded  chan Packet
	grow     *elastic.Queue[Packet]
}

// NewPacketFIFO creates a FIFO with the given capacity. Capacity 0 means
// unbounded; negative capacities are a configuration error.
func NewPacketFIFO(capacity int) (*PacketFIFO, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: negative FIFO capacity %d", ErrConfiguration, capacity)
	}
	f := &PacketFIFO{capacity: capacity}
	if capacity == 0 {
		f.grow = elastic.NewQueue[Packet]()
	} else {
		f.bounded = make(chan Packet, capacity)
	}
	return f, nil
}

// Capacity returns the configured bound, 0 for unbounded.
func (f *PacketFIFO) Capacity() int {
	return f.capacity
}

// Len reports how many packets are waiting.
func (f *PacketFIFO) Len() int {
	if f.grow != nil {
		return f.grow.Len()
	}
	return len(f.bounded)
}

// Enqueue appends a packet, suspending while the FIFO is full. It returns
// early with the context's error if ctx is canceled during the wait.
func (f *PacketFIFO) Enqueue(ctx context.Context, p Packet) error {
	var in chan<- Packet
	if f.grow != nil {
		in = f.grow.In()
	} else {
		in = f.bounded
	}
	select {
	case in <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Out returns the receive end of the FIFO for channel-style consumers.
// It is closed once Close has been called and all packets are delivered.
func (f *PacketFIFO) Out() <-chan Packet {
	if f.grow != nil {
		return f.grow.Out()
	}
	return f.bounded
}

// Dequeue removes and returns the oldest packet, suspending while the FIFO
// is empty. ok is false once the FIFO is closed and drained, or when ctx is
// canceled first.
func (f *PacketFIFO) Dequeue(ctx context.Context) (p Packet, ok bool) {
	select {
	case p, ok = <-f.Out():
		return p, ok
	case <-ctx.Done():
		return Packet{}, false
	}
}

// Close ends the producer side. Packets already enqueued remain available
// to the consumer; Out() is closed after the last one is delivered.
// Close must be called exactly once, by the producer.
func (f *PacketFIFO) Close() {
	if f.grow != nil {
		close(f.grow.In())
		return
	}
	close(f.bounded)
}
