package livescope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFIFORejectsNegativeCapacity(t *testing.T) {
	_, err := NewPacketFIFO(-1)
	assert.ErrorIs(t, err, ErrConfiguration)
}

// For any bound C > 0 the FIFO never holds more than C packets, no matter
// how producer and consumer interleave.
func TestFIFOBoundedOccupancy(t *testing.T) {
	for _, capacity := range []int{1, 2, 7} {
		f, err := NewPacketFIFO(capacity)
		if err != nil {
			t.Fatal(err)
		}

		const npackets = 200
		go func() {
			ctx := context.Background()
			for i := 0; i < npackets; i++ {
				f.Enqueue(ctx, Packet{Chan: i})
			}
			f.Close()
		}()

		received := 0
		for range f.Out() {
			if n := f.Len(); n > capacity {
				t.Errorf("capacity %d: FIFO held %d packets", capacity, n)
			}
			received++
			if received%13 == 0 {
				time.Sleep(time.Millisecond) // let the producer race ahead
			}
		}
		if received != npackets {
			t.Errorf("capacity %d: received %d packets, want %d", capacity, received, npackets)
		}
	}
}

// Dequeue order equals enqueue order for one producer and one consumer,
// bounded or not.
func TestFIFOOrder(t *testing.T) {
	for _, capacity := range []int{0, 1, 5} {
		f, err := NewPacketFIFO(capacity)
		if err != nil {
			t.Fatal(err)
		}
		const npackets = 500
		go func() {
			ctx := context.Background()
			for i := 0; i < npackets; i++ {
				f.Enqueue(ctx, Packet{Chan: i})
			}
			f.Close()
		}()

		want := 0
		for pkt := range f.Out() {
			if pkt.Chan != want {
				t.Fatalf("capacity %d: dequeued packet %d, want %d", capacity, pkt.Chan, want)
			}
			want++
		}
		if want != npackets {
			t.Errorf("capacity %d: drained %d packets, want %d", capacity, want, npackets)
		}
	}
}

func TestFIFOEnqueueCanceledWhileFull(t *testing.T) {
	f, err := NewPacketFIFO(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Enqueue(context.Background(), Packet{}); err != nil {
		t.Fatal(err)
	}

	// The FIFO is full and nobody consumes: the second enqueue must
	// suspend until the context is canceled, then return its error.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.Enqueue(ctx, Packet{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.Len())
}

func TestFIFODrainsAfterClose(t *testing.T) {
	f, err := NewPacketFIFO(10)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.Enqueue(ctx, Packet{Chan: i})
	}
	f.Close()

	for i := 0; i < 5; i++ {
		pkt, ok := f.Dequeue(ctx)
		if !ok || pkt.Chan != i {
			t.Fatalf("Dequeue %d = (%v, %t), want packet %d", i, pkt.Chan, ok, i)
		}
	}
	if _, ok := f.Dequeue(ctx); ok {
		t.Error("Dequeue after drain reported ok on a closed FIFO")
	}
}

func TestFIFOUnboundedNeverBlocksProducer(t *testing.T) {
	f, err := NewPacketFIFO(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			f.Enqueue(ctx, Packet{Chan: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unbounded enqueue blocked with no consumer")
	}
	f.Close()
	n := 0
	for range f.Out() {
		n++
	}
	assert.Equal(t, 1000, n)
}
