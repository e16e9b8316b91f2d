package elastic

import (
	"testing"
)

func TestQueueSumsAndOrder(t *testing.T) {
	q := NewQueue[int]()

	// Send all integers [0, 19], then close.
	max := 20
	go func() {
		ch := q.In()
		for i := range max {
			ch <- i
		}
		close(ch)
	}()

	// Receive everything; items must arrive in order and none may be lost.
	sum := 0
	prev := -1
	expect := (max * (max - 1)) / 2
	for d := range q.Out() {
		if d <= prev {
			t.Errorf("Queue delivered %d after %d, want ascending order", d, prev)
		}
		prev = d
		sum += d
	}
	if sum != expect {
		t.Errorf("Queue sum was %d, want %d", sum, expect)
	}
}

func TestQueueDrainsBacklogOnClose(t *testing.T) {
	q := NewQueue[string]()
	in := q.In()
	for i := range 50 {
		in <- string(rune('a' + i%26))
	}
	close(in)

	// Everything sent before the close must still come out.
	n := 0
	for range q.Out() {
		n++
	}
	if n != 50 {
		t.Errorf("drained %d items after close, want 50", n)
	}
}
