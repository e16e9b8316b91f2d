package livescope

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateReporterObservations(t *testing.T) {
	var mu sync.Mutex
	var got []Rate
	r := NewRateReporter("test", 10*time.Millisecond, func(rate Rate) {
		mu.Lock()
		got = append(got, rate)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	r.Add(3)
	r.Add(2)
	time.Sleep(35 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("no rate observations emitted")
	}
	var total int64
	for _, rate := range got {
		assert.Equal(t, "test", rate.Name)
		assert.Positive(t, rate.PerSecond)
		total += rate.Count
	}
	assert.EqualValues(t, 5, total, "every Add must be counted exactly once")
}

func TestRateReporterSkipsIdleIntervals(t *testing.T) {
	emitted := make(chan Rate, 16)
	r := NewRateReporter("idle", 5*time.Millisecond, func(rate Rate) { emitted <- rate })

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case rate := <-emitted:
		t.Errorf("idle reporter emitted %+v", rate)
	default:
	}
}

// A sink that panics must not take the reporter (or anything else) down.
func TestRateReporterSurvivesSinkPanic(t *testing.T) {
	calls := make(chan struct{}, 16)
	r := NewRateReporter("panicky", 5*time.Millisecond, func(rate Rate) {
		calls <- struct{}{}
		panic("sink exploded")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Add(1)
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("sink never called")
	}

	// The reporter must still be alive and report again.
	r.Add(1)
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("reporter died after sink panic")
	}
}

func TestRateReporterDefaults(t *testing.T) {
	r := NewRateReporter("d", 0, nil)
	assert.Equal(t, time.Second, r.interval)
}
