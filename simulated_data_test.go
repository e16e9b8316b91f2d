package livescope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFMSineSource(t *testing.T) {
	src := NewFMSineSource()
	assert.False(t, src.Yields(), "FM sine is the canonical non-cooperative source")

	pkt, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, NoChannel, pkt.Chan)
	assert.Len(t, pkt.Wave.V, 1000)
	assert.Positive(t, pkt.Wave.Dt)
	for i, v := range pkt.Wave.V {
		if v < -1 || v > 1 {
			t.Fatalf("sample %d = %g outside [-1, 1]", i, v)
		}
	}
	assert.NoError(t, src.Close())
}

func TestTriangleSourceShape(t *testing.T) {
	src, err := NewTriangleSource([]int{1}, 1e6, 20)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, src.Yields())

	pkt, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	v := pkt.Wave.V
	assert.Len(t, v, 20)
	assert.Equal(t, 0.0, v[0])
	assert.InDelta(t, 0.9, v[9], 1e-12) // rising edge peaks at the middle
	assert.InDelta(t, 1.0, v[10], 1e-12)
	assert.Greater(t, v[10], v[19], "second half must fall")
}

func TestTriangleSourcePacing(t *testing.T) {
	// 100 samples at 1 kHz: one full sweep per 100 ms.
	src, err := NewTriangleSource([]int{1}, 1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := src.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	t0 := time.Now()
	if _, err := src.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(t0); elapsed < 90*time.Millisecond {
		t.Errorf("second sweep fetched after %v, want about 100ms", elapsed)
	}
}

func TestTriangleSourceFetchCanceled(t *testing.T) {
	src, err := NewTriangleSource([]int{1}, 1, 100) // 100 s per sweep
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := src.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = src.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTriangleSourceConfig(t *testing.T) {
	_, err := NewTriangleSource(nil, 1000, 100)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewTriangleSource([]int{1}, 0, 100)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewTriangleSource([]int{1}, 1000, 1)
	assert.ErrorIs(t, err, ErrConfiguration)
}
