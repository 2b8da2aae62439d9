package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStride(t *testing.T) {
	tests := []struct {
		native, sample float64
		want           int
	}{
		{30, 5, 6},
		{25, 5, 5},
		{29.97, 5, 6},
		{24, 10, 2},
		{5, 30, 1},
		{0, 5, 1},
		{30, 0, 1},
		{-1, -1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Stride(tt.native, tt.sample), "native=%v sample=%v", tt.native, tt.sample)
	}
}

func analyzedIndexes(s Sampler, n int, at func(i int) time.Time) []int {
	var out []int
	for i := 1; i <= n; i++ {
		if s.Sample(i, at(i)) {
			out = append(out, i)
		}
	}
	return out
}

func TestStrideSampler(t *testing.T) {
	epoch := time.Unix(0, 0)
	at := func(int) time.Time { return epoch }

	assert.Equal(t, []int{6, 12}, analyzedIndexes(NewSampler(false, 30, 5), 13, at))
	assert.Equal(t, []int{1, 2, 3, 4}, analyzedIndexes(NewSampler(false, 0, 5), 4, at), "unknown native rate")
}

func TestIntervalSampler(t *testing.T) {
	epoch := time.Unix(1_700_000_000, 0)
	every := func(d time.Duration) func(int) time.Time {
		return func(i int) time.Time { return epoch.Add(time.Duration(i) * d) }
	}

	// 100ms frames sampled at 2 fps: one analysis per 500ms
	got := analyzedIndexes(NewSampler(true, 0, 2), 20, every(100*time.Millisecond))
	assert.Equal(t, []int{1, 6, 11, 16}, got)

	// Zero rate analyzes every frame
	got = analyzedIndexes(NewSampler(true, 25, 0), 5, every(time.Millisecond))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)

	// Native rate is ignored for live sources
	got = analyzedIndexes(NewSampler(true, 1000, 1), 30, every(100*time.Millisecond))
	assert.Equal(t, []int{1, 11, 21}, got)
}

func TestIntervalSampler_StalledSourceNoBurst(t *testing.T) {
	epoch := time.Unix(1_700_000_000, 0)
	s := NewSampler(true, 0, 1)

	assert.True(t, s.Sample(1, epoch))
	// A 10s stall does not bank analyses
	assert.True(t, s.Sample(2, epoch.Add(10*time.Second)))
	assert.False(t, s.Sample(3, epoch.Add(10*time.Second+10*time.Millisecond)))
}
