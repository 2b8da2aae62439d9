package engine

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Sampler decides which frames receive an analysis pass.
type Sampler interface {
	// Sample reports whether the frame with 1-based index, read at now, is analyzed.
	Sample(index int, now time.Time) bool
}

// NewSampler returns the stride policy for file sources and the interval
// policy for live sources.
func NewSampler(live bool, nativeFPS, sampleFPS float64) Sampler {
	if live {
		return newIntervalSampler(sampleFPS)
	}
	return strideSampler{stride: Stride(nativeFPS, sampleFPS)}
}

// Stride is the file-source frame step: round(native/sample), at least 1.
// Unknown rates (<= 0) analyze every frame.
func Stride(nativeFPS, sampleFPS float64) int {
	if nativeFPS <= 0 || sampleFPS <= 0 {
		return 1
	}
	stride := int(math.Round(nativeFPS / sampleFPS))
	if stride < 1 {
		return 1
	}
	return stride
}

// strideSampler analyzes every stride-th frame: stride, 2*stride, ...
type strideSampler struct {
	stride int
}

func (s strideSampler) Sample(index int, _ time.Time) bool {
	return index%s.stride == 0
}

// intervalSampler analyzes a frame when at least 1/sampleFPS elapsed since the
// last analyzed one. A burst-1 token bucket is exactly that rule.
type intervalSampler struct {
	limiter *rate.Limiter
}

func newIntervalSampler(sampleFPS float64) intervalSampler {
	if sampleFPS <= 0 {
		return intervalSampler{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return intervalSampler{limiter: rate.NewLimiter(rate.Limit(sampleFPS), 1)}
}

func (s intervalSampler) Sample(_ int, now time.Time) bool {
	return s.limiter.AllowN(now, 1)
}
