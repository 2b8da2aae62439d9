package streamcapture

import (
	"image"
	"time"
)

// Default timeouts applied when Options leaves them unset.
const (
	DefaultOpenTimeout = 5 * time.Second
	DefaultReadTimeout = 5 * time.Second
)

// Frame represents a single decoded video frame
type Frame struct {
	// Seq is the 1-based index of the frame within the capture session
	Seq uint64
	// Timestamp is when the frame was pulled from the pipeline
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains packed RGBA pixels (stride = 4*Width)
	Data []byte
}

// Image wraps the frame data as an *image.RGBA without copying.
func (f Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Data,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Source describes what to open
type Source struct {
	// URI is a local path (file sources) or a network URL (live sources)
	URI string
	// Live distinguishes network streams from file-backed sources
	Live bool
}

// Options configures acquisition timeouts
type Options struct {
	// OpenTimeout bounds each backend attempt
	OpenTimeout time.Duration
	// ReadTimeout bounds a single Read and, for RTSP, the TCP stall timeout
	ReadTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Info describes an open capture
type Info struct {
	// Backend is the candidate that opened the source
	Backend string
	// Scheme is the URL scheme of the source ("file" for local paths)
	Scheme string
	// Width in pixels (0 if not yet negotiated)
	Width int
	// Height in pixels (0 if not yet negotiated)
	Height int
	// FPS is the native frame rate advertised by the source (0 if unknown or variable)
	FPS float64
}

// FrameDuration returns the nominal interval between frames, or 0 when FPS is unknown.
func (i Info) FrameDuration() time.Duration {
	if i.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / i.FPS)
}

// Stats contains delivery statistics for an open capture
type Stats struct {
	// FramesRead is the number of frames returned by Read
	FramesRead uint64
	// BytesRead is the total number of pixel bytes returned by Read
	BytesRead uint64
	// Uptime is the time since the capture was opened
	Uptime time.Duration
	// Delivery holds FPS and jitter measured over recent read timestamps
	Delivery *FPSStats
}

// FPSStats contains frame-rate statistics computed from frame timestamps
type FPSStats struct {
	// FramesReceived is the number of timestamps analysed
	FramesReceived int
	// Duration is the window the timestamps were collected over
	Duration time.Duration
	// FPSMean is the mean FPS across all frames
	FPSMean float64
	// FPSStdDev is the standard deviation of instantaneous FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// IsStable is true if stddev < 15% of mean and jitter < 20% of the interval
	IsStable bool
	// JitterMean is the mean deviation from the expected interval (seconds)
	JitterMean float64
	// JitterStdDev is the standard deviation of jitter (seconds)
	JitterStdDev float64
	// JitterMax is the largest observed jitter (seconds)
	JitterMax float64
}
