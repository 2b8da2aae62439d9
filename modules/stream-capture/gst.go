package streamcapture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-people-counter/modules/stream-capture/internal/gstpipe"
	"github.com/tinyzimmer/go-gst/gst"
)

// pullSlice bounds a single appsink pull so Read stays responsive to ctx.
const pullSlice = 100 * time.Millisecond

// recentFrames is the number of read timestamps kept for delivery stats.
const recentFrames = 120

var gstInit sync.Once

// GstOpener opens backend candidates as GStreamer pipelines terminated by an appsink.
type GstOpener struct{}

// NewGstOpener creates an opener with fail-fast validation
//
// Returns an error if GStreamer is not available.
func NewGstOpener() (*GstOpener, error) {
	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("stream-capture: GStreamer not available: %w", err)
	}
	return &GstOpener{}, nil
}

// Open builds the backend's pipeline and applies the open predicate:
//   - live sources must deliver a first frame within OpenTimeout
//   - file sources must preroll (or reach end of stream) within OpenTimeout
func (o *GstOpener) Open(ctx context.Context, backend Backend, src Source, opts Options) (Capture, error) {
	opts = opts.withDefaults()
	description := backend.Describe(src, opts)

	elements, err := gstpipe.CreatePipeline(description)
	if err != nil {
		return nil, err
	}

	c := &gstCapture{
		elements: elements,
		live:     src.Live,
		uri:      src.URI,
		opts:     opts,
		info: Info{
			Backend: backend.Name,
			Scheme:  SchemeOf(src.URI),
		},
		frameTimes: make([]time.Time, 0, recentFrames),
	}

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		c.destroy()
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	if src.Live {
		err = c.awaitFirstSample(ctx)
	} else {
		err = c.awaitPreroll()
	}
	if err != nil {
		c.destroy()
		return nil, err
	}

	c.started = time.Now()
	slog.Debug("stream-capture: capture ready",
		"backend", backend.Name,
		"uri", src.URI,
		"width", c.info.Width,
		"height", c.info.Height,
		"fps", c.info.FPS,
	)
	return c, nil
}

// gstCapture implements Capture on top of an appsink pipeline
type gstCapture struct {
	elements *gstpipe.Elements
	live     bool
	uri      string
	opts     Options

	mu         sync.RWMutex
	info       Info
	pending    *Frame // first frame pulled by the open predicate
	eos        bool
	frameTimes []time.Time
	started    time.Time

	seq       uint64
	bytesRead uint64

	closed atomic.Bool
}

func (c *gstCapture) awaitFirstSample(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.OpenTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample := c.elements.AppSink.TryPullSample(pullSlice)
		if sample != nil {
			frame, err := c.toFrame(sample)
			if err != nil {
				return err
			}
			c.pending = &frame
			return nil
		}
		if eos, err := gstpipe.PollBus(c.elements.Pipeline); err != nil {
			return err
		} else if eos {
			return fmt.Errorf("end of stream before first frame")
		}
	}
	return fmt.Errorf("no frame within %s", c.opts.OpenTimeout)
}

func (c *gstCapture) awaitPreroll() error {
	eos, err := gstpipe.WaitPreroll(c.elements.Pipeline, c.opts.OpenTimeout)
	if err != nil {
		return err
	}
	c.eos = eos

	if caps := c.sinkCaps(); caps.Width > 0 {
		c.info.Width, c.info.Height, c.info.FPS = caps.Width, caps.Height, caps.FPS
	}
	return nil
}

func (c *gstCapture) sinkCaps() gstpipe.CapsInfo {
	pad := c.elements.AppSink.GetStaticPad("sink")
	if pad == nil {
		return gstpipe.CapsInfo{}
	}
	return gstpipe.CapsFromCaps(pad.GetCurrentCaps())
}

// Read pulls the next frame from the appsink.
func (c *gstCapture) Read(ctx context.Context) (Frame, error) {
	if c.closed.Load() {
		return Frame{}, ErrClosed
	}

	c.mu.Lock()
	if c.pending != nil {
		frame := *c.pending
		c.pending = nil
		c.mu.Unlock()
		c.recordRead(frame)
		return frame, nil
	}
	eos := c.eos
	c.mu.Unlock()
	if eos {
		return Frame{}, io.EOF
	}

	deadline := time.Now().Add(c.opts.ReadTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		sample := c.elements.AppSink.TryPullSample(pullSlice)
		if sample != nil {
			frame, err := c.toFrame(sample)
			if err != nil {
				return Frame{}, fmt.Errorf("stream-capture: %w", err)
			}
			c.recordRead(frame)
			return frame, nil
		}

		if c.elements.AppSink.IsEOS() {
			return Frame{}, io.EOF
		}
		eos, err := gstpipe.PollBus(c.elements.Pipeline)
		if err != nil {
			return Frame{}, err
		}
		if eos {
			return Frame{}, io.EOF
		}

		if time.Now().After(deadline) {
			return Frame{}, ErrReadTimeout
		}
	}
}

func (c *gstCapture) toFrame(sample *gst.Sample) (Frame, error) {
	data, caps, err := gstpipe.CopySample(sample)
	if err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	if caps.Width > 0 && caps.Height > 0 {
		c.info.Width, c.info.Height = caps.Width, caps.Height
		if caps.FPS > 0 {
			c.info.FPS = caps.FPS
		}
	}
	width, height := c.info.Width, c.info.Height
	c.mu.Unlock()

	if width*height*4 != len(data) {
		return Frame{}, fmt.Errorf("unexpected buffer size %d for %dx%d RGBA", len(data), width, height)
	}

	return Frame{
		Seq:       atomic.AddUint64(&c.seq, 1),
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      data,
	}, nil
}

func (c *gstCapture) recordRead(frame Frame) {
	atomic.AddUint64(&c.bytesRead, uint64(len(frame.Data)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frameTimes) == recentFrames {
		copy(c.frameTimes, c.frameTimes[1:])
		c.frameTimes = c.frameTimes[:recentFrames-1]
	}
	c.frameTimes = append(c.frameTimes, frame.Timestamp)
}

// Info returns the negotiated source description.
func (c *gstCapture) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Stats returns delivery statistics
//
// Thread-safe - counters are atomic, timestamps are guarded by mu.
func (c *gstCapture) Stats() Stats {
	c.mu.RLock()
	times := append([]time.Time(nil), c.frameTimes...)
	started := c.started
	c.mu.RUnlock()

	stats := Stats{
		FramesRead: atomic.LoadUint64(&c.seq),
		BytesRead:  atomic.LoadUint64(&c.bytesRead),
	}
	if !started.IsZero() {
		stats.Uptime = time.Since(started)
	}
	if len(times) >= 2 {
		stats.Delivery = CalculateFPSStats(times, times[len(times)-1].Sub(times[0]))
	}
	return stats
}

// Close releases the pipeline
//
// Idempotent - safe to call multiple times.
func (c *gstCapture) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	stats := c.Stats()
	slog.Debug("stream-capture: closing capture",
		"uri", c.uri,
		"backend", c.info.Backend,
		"frames_read", stats.FramesRead,
		"uptime", stats.Uptime,
	)
	return c.destroy()
}

func (c *gstCapture) destroy() error {
	if err := gstpipe.DestroyPipeline(c.elements); err != nil {
		slog.Error("stream-capture: failed to destroy pipeline", "error", err)
		return err
	}
	return nil
}

// checkGStreamerAvailable checks if GStreamer is available
//
// This is a fail-fast validation that runs at construction time.
func checkGStreamerAvailable() error {
	gstInit.Do(func() { gst.Init(nil) })

	// Try to create a simple element to verify GStreamer is working
	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	return nil
}
