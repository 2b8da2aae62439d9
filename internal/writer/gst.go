package writer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const srcName = "src"

// startSettle is how long a started pipeline is watched for an early bus error.
const startSettle = 300 * time.Millisecond

// eosTimeout bounds the wait for the muxer to finalize the file on Close.
const eosTimeout = 10 * time.Second

var gstInit sync.Once

// GstOpener opens encoder candidates as appsrc → encoder → filesink pipelines.
type GstOpener struct{}

// NewGstOpener creates an opener with fail-fast validation
//
// Returns an error if GStreamer is not available.
func NewGstOpener() (*GstOpener, error) {
	gstInit.Do(func() { gst.Init(nil) })

	elem, err := gst.NewElement("appsrc")
	if err != nil {
		return nil, fmt.Errorf("writer: GStreamer not available: %w", err)
	}
	elem.SetState(gst.StateNull)
	return &GstOpener{}, nil
}

// Open builds the candidate pipeline and starts it.
//
// The candidate is accepted when the description parses (every element is
// installed), the pipeline goes to PLAYING and the bus reports no error while
// it settles.
func (o *GstOpener) Open(ctx context.Context, c Candidate, path string, req Request) (Writer, error) {
	description := describe(c, path, req)

	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName(srcName)
	if err != nil || elem == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("appsrc %q not found in pipeline", srcName)
	}

	w := &gstWriter{
		pipeline: pipeline,
		src:      app.SrcFromElement(elem),
		width:    req.Width,
		height:   req.Height,
		frameDur: time.Duration(float64(time.Second) / req.FPS),
		path:     path,
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		w.destroy()
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	if err := w.settle(ctx); err != nil {
		w.destroy()
		return nil, err
	}

	slog.Debug("writer: pipeline started", "codec", c.Codec, "pipeline", description)
	return w, nil
}

// gstWriter implements Writer on top of an appsrc pipeline
type gstWriter struct {
	pipeline *gst.Pipeline
	src      *app.Source
	width    int
	height   int
	frameDur time.Duration
	path     string

	mu     sync.Mutex
	frames int64
	closed bool
}

func (w *gstWriter) settle(ctx context.Context) error {
	bus := w.pipeline.GetPipelineBus()
	deadline := time.Now().Add(startSettle)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		msg := bus.TimedPopFiltered(remaining, gst.MessageError)
		if msg == nil {
			continue
		}
		if gerr := msg.ParseError(); gerr != nil {
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		}
		return fmt.Errorf("pipeline error")
	}
}

// Write pushes one frame with a synthetic timestamp of frames*frameDur.
func (w *gstWriter) Write(img *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer: closed")
	}
	b := img.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return fmt.Errorf("writer: frame size %dx%d does not match output %dx%d", b.Dx(), b.Dy(), w.width, w.height)
	}

	buf := gst.NewBufferFromBytes(packed(img))
	buf.SetPresentationTimestamp(time.Duration(w.frames) * w.frameDur)
	buf.SetDuration(w.frameDur)

	if ret := w.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("writer: push buffer: flow %v", ret)
	}
	w.frames++
	return nil
}

// Close sends end of stream, waits for the muxer to finish the file and
// releases the pipeline. Idempotent.
func (w *gstWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.src.EndStream()

	var result error
	bus := w.pipeline.GetPipelineBus()
	msg := bus.TimedPopFiltered(eosTimeout, gst.MessageEOS|gst.MessageError)
	switch {
	case msg == nil:
		result = fmt.Errorf("writer: no end of stream within %s", eosTimeout)
	case msg.Type() == gst.MessageError:
		if gerr := msg.ParseError(); gerr != nil {
			result = fmt.Errorf("writer: finalize: %s", gerr.Error())
		} else {
			result = fmt.Errorf("writer: finalize failed")
		}
	}

	slog.Debug("writer: closed", "path", w.path, "frames", w.frames, "error", result)

	if err := w.destroy(); err != nil && result == nil {
		result = err
	}
	return result
}

func (w *gstWriter) destroy() error {
	if err := w.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// packed returns the pixel rows without stride padding.
func packed(img *image.RGBA) []byte {
	b := img.Bounds()
	rowLen := 4 * b.Dx()
	if img.Stride == rowLen && b.Min == (image.Point{}) {
		out := make([]byte, rowLen*b.Dy())
		copy(out, img.Pix)
		return out
	}
	out := make([]byte, 0, rowLen*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[off:off+rowLen]...)
	}
	return out
}
