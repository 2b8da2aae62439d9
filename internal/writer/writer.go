// Package writer negotiates the annotated output video of file-backed jobs.
//
// Encoders are tried in a fixed order from a declarative candidate table; the
// first one whose pipeline starts cleanly is kept. A job whose candidates all
// fail simply has no downloadable artifact.
package writer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultFPS is the output rate when neither the source nor the sampling rate is known.
const DefaultFPS = 25.0

// ErrNoCandidate is returned when every encoder candidate failed to open.
var ErrNoCandidate = errors.New("writer: no encoder candidate available")

// Candidate is one row of the encoder table
type Candidate struct {
	// Ext is the container extension including the dot
	Ext string
	// Codec is the encoder element name
	Codec string
	// MediaType is advertised on download
	MediaType string
	// Chain is the encoder and muxer fragment placed between videoconvert and filesink
	Chain string
}

// Candidates is the encoder preference order: H.264 first for browser
// playback, then VP8/WebM, then MJPEG/AVI which every GStreamer install has.
var Candidates = []Candidate{
	{Ext: ".mp4", Codec: "x264enc", MediaType: "video/mp4", Chain: "x264enc tune=zerolatency speed-preset=veryfast ! video/x-h264,profile=baseline ! mp4mux"},
	{Ext: ".mp4", Codec: "openh264enc", MediaType: "video/mp4", Chain: "openh264enc ! h264parse ! mp4mux"},
	{Ext: ".webm", Codec: "vp8enc", MediaType: "video/webm", Chain: "vp8enc deadline=1 ! webmmux"},
	{Ext: ".avi", Codec: "jpegenc", MediaType: "video/x-msvideo", Chain: "jpegenc ! avimux"},
}

// Request describes the output of one job
type Request struct {
	// Dir is where the artifact is created
	Dir    string
	JobID  string
	Width  int
	Height int
	FPS    float64
}

// Artifact is the negotiated output file
type Artifact struct {
	Path      string
	MediaType string
	Filename  string
	Codec     string
}

// Writer encodes annotated frames into the artifact.
type Writer interface {
	// Write encodes one frame; img must match the negotiated size.
	Write(img *image.RGBA) error
	// Close finalizes the file (end of stream, flush) and releases the encoder.
	Close() error
}

// Opener opens one encoder candidate for writing to path.
type Opener interface {
	Open(ctx context.Context, c Candidate, path string, req Request) (Writer, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, c Candidate, path string, req Request) (Writer, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, c Candidate, path string, req Request) (Writer, error) {
	return f(ctx, c, path, req)
}

// OutputFPS picks the output rate: native, else sampling rate, else DefaultFPS.
func OutputFPS(native, sample float64) float64 {
	switch {
	case native > 0:
		return native
	case sample > 0:
		return sample
	default:
		return DefaultFPS
	}
}

// Negotiate tries each candidate in order and returns the first writer that opens.
//
// Partial files of failed candidates are removed. Returns ErrNoCandidate
// (joined with every attempt error) when none opens.
func Negotiate(ctx context.Context, opener Opener, req Request) (Writer, Artifact, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, Artifact{}, fmt.Errorf("writer: invalid frame size %dx%d", req.Width, req.Height)
	}
	if req.FPS <= 0 {
		req.FPS = DefaultFPS
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return nil, Artifact{}, fmt.Errorf("writer: create output dir: %w", err)
	}

	var attempts []error
	for _, c := range Candidates {
		if err := ctx.Err(); err != nil {
			return nil, Artifact{}, err
		}

		filename := req.JobID + c.Ext
		path := filepath.Join(req.Dir, filename)

		start := time.Now()
		w, err := opener.Open(ctx, c, path, req)
		if err != nil {
			os.Remove(path)
			slog.Debug("writer: candidate failed",
				"job_id", req.JobID,
				"codec", c.Codec,
				"error", err,
				"duration", time.Since(start),
			)
			attempts = append(attempts, fmt.Errorf("%s: %w", c.Codec, err))
			continue
		}

		slog.Info("writer: output negotiated",
			"job_id", req.JobID,
			"codec", c.Codec,
			"path", path,
			"width", req.Width,
			"height", req.Height,
			"fps", req.FPS,
		)
		return w, Artifact{Path: path, MediaType: c.MediaType, Filename: filename, Codec: c.Codec}, nil
	}

	return nil, Artifact{}, errors.Join(append([]error{ErrNoCandidate}, attempts...)...)
}

// framerate renders fps as a GStreamer fraction with millihertz precision.
func framerate(fps float64) string {
	n := int(fps*1000 + 0.5)
	if n <= 0 {
		n = int(DefaultFPS * 1000)
	}
	d := 1000
	g := gcd(n, d)
	return fmt.Sprintf("%d/%d", n/g, d/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// describe builds the appsrc pipeline of a candidate.
func describe(c Candidate, path string, req Request) string {
	return strings.Join([]string{
		fmt.Sprintf("appsrc name=%s format=time is-live=false block=true caps=video/x-raw,format=RGBA,width=%d,height=%d,framerate=%s",
			srcName, req.Width, req.Height, framerate(req.FPS)),
		"videoconvert",
		c.Chain,
		"filesink location=" + quote(path),
	}, " ! ")
}
