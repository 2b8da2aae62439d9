package gstpipe

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// SinkName is the name given to the appsink terminating every capture pipeline.
const SinkName = "sink"

// Elements holds references to the pipeline and its appsink
type Elements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// Quote escapes a value for use inside a gst-launch style description.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// FileURI converts a local path into an absolute file:// URI.
// Values that already carry a scheme are returned unchanged.
func FileURI(path string) string {
	if u, err := url.Parse(path); err == nil && len(u.Scheme) > 1 {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// SinkTail returns the conversion chain and appsink every capture pipeline ends with.
//
// Frames are delivered as packed RGBA so the row stride is always 4*width.
// Live sinks keep only the latest buffer (drop=true) so a slow consumer never
// stalls the network source; file sinks apply backpressure instead so no frame
// is lost.
func SinkTail(live bool) string {
	if live {
		return fmt.Sprintf(
			"videoconvert ! videoscale ! video/x-raw,format=RGBA ! appsink name=%s sync=false max-buffers=1 drop=true",
			SinkName,
		)
	}
	return fmt.Sprintf(
		"videoconvert ! videoscale ! video/x-raw,format=RGBA ! appsink name=%s sync=false max-buffers=2 drop=false",
		SinkName,
	)
}

// FileDecodebin builds: filesrc → decodebin → sink tail
func FileDecodebin(path string) string {
	return fmt.Sprintf("filesrc location=%s ! decodebin ! %s", Quote(path), SinkTail(false))
}

// URIDecodebin builds: uridecodebin (video only) → sink tail
func URIDecodebin(uri string, live bool) string {
	return fmt.Sprintf(
		"uridecodebin uri=%s expose-all-streams=false caps=video/x-raw ! %s",
		Quote(uri), SinkTail(live),
	)
}

// RTSP builds: rtspsrc (TCP only) → decodebin → sink tail
//
// protocols=tcp avoids UDP packet loss behind NAT, tcp-timeout turns a stalled
// connection into a bus error instead of an indefinite wait.
func RTSP(location string, stallTimeout time.Duration) string {
	return fmt.Sprintf(
		"rtspsrc location=%s protocols=tcp tcp-timeout=%d latency=200 ntp-sync=false ! decodebin ! %s",
		Quote(location), stallTimeout.Microseconds(), SinkTail(true),
	)
}

// SoupHTTP builds: souphttpsrc → decodebin → sink tail
func SoupHTTP(location string, timeout time.Duration) string {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf(
		"souphttpsrc location=%s is-live=true timeout=%d ! decodebin ! %s",
		Quote(location), secs, SinkTail(true),
	)
}

// URISourceBin builds: urisourcebin → decodebin → sink tail
func URISourceBin(uri string) string {
	return fmt.Sprintf("urisourcebin uri=%s ! decodebin ! %s", Quote(uri), SinkTail(true))
}

// Playbin builds a playbin whose video sink is the capture tail.
//
// This is the "let GStreamer choose everything" attempt: no source, demuxer or
// decoder is requested explicitly. Audio goes to a fakesink.
func Playbin(uri string, live bool) string {
	return fmt.Sprintf(
		"playbin uri=%s audio-sink=fakesink video-sink=%s",
		Quote(uri), Quote(SinkTail(live)),
	)
}

// CreatePipeline parses a description and resolves its appsink
//
// The pipeline is configured but NOT started (state remains NULL).
func CreatePipeline(description string) (*Elements, error) {
	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName(SinkName)
	if err != nil || elem == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("appsink %q not found in pipeline", SinkName)
	}

	slog.Debug("stream-capture: pipeline created", "pipeline", description)

	return &Elements{
		Pipeline: pipeline,
		AppSink:  app.SinkFromElement(elem),
	}, nil
}

// DestroyPipeline cleans up GStreamer pipeline resources
//
// Sets pipeline state to NULL and releases all resources.
// Safe to call even if pipeline is already destroyed.
func DestroyPipeline(elements *Elements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}

	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}

	return nil
}
