package streamcapture_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	streamcapture "github.com/e7canasta/orion-people-counter/modules/stream-capture"
)

// fakeCapture is a scripted Capture used to exercise Acquire without GStreamer
type fakeCapture struct {
	backend string
	frames  int

	mu     sync.Mutex
	read   int
	closed bool
}

func (f *fakeCapture) Read(ctx context.Context) (streamcapture.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return streamcapture.Frame{}, streamcapture.ErrClosed
	}
	if f.read >= f.frames {
		return streamcapture.Frame{}, io.EOF
	}
	f.read++
	return streamcapture.Frame{Seq: uint64(f.read), Width: 2, Height: 1, Data: make([]byte, 8)}, nil
}

func (f *fakeCapture) Info() streamcapture.Info {
	return streamcapture.Info{Backend: f.backend, Width: 2, Height: 1, FPS: 25}
}

func (f *fakeCapture) Stats() streamcapture.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return streamcapture.Stats{FramesRead: uint64(f.read)}
}

func (f *fakeCapture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// scriptedOpener fails every backend except the ones listed in succeed
func scriptedOpener(succeed map[string]bool, tried *[]string) streamcapture.OpenerFunc {
	return func(ctx context.Context, b streamcapture.Backend, src streamcapture.Source, opts streamcapture.Options) (streamcapture.Capture, error) {
		*tried = append(*tried, b.Name)
		if succeed[b.Name] {
			return &fakeCapture{backend: b.Name, frames: 3}, nil
		}
		return nil, fmt.Errorf("%s refused", b.Name)
	}
}

func backendNames(bs []streamcapture.Backend) []string {
	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = b.Name
	}
	return names
}

func TestCandidates_Order(t *testing.T) {
	tests := []struct {
		name string
		src  streamcapture.Source
		want []string
	}{
		{"file path", streamcapture.Source{URI: "/tmp/video.mp4"}, []string{"decodebin", "uridecodebin", "generic"}},
		{"file uri", streamcapture.Source{URI: "file:///tmp/video.mp4"}, []string{"decodebin", "uridecodebin", "generic"}},
		{"http file", streamcapture.Source{URI: "https://cdn.example.com/v.mp4"}, []string{"uridecodebin", "generic"}},
		{"rtsp", streamcapture.Source{URI: "rtsp://cam/stream", Live: true}, []string{"rtspsrc", "urisourcebin", "uridecodebin", "generic"}},
		{"rtsps", streamcapture.Source{URI: "RTSPS://cam/stream", Live: true}, []string{"rtspsrc", "urisourcebin", "uridecodebin", "generic"}},
		{"http live", streamcapture.Source{URI: "http://cam/mjpeg", Live: true}, []string{"souphttpsrc", "urisourcebin", "uridecodebin", "generic"}},
		{"udp live", streamcapture.Source{URI: "udp://0.0.0.0:5000", Live: true}, []string{"urisourcebin", "uridecodebin", "generic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backendNames(streamcapture.Candidates(tt.src))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Candidates() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCandidates_DescribeEndsWithAppsink(t *testing.T) {
	sources := []streamcapture.Source{
		{URI: "/tmp/video.mp4"},
		{URI: "rtsp://cam/stream", Live: true},
		{URI: "http://cam/mjpeg", Live: true},
	}
	for _, src := range sources {
		for _, b := range streamcapture.Candidates(src) {
			desc := b.Describe(src, streamcapture.Options{})
			if !strings.Contains(desc, "appsink name=sink") {
				t.Errorf("%s description for %q has no appsink: %s", b.Name, src.URI, desc)
			}
			if !strings.Contains(desc, "format=RGBA") {
				t.Errorf("%s description for %q does not force RGBA: %s", b.Name, src.URI, desc)
			}
		}
	}
}

func TestSchemeOf(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"/var/videos/a.mp4", "file"},
		{"relative/a.mp4", "file"},
		{"C:\\videos\\a.mp4", "file"},
		{"file:///tmp/a.mp4", "file"},
		{"RTSP://cam/stream", "rtsp"},
		{"https://example.com/live.m3u8", "https"},
	}
	for _, tt := range tests {
		if got := streamcapture.SchemeOf(tt.uri); got != tt.want {
			t.Errorf("SchemeOf(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestAcquire_FallsBackToNextCandidate(t *testing.T) {
	var tried []string
	opener := scriptedOpener(map[string]bool{"uridecodebin": true}, &tried)

	src := streamcapture.Source{URI: "rtsp://cam/stream", Live: true}
	capture, err := streamcapture.Acquire(context.Background(), opener, src, streamcapture.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer capture.Close()

	if got := capture.Info().Backend; got != "uridecodebin" {
		t.Errorf("opened backend = %q, want uridecodebin", got)
	}
	want := "rtspsrc,urisourcebin,uridecodebin"
	if strings.Join(tried, ",") != want {
		t.Errorf("tried = %v, want %s", tried, want)
	}
}

func TestAcquire_GenericIsLastResort(t *testing.T) {
	var tried []string
	opener := scriptedOpener(map[string]bool{"generic": true}, &tried)

	capture, err := streamcapture.Acquire(context.Background(), opener, streamcapture.Source{URI: "/tmp/a.mp4"}, streamcapture.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer capture.Close()

	if len(tried) != 3 || tried[2] != "generic" {
		t.Errorf("tried = %v, want generic as third attempt", tried)
	}
}

func TestAcquire_AllCandidatesFail(t *testing.T) {
	t.Run("live includes scheme", func(t *testing.T) {
		var tried []string
		opener := scriptedOpener(nil, &tried)
		src := streamcapture.Source{URI: "rtsp://cam/stream", Live: true}

		_, err := streamcapture.Acquire(context.Background(), opener, src, streamcapture.Options{})
		var acqErr *streamcapture.AcquireError
		if !errors.As(err, &acqErr) {
			t.Fatalf("error = %v, want *AcquireError", err)
		}
		if len(acqErr.Attempts) != 4 {
			t.Errorf("attempts = %d, want 4", len(acqErr.Attempts))
		}
		if !strings.Contains(err.Error(), "scheme=rtsp") {
			t.Errorf("error %q does not mention scheme", err.Error())
		}
		if !strings.Contains(err.Error(), "generic refused") {
			t.Errorf("error %q does not include last attempt", err.Error())
		}
	})

	t.Run("file omits scheme", func(t *testing.T) {
		var tried []string
		opener := scriptedOpener(nil, &tried)

		_, err := streamcapture.Acquire(context.Background(), opener, streamcapture.Source{URI: "/tmp/a.mp4"}, streamcapture.Options{})
		if err == nil {
			t.Fatal("expected error")
		}
		if strings.Contains(err.Error(), "scheme=") {
			t.Errorf("file error %q should not mention scheme", err.Error())
		}
	})
}

func TestAcquire_Validation(t *testing.T) {
	var tried []string
	opener := scriptedOpener(nil, &tried)

	if _, err := streamcapture.Acquire(context.Background(), opener, streamcapture.Source{}, streamcapture.Options{}); err == nil {
		t.Error("expected error for empty URI")
	}
	if _, err := streamcapture.Acquire(context.Background(), nil, streamcapture.Source{URI: "/a.mp4"}, streamcapture.Options{}); err == nil {
		t.Error("expected error for nil opener")
	}
	if len(tried) != 0 {
		t.Errorf("opener should not be called, tried = %v", tried)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	var tried []string
	opener := scriptedOpener(map[string]bool{"generic": true}, &tried)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := streamcapture.Acquire(ctx, opener, streamcapture.Source{URI: "/tmp/a.mp4"}, streamcapture.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(tried) != 0 {
		t.Errorf("no backend should be tried after cancel, tried = %v", tried)
	}
}

func TestAcquire_PassesDefaultTimeouts(t *testing.T) {
	var got streamcapture.Options
	opener := streamcapture.OpenerFunc(func(ctx context.Context, b streamcapture.Backend, src streamcapture.Source, opts streamcapture.Options) (streamcapture.Capture, error) {
		got = opts
		return &fakeCapture{backend: b.Name}, nil
	})

	capture, err := streamcapture.Acquire(context.Background(), opener, streamcapture.Source{URI: "/tmp/a.mp4"}, streamcapture.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer capture.Close()

	if got.OpenTimeout != 5*time.Second || got.ReadTimeout != 5*time.Second {
		t.Errorf("options = %+v, want 5s defaults", got)
	}
}

func TestFrame_Image(t *testing.T) {
	frame := streamcapture.Frame{Width: 2, Height: 1, Data: []byte{1, 2, 3, 255, 4, 5, 6, 255}}
	img := frame.Image()
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 1 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if r, g, b, _ := img.At(1, 0).RGBA(); r>>8 != 4 || g>>8 != 5 || b>>8 != 6 {
		t.Errorf("pixel (1,0) = %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

// ExampleCandidates shows the backend order for a live RTSP source.
func ExampleCandidates() {
	src := streamcapture.Source{URI: "rtsp://192.168.1.100/stream", Live: true}
	for _, b := range streamcapture.Candidates(src) {
		fmt.Println(b.Name)
	}
	// Output:
	// rtspsrc
	// urisourcebin
	// uridecodebin
	// generic
}
