package writer

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriter struct{ frames int }

func (w *nopWriter) Write(*image.RGBA) error { w.frames++; return nil }
func (w *nopWriter) Close() error            { return nil }

// scriptedOpener accepts only the listed codecs and records every attempt.
type scriptedOpener struct {
	accept []string
	tried  []string
}

func (o *scriptedOpener) Open(_ context.Context, c Candidate, path string, _ Request) (Writer, error) {
	o.tried = append(o.tried, c.Codec)
	// Leave a partial file behind like a failed muxer would
	os.WriteFile(path, []byte("partial"), 0o644)
	for _, a := range o.accept {
		if a == c.Codec {
			return &nopWriter{}, nil
		}
	}
	return nil, errors.New("no such element " + c.Codec)
}

func TestCandidates_Order(t *testing.T) {
	var codecs []string
	for _, c := range Candidates {
		codecs = append(codecs, c.Codec)
	}
	assert.Equal(t, []string{"x264enc", "openh264enc", "vp8enc", "jpegenc"}, codecs)
	assert.Equal(t, "video/x-msvideo", Candidates[3].MediaType)
}

func TestNegotiate_FirstCandidateWins(t *testing.T) {
	dir := t.TempDir()
	opener := &scriptedOpener{accept: []string{"x264enc", "vp8enc"}}

	w, art, err := Negotiate(context.Background(), opener, Request{Dir: dir, JobID: "job1", Width: 64, Height: 48, FPS: 30})
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, []string{"x264enc"}, opener.tried)
	assert.Equal(t, Artifact{
		Path:      filepath.Join(dir, "job1.mp4"),
		MediaType: "video/mp4",
		Filename:  "job1.mp4",
		Codec:     "x264enc",
	}, art)
}

func TestNegotiate_FallsBack(t *testing.T) {
	dir := t.TempDir()
	opener := &scriptedOpener{accept: []string{"jpegenc"}}

	_, art, err := Negotiate(context.Background(), opener, Request{Dir: dir, JobID: "job2", Width: 64, Height: 48})
	require.NoError(t, err)

	assert.Equal(t, []string{"x264enc", "openh264enc", "vp8enc", "jpegenc"}, opener.tried)
	assert.Equal(t, "job2.avi", art.Filename)

	// Failed candidates leave nothing behind
	_, err = os.Stat(filepath.Join(dir, "job2.webm"))
	assert.True(t, os.IsNotExist(err))
}

func TestNegotiate_AllFail(t *testing.T) {
	dir := t.TempDir()
	opener := &scriptedOpener{}

	w, _, err := Negotiate(context.Background(), opener, Request{Dir: dir, JobID: "job3", Width: 64, Height: 48})
	assert.Nil(t, w)
	require.ErrorIs(t, err, ErrNoCandidate)
	assert.Contains(t, err.Error(), "vp8enc")

	files, _ := os.ReadDir(dir)
	assert.Empty(t, files)
}

func TestNegotiate_InvalidSize(t *testing.T) {
	opener := &scriptedOpener{accept: []string{"x264enc"}}
	_, _, err := Negotiate(context.Background(), opener, Request{Dir: t.TempDir(), JobID: "j", Width: 0, Height: 48})
	assert.Error(t, err)
	assert.Empty(t, opener.tried)
}

func TestOutputFPS(t *testing.T) {
	assert.Equal(t, 29.97, OutputFPS(29.97, 5))
	assert.Equal(t, 5.0, OutputFPS(0, 5))
	assert.Equal(t, DefaultFPS, OutputFPS(0, 0))
}

func TestFramerate(t *testing.T) {
	tests := map[float64]string{
		30:    "30/1",
		25:    "25/1",
		12.5:  "25/2",
		29.97: "2997/100",
		0:     "25/1",
	}
	for fps, want := range tests {
		if got := framerate(fps); got != want {
			t.Errorf("framerate(%v) = %q, want %q", fps, got, want)
		}
	}
}

func TestDescribe(t *testing.T) {
	d := describe(Candidates[2], `/tmp/out dir/a"b.webm`, Request{Width: 640, Height: 360, FPS: 30})

	assert.True(t, strings.HasPrefix(d, "appsrc name=src "))
	assert.Contains(t, d, "caps=video/x-raw,format=RGBA,width=640,height=360,framerate=30/1")
	assert.Contains(t, d, "! vp8enc deadline=1 ! webmmux !")
	assert.True(t, strings.HasSuffix(d, `filesink location="/tmp/out dir/a\"b.webm"`))
}

func TestPacked_StripsStride(t *testing.T) {
	full := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range full.Pix {
		full.Pix[i] = byte(i)
	}
	sub := full.SubImage(image.Rect(1, 0, 3, 2)).(*image.RGBA)

	got := packed(sub)
	require.Len(t, got, 2*2*4)
	assert.Equal(t, full.Pix[4:12], got[:8])
	assert.Equal(t, full.Pix[20:28], got[8:])
}
