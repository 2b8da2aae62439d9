package writer

import (
	"context"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpener(t *testing.T) *GstOpener {
	t.Helper()
	opener, err := NewGstOpener()
	if err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}
	return opener
}

// TestGstOpener_WritesPlayableFile encodes a short clip with whichever
// candidate the local GStreamer install supports.
func TestGstOpener_WritesPlayableFile(t *testing.T) {
	opener := newTestOpener(t)

	w, art, err := Negotiate(context.Background(), opener, Request{
		Dir:    t.TempDir(),
		JobID:  "gst-test",
		Width:  64,
		Height: 48,
		FPS:    10,
	})
	if err != nil {
		t.Skipf("Skipping test: no encoder installed: %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := 0; i < 10; i++ {
		img.Set(i, i, color.RGBA{R: 255, A: 255})
		require.NoError(t, w.Write(img))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "Close is idempotent")

	info, err := os.Stat(art.Path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, w.Write(img), "Write after Close")
}

func TestGstWriter_RejectsWrongSize(t *testing.T) {
	opener := newTestOpener(t)

	w, _, err := Negotiate(context.Background(), opener, Request{Dir: t.TempDir(), JobID: "size", Width: 32, Height: 32, FPS: 5})
	if err != nil {
		t.Skipf("Skipping test: no encoder installed: %v", err)
	}
	defer w.Close()

	assert.Error(t, w.Write(image.NewRGBA(image.Rect(0, 0, 16, 16))))
}
