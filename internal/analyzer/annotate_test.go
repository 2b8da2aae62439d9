package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotate_DrawsOutline(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	Annotate(img, []Box{{X1: 20, Y1: 30, X2: 60, Y2: 80, Confidence: 0.87}})

	assert.Equal(t, BoxColor, img.RGBAAt(20, 50), "left edge")
	assert.Equal(t, BoxColor, img.RGBAAt(21, 50), "2px thick")
	assert.Equal(t, BoxColor, img.RGBAAt(40, 30), "top edge")
	assert.Equal(t, BoxColor, img.RGBAAt(59, 79), "bottom-right corner")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(40, 55), "interior untouched")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(22, 50), "third column untouched")
}

func TestAnnotate_DrawsLabelAboveBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	Annotate(img, []Box{{X1: 10, Y1: 40, X2: 60, Y2: 90, Confidence: 0.5}})

	labelPixels := 0
	for y := 20; y < 38; y++ {
		for x := 10; x < 100; x++ {
			if img.RGBAAt(x, y) == BoxColor {
				labelPixels++
			}
		}
	}
	assert.Greater(t, labelPixels, 0, "label text expected above the box")
}

func TestAnnotate_ClipsAndSkips(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))

	assert.NotPanics(t, func() {
		Annotate(img, []Box{
			{X1: -10, Y1: -10, X2: 200, Y2: 200, Confidence: 0.9}, // clipped
			{X1: 300, Y1: 300, X2: 400, Y2: 400, Confidence: 0.9}, // off-image
			{X1: 5, Y1: 5, X2: 6, Y2: 6, Confidence: 0.9},         // tiny
		})
		Annotate(nil, []Box{{X2: 1, Y2: 1}})
	})
	assert.Equal(t, BoxColor, img.RGBAAt(0, 25))
	assert.Equal(t, BoxColor, img.RGBAAt(5, 5))
}

func TestToRGBA_Reuses(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 4))
	assert.Same(t, rgba, ToRGBA(rgba))

	gray := image.NewGray(image.Rect(2, 2, 6, 6))
	gray.SetGray(2, 2, color.Gray{Y: 200})
	out := ToRGBA(gray)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	assert.Equal(t, uint8(200), out.RGBAAt(0, 0).R)
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 16, 8)), 0)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
}

func TestAnalyzeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 24))))

	var gotConf float64
	fake := Func(func(_ context.Context, img image.Image, conf float64) (Result, error) {
		gotConf = conf
		return Result{Count: 2, Boxes: []Box{
			{X1: 1, Y1: 1, X2: 10, Y2: 10, Confidence: 0.9},
			{X1: 12, Y1: 2, X2: 30, Y2: 20, Confidence: 0.6},
		}}, nil
	})

	res, err := AnalyzeImage(context.Background(), fake, &buf, 0.3, 80)
	require.NoError(t, err)
	assert.Equal(t, 0.3, gotConf)
	assert.Equal(t, 2, res.Count)
	assert.Len(t, res.Boxes, 2)
	assert.GreaterOrEqual(t, res.TimeMS, 0.0)

	data, err := base64.StdEncoding.DecodeString(res.ImageB64)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
}

func TestAnalyzeImage_NoBoxesIsEmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))

	none := Func(func(context.Context, image.Image, float64) (Result, error) { return Result{}, nil })
	res, err := AnalyzeImage(context.Background(), none, &buf, 0.25, 80)
	require.NoError(t, err)
	assert.NotNil(t, res.Boxes)
	assert.Empty(t, res.Boxes)
}

func TestAnalyzeImage_InvalidImage(t *testing.T) {
	called := false
	fake := Func(func(context.Context, image.Image, float64) (Result, error) {
		called = true
		return Result{}, nil
	})

	_, err := AnalyzeImage(context.Background(), fake, strings.NewReader("not an image"), 0.25, 80)
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.False(t, called)
}
