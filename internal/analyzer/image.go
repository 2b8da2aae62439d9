package analyzer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned when an upload cannot be decoded as an image.
var ErrInvalidImage = errors.New("analyzer: invalid image")

// ImageResult is the response of a single-image job
type ImageResult struct {
	Count    int     `json:"count"`
	Boxes    []Box   `json:"boxes"`
	TimeMS   float64 `json:"time_ms"`
	ImageB64 string  `json:"image_b64"`
}

// AnalyzeImage decodes r, counts people in it and returns the annotated image
// as base64 JPEG.
func AnalyzeImage(ctx context.Context, a Analyzer, r io.Reader, confidence float64, quality int) (ImageResult, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return ImageResult{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	start := time.Now()
	res, err := a.Analyze(ctx, img, confidence)
	if err != nil {
		return ImageResult{}, err
	}
	elapsed := time.Since(start)

	// Annotate an RGBA copy of the decoded image
	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)
	Annotate(canvas, res.Boxes)

	data, err := EncodeJPEG(canvas, quality)
	if err != nil {
		return ImageResult{}, err
	}

	boxes := res.Boxes
	if boxes == nil {
		boxes = []Box{}
	}

	slog.Debug("analyzer: image analyzed",
		"format", format,
		"width", b.Dx(),
		"height", b.Dy(),
		"count", res.Count,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return ImageResult{
		Count:    res.Count,
		Boxes:    boxes,
		TimeMS:   float64(elapsed.Microseconds()) / 1000,
		ImageB64: base64.StdEncoding.EncodeToString(data),
	}, nil
}
