package analyzer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// BoxColor is the outline and label color of detections.
var BoxColor = color.RGBA{R: 46, G: 204, B: 113, A: 255}

const boxThickness = 2

// Annotate draws every box with a "person 0.87" label onto img, in place.
// Boxes are clipped to the image bounds.
func Annotate(img *image.RGBA, boxes []Box) {
	if img == nil {
		return
	}
	src := image.NewUniform(BoxColor)
	bounds := img.Bounds()

	for _, b := range boxes {
		r := image.Rect(
			bounds.Min.X+int(b.X1), bounds.Min.Y+int(b.Y1),
			bounds.Min.X+int(b.X2), bounds.Min.Y+int(b.Y2),
		).Intersect(bounds)
		if r.Empty() {
			continue
		}
		strokeRect(img, r, src)

		label := fmt.Sprintf("person %.2f", b.Confidence)
		y := r.Min.Y - 6
		if y < bounds.Min.Y+basicfont.Face7x13.Ascent {
			y = bounds.Min.Y + basicfont.Face7x13.Ascent
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  src,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(r.Min.X, y),
		}
		d.DrawString(label)
	}
}

func strokeRect(img *image.RGBA, r image.Rectangle, src image.Image) {
	t := boxThickness
	if r.Dx() < 2*t || r.Dy() < 2*t {
		draw.Draw(img, r, src, image.Point{}, draw.Src)
		return
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

// ToRGBA returns img as *image.RGBA, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// EncodeJPEG encodes img with the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("analyzer: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
