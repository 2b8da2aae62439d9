package gstpipe

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/tinyzimmer/go-gst/gst"
)

// CapsInfo holds the video properties advertised by negotiated caps
type CapsInfo struct {
	Width  int
	Height int
	FPS    float64
}

var (
	widthPattern     = regexp.MustCompile(`width=\(int\)(\d+)`)
	heightPattern    = regexp.MustCompile(`height=\(int\)(\d+)`)
	frameratePattern = regexp.MustCompile(`framerate=\(fraction\)(\d+)/(\d+)`)
)

// ParseCaps extracts width, height and framerate from a caps string such as
// "video/x-raw, format=(string)RGBA, width=(int)640, height=(int)480, framerate=(fraction)30/1".
//
// A framerate of 0/1 (variable rate) yields FPS 0.
func ParseCaps(caps string) CapsInfo {
	var info CapsInfo
	if m := widthPattern.FindStringSubmatch(caps); m != nil {
		info.Width, _ = strconv.Atoi(m[1])
	}
	if m := heightPattern.FindStringSubmatch(caps); m != nil {
		info.Height, _ = strconv.Atoi(m[1])
	}
	if m := frameratePattern.FindStringSubmatch(caps); m != nil {
		info.FPS = ParseFraction(m[1] + "/" + m[2])
	}
	return info
}

// ParseFraction converts a framerate string to FPS.
// Examples: "30/1" → 30, "30000/1001" → 29.97, "25" → 25, "0/1" → 0.
func ParseFraction(s string) float64 {
	var numerator, denominator int
	if _, err := fmt.Sscanf(s, "%d/%d", &numerator, &denominator); err == nil {
		if denominator > 0 {
			return float64(numerator) / float64(denominator)
		}
		return 0
	}

	var fps float64
	if _, err := fmt.Sscanf(s, "%g", &fps); err == nil && fps > 0 {
		return fps
	}
	return 0
}

// CapsFromCaps reads the video properties from GStreamer caps.
//
// Width and height are read through the structure API; the framerate fraction
// is parsed from the caps string because go-glib does not map GstFraction.
func CapsFromCaps(caps *gst.Caps) CapsInfo {
	if caps == nil || caps.GetSize() == 0 {
		return CapsInfo{}
	}

	info := ParseCaps(caps.String())

	structure := caps.GetStructureAt(0)
	if structure == nil {
		return info
	}
	if val, err := structure.GetValue("width"); err == nil {
		if width, ok := val.(int); ok {
			info.Width = width
		}
	}
	if val, err := structure.GetValue("height"); err == nil {
		if height, ok := val.(int); ok {
			info.Height = height
		}
	}
	return info
}

// CopySample copies the pixel data out of a sample
//
// This function:
//  1. Gets the buffer from the sample
//  2. Maps the buffer to read pixel data
//  3. Copies data (GStreamer will reuse the buffer)
//
// Returns the copied bytes and the caps attached to the sample.
func CopySample(sample *gst.Sample) ([]byte, CapsInfo, error) {
	if sample == nil {
		return nil, CapsInfo{}, fmt.Errorf("nil sample")
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, CapsInfo{}, fmt.Errorf("sample has no buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, CapsInfo{}, fmt.Errorf("failed to map buffer")
	}
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, CapsInfo{}, fmt.Errorf("empty buffer")
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	return frameData, CapsFromCaps(sample.GetCaps()), nil
}
