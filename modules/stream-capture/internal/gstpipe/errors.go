package gstpipe

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory groups bus errors by what an operator would fix.
type ErrorCategory string

const (
	ErrCategoryAuth     ErrorCategory = "auth"
	ErrCategoryNotFound ErrorCategory = "not_found"
	ErrCategoryCodec    ErrorCategory = "codec"
	ErrCategoryNetwork  ErrorCategory = "network"
	ErrCategoryUnknown  ErrorCategory = "unknown"
)

func (c ErrorCategory) String() string {
	if c == "" {
		return string(ErrCategoryUnknown)
	}
	return string(c)
}

// classifyRules are tried in order; the first rule with a matching
// fragment wins. Credentials and missing inputs come first because rtspsrc
// and souphttpsrc wrap them in generic connection messages.
var classifyRules = []struct {
	category  ErrorCategory
	fragments []string
}{
	{ErrCategoryAuth, []string{"unauthorized", "forbidden", "401", "403", "authentication", "credentials"}},
	{ErrCategoryNotFound, []string{"no such file", "could not open file", "resource not found", "not found", "404"}},
	{ErrCategoryCodec, []string{
		"not negotiated", "not-negotiated", "no decoder", "missing a plug-in", "missing plugin",
		"no such element", "codec", "decode", "caps", "demux", "typefind",
	}},
	{ErrCategoryNetwork, []string{
		"could not connect", "failed to connect", "connection", "timed out", "timeout",
		"unreachable", "resolve", "dns", "socket", "tcp", "udp",
	}},
}

// ClassifyGStreamerError categorizes a bus error. go-gst does not expose the
// GError domain, so this matches on the message and debug text.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

func ClassifyMessage(message, debug string) ErrorCategory {
	text := strings.ToLower(message + " " + debug)
	for _, rule := range classifyRules {
		for _, f := range rule.fragments {
			if strings.Contains(text, f) {
				return rule.category
			}
		}
	}
	return ErrCategoryUnknown
}
