package streamcapture

import (
	"net/url"
	"strings"

	"github.com/e7canasta/orion-people-counter/modules/stream-capture/internal/gstpipe"
)

// Backend is one entry of the ordered acquisition candidate table.
type Backend struct {
	// Name identifies the backend in logs and errors
	Name string
	// Accepts reports whether the backend can handle a source with the given scheme
	Accepts func(src Source, scheme string) bool
	// Describe builds the gst-launch description for the source
	Describe func(src Source, opts Options) string
}

func anyScheme(Source, string) bool { return true }

func schemeIn(schemes ...string) func(Source, string) bool {
	return func(_ Source, scheme string) bool {
		for _, s := range schemes {
			if scheme == s {
				return true
			}
		}
		return false
	}
}

// FileBackends is tried, in order, for file-backed sources: a generic reliable
// demux/decode chain first, then the auto-plugging URI decoder.
var FileBackends = []Backend{
	{
		Name:    "decodebin",
		Accepts: schemeIn("file"),
		Describe: func(src Source, _ Options) string {
			return gstpipe.FileDecodebin(localPath(src.URI))
		},
	},
	{
		Name:    "uridecodebin",
		Accepts: anyScheme,
		Describe: func(src Source, _ Options) string {
			return gstpipe.URIDecodebin(gstpipe.FileURI(src.URI), false)
		},
	},
}

// LiveBackends is tried, in order, for network streams. Streaming-oriented
// sources come first because live transports fail more often than files.
var LiveBackends = []Backend{
	{
		Name:    "rtspsrc",
		Accepts: schemeIn("rtsp", "rtsps", "rtspt"),
		Describe: func(src Source, opts Options) string {
			return gstpipe.RTSP(src.URI, opts.ReadTimeout)
		},
	},
	{
		Name:    "souphttpsrc",
		Accepts: schemeIn("http", "https"),
		Describe: func(src Source, opts Options) string {
			return gstpipe.SoupHTTP(src.URI, opts.ReadTimeout)
		},
	},
	{
		Name:    "urisourcebin",
		Accepts: anyScheme,
		Describe: func(src Source, _ Options) string {
			return gstpipe.URISourceBin(gstpipe.FileURI(src.URI))
		},
	},
	{
		Name:    "uridecodebin",
		Accepts: anyScheme,
		Describe: func(src Source, _ Options) string {
			return gstpipe.URIDecodebin(gstpipe.FileURI(src.URI), true)
		},
	},
}

// GenericBackend is the final attempt made after every candidate failed: no
// source, demuxer or decoder is requested explicitly.
var GenericBackend = Backend{
	Name:    "generic",
	Accepts: anyScheme,
	Describe: func(src Source, _ Options) string {
		return gstpipe.Playbin(gstpipe.FileURI(src.URI), src.Live)
	},
}

// Candidates returns the ordered backends to try for src, including the final
// generic attempt.
func Candidates(src Source) []Backend {
	table := FileBackends
	if src.Live {
		table = LiveBackends
	}

	scheme := SchemeOf(src.URI)
	out := make([]Backend, 0, len(table)+1)
	for _, b := range table {
		if b.Accepts(src, scheme) {
			out = append(out, b)
		}
	}
	return append(out, GenericBackend)
}

// SchemeOf returns the lower-case URL scheme of uri, or "file" for local paths.
func SchemeOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 {
		// Parse errors and Windows drive letters are treated as paths.
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

func localPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return u.Path
	}
	return uri
}
