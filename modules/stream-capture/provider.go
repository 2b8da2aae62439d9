package streamcapture

import "context"

// Capture is an open handle to a video source, owned by a single goroutine.
//
// Implementations must guarantee:
//   - Read blocks for at most the configured read timeout
//   - Read returns io.EOF once the source is exhausted
//   - Close is idempotent and releases every pipeline resource
//   - Info and Stats are safe to call from any goroutine
type Capture interface {
	// Read returns the next decoded frame.
	//
	// Returns:
	//   - io.EOF when the source has no more frames (not an error condition)
	//   - ErrReadTimeout when no frame arrives within the read timeout
	//   - a classified *PipelineError when the pipeline reports a failure
	Read(ctx context.Context) (Frame, error)

	// Info returns the negotiated source description.
	Info() Info

	// Stats returns delivery statistics.
	Stats() Stats

	// Close releases the capture. Safe to call multiple times.
	Close() error
}

// Opener opens a single backend candidate for a source.
//
// Acquire calls Open once per candidate until one succeeds. An Opener must
// return an error (and release everything it created) when the candidate
// cannot deliver within opts.OpenTimeout.
type Opener interface {
	Open(ctx context.Context, backend Backend, src Source, opts Options) (Capture, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, backend Backend, src Source, opts Options) (Capture, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, backend Backend, src Source, opts Options) (Capture, error) {
	return f(ctx, backend, src, opts)
}
