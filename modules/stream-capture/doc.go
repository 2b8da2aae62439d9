// Package streamcapture acquires decoded video frames from files and network
// streams using GStreamer.
//
// Acquisition tries an ordered table of backend candidates and keeps the first
// one that actually opens. What "opens" means depends on the source kind:
//
//   - live streams (rtsp, http, ...) must deliver a first frame within the open timeout
//   - files must preroll (or reach end of stream) within the open timeout
//
// # Quick Start
//
//	opener, err := streamcapture.NewGstOpener()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	src := streamcapture.Source{URI: "rtsp://192.168.1.100/stream", Live: true}
//	capture, err := streamcapture.Acquire(ctx, opener, src, streamcapture.Options{})
//	if err != nil {
//	    log.Fatal(err) // *AcquireError lists every backend attempt
//	}
//	defer capture.Close()
//
//	for {
//	    frame, err := capture.Read(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    process(frame.Image())
//	}
//
// # Candidate Order
//
// Files:
//
//	decodebin (file scheme only) → uridecodebin → generic (playbin)
//
// Live streams:
//
//	rtspsrc (rtsp, rtsps, rtspt) → souphttpsrc (http, https) → urisourcebin → uridecodebin → generic (playbin)
//
// Candidates whose scheme filter rejects the source are skipped. There is no
// retry beyond the table: a failed Acquire is final for that source.
//
// # Timeouts
//
// Both timeouts default to 5 seconds (DefaultOpenTimeout, DefaultReadTimeout).
// The read timeout is applied twice: as the transport stall timeout of network
// sources, and as the maximum wait of a single Read call (ErrReadTimeout).
//
// # Frame Format
//
// Every pipeline ends with videoconvert ! videoscale ! video/x-raw,format=RGBA !
// appsink, so Frame.Data is packed RGBA with a stride of 4*Width. Live sinks
// keep only the newest buffer; file sinks apply backpressure so no frame is
// skipped by the pipeline itself.
//
// # Error Categories
//
// Pipeline bus errors are returned as *PipelineError with a category:
//
//   - network: connection refused, timeout, DNS
//   - codec: decoder missing, caps negotiation failed
//   - auth: 401/403, bad credentials
//   - not_found: missing file or 404
//   - unknown: anything else
//
// # System Requirements
//
//   - GStreamer 1.x runtime (gstreamer1.0-plugins-base, -good, -bad, -libav)
//   - go-gst bindings (github.com/tinyzimmer/go-gst)
package streamcapture
