package gstpipe

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// BusError is a classified error message popped from a pipeline bus
type BusError struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *BusError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

func busError(msg *gst.Message) *BusError {
	gerr := msg.ParseError()
	if gerr == nil {
		return &BusError{Category: ErrCategoryUnknown, Message: "unknown pipeline error"}
	}
	return &BusError{
		Category: ClassifyGStreamerError(gerr),
		Message:  gerr.Error(),
		Debug:    gerr.DebugString(),
	}
}

// WaitPreroll blocks until the pipeline prerolls, reaches end of stream, or
// reports an error.
//
// Returns:
//   - eos=true when the source ended before producing a buffer
//   - a *BusError when the pipeline failed
//   - a timeout error when nothing happened within timeout
func WaitPreroll(pipeline *gst.Pipeline, timeout time.Duration) (eos bool, err error) {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, fmt.Errorf("pipeline did not preroll within %s", timeout)
		}

		msg := bus.TimedPopFiltered(remaining, gst.MessageAsyncDone|gst.MessageError|gst.MessageEOS)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageAsyncDone:
			return false, nil
		case gst.MessageEOS:
			return true, nil
		case gst.MessageError:
			berr := busError(msg)
			slog.Debug("stream-capture: preroll failed",
				"error", berr.Message,
				"debug", berr.Debug,
				"category", berr.Category.String(),
			)
			return false, berr
		}
	}
}

// PollBus checks the bus for a pending error or end-of-stream without blocking.
func PollBus(pipeline *gst.Pipeline) (eos bool, err error) {
	bus := pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPopFiltered(0, gst.MessageError|gst.MessageEOS)
		if msg == nil {
			return false, nil
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return true, nil
		case gst.MessageError:
			return false, busError(msg)
		}
	}
}
