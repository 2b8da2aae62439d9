package emitter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/internal/observability"
	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

const (
	// DefaultBuffer is the per-job, per-sink event queue length
	DefaultBuffer  = 64
	publishTimeout = 2 * time.Second
)

// Fanout subscribes every sink to every job it is attached to.
//
// Each (job, sink) pair gets a buffered bus subscription drained by its own
// goroutine, so a slow broker drops that job's events instead of stalling the
// worker. A sink whose publish fails is unsubscribed from that job only.
type Fanout struct {
	sinks   []Sink
	buffer  int
	metrics *observability.Registry

	wg sync.WaitGroup
}

// NewFanout returns a fanout over sinks. buffer <= 0 uses DefaultBuffer.
func NewFanout(sinks []Sink, buffer int, metrics *observability.Registry) *Fanout {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Fanout{sinks: sinks, buffer: buffer, metrics: metrics}
}

// Sinks returns the configured sink names.
func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Attach subscribes every sink to j's bus. Call it before the job's worker
// starts so no event is missed.
func (f *Fanout) Attach(j *job.Job) {
	for _, sink := range f.sinks {
		id := "sink:" + sink.Name()
		ch := make(chan framebus.Event, f.buffer)
		if err := j.Bus().Subscribe(id, ch); err != nil {
			slog.Warn("emitter: subscribe failed", "job_id", j.ID, "sink", sink.Name(), "error", err)
			continue
		}

		f.wg.Add(1)
		go func(sink Sink, id string) {
			defer f.wg.Done()
			f.forward(j, sink, id, ch)
		}(sink, id)
	}
}

// forward publishes until the bus closes ch (terminal event or unsubscribe).
func (f *Fanout) forward(j *job.Job, sink Sink, id string, ch <-chan framebus.Event) {
	failed := false
	for ev := range ch {
		if failed {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := sink.Publish(ctx, j.ID, ev)
		cancel()
		if err == nil {
			continue
		}

		failed = true
		f.metrics.IncCounter(observability.SinkFailures, map[string]string{"sink": sink.Name()}, 1)
		slog.Warn("emitter: sink failed, detaching from job",
			"job_id", j.ID,
			"sink", sink.Name(),
			"event", ev.Type,
			"error", err,
		)
		// Closes ch, ending the loop; ErrBusClosed means the terminal event
		// already closed it.
		if err := j.Bus().Unsubscribe(id); err != nil && !errors.Is(err, framebus.ErrBusClosed) {
			slog.Debug("emitter: unsubscribe", "job_id", j.ID, "sink", sink.Name(), "error", err)
		}
	}
}

// Stats returns per-sink statistics for sinks that expose them.
func (f *Fanout) Stats() map[string]Stats {
	out := make(map[string]Stats, len(f.sinks))
	for _, s := range f.sinks {
		if st, ok := s.(interface{ Stats() Stats }); ok {
			out[s.Name()] = st.Stats()
		}
	}
	return out
}

// Close waits for the forwarders of finished jobs and closes every sink.
// Call it after all workers have exited.
func (f *Fanout) Close() error {
	f.wg.Wait()

	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
