// Package job holds per-job state and the process-wide job registry.
package job

import (
	"sync"
	"time"

	"github.com/e7canasta/orion-people-counter/modules/framebus"
	"github.com/e7canasta/orion-people-counter/modules/framesupplier"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Kind is the logical type of a job's source
type Kind string

const (
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindStream Kind = "stream"
)

// Source describes what a job processes
type Source struct {
	Kind Kind
	// Name is the original filename or URL as submitted
	Name string
	// DurationSec is the probed duration of file sources, nil when unknown
	DurationSec *float64
}

// Output is the derived video artifact of a file-backed job
type Output struct {
	Path      string
	MediaType string
	Filename  string
}

// StatusSnapshot is the on-demand view of a job
type StatusSnapshot struct {
	JobID        string  `json:"job_id"`
	Status       Status  `json:"status"`
	Kind         Kind    `json:"kind"`
	CurrentCount int     `json:"current_count"`
	MaxCount     int     `json:"max_count"`
	Frames       int     `json:"frames"`
	Error        *string `json:"error"`
	VideoURL     string  `json:"video_url,omitempty"`
}

// Job is one tracked run of ingestion, analysis and output.
//
// Counters, status and output are mutated only by the job's worker; the
// subscriber set lives in the job's bus and the latest frame in its snapshot.
type Job struct {
	ID        string
	CreatedAt time.Time
	Source    Source

	mu           sync.RWMutex
	status       Status
	currentCount int
	maxCount     int
	frames       int
	errMsg       string
	output       *Output
	finishedAt   time.Time

	bus    framebus.Bus
	latest *framesupplier.Snapshot
}

func newJob(id string, src Source) *Job {
	return &Job{
		ID:        id,
		CreatedAt: time.Now(),
		Source:    src,
		status:    StatusProcessing,
		bus:       framebus.New(),
		latest:    framesupplier.New(),
	}
}

// VideoURL is the download path of a job's artifact.
func VideoURL(id string) string {
	return "/api/job/" + id + "/video"
}

// MJPEGURL is the continuous pull stream path of a job.
func MJPEGURL(id string) string {
	return "/api/job/" + id + "/mjpeg"
}

// Bus returns the job's push event bus.
func (j *Job) Bus() framebus.Bus { return j.bus }

// LatestFrame returns the job's latest annotated frame holder.
func (j *Job) LatestFrame() *framesupplier.Snapshot { return j.latest }

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Terminal reports whether the job has left processing.
func (j *Job) Terminal() bool {
	return j.Status() != StatusProcessing
}

// Observe records the count of an analyzed frame and returns the updated
// current and max counts. Ignored once terminal.
func (j *Job) Observe(count int) (current, max int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status == StatusProcessing {
		j.currentCount = count
		if count > j.maxCount {
			j.maxCount = count
		}
	}
	return j.currentCount, j.maxCount
}

// AddFrame increments the frame counter and returns the 1-based index of the frame.
func (j *Job) AddFrame() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status == StatusProcessing {
		j.frames++
	}
	return j.frames
}

// SetOutput records the negotiated output artifact.
func (j *Job) SetOutput(out Output) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.output = &out
}

// Output returns the artifact when the job is done and one was produced.
func (j *Job) Output() (Output, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.status != StatusDone || j.output == nil {
		return Output{}, false
	}
	return *j.output, true
}

// Counts returns the current, max and frame counters.
func (j *Job) Counts() (current, max, frames int) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.currentCount, j.maxCount, j.frames
}

// Snapshot returns the on-demand status view.
func (j *Job) Snapshot() StatusSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := StatusSnapshot{
		JobID:        j.ID,
		Status:       j.status,
		Kind:         j.Source.Kind,
		CurrentCount: j.currentCount,
		MaxCount:     j.maxCount,
		Frames:       j.frames,
	}
	if j.errMsg != "" {
		msg := j.errMsg
		s.Error = &msg
	}
	if j.status == StatusDone && j.output != nil {
		s.VideoURL = VideoURL(j.ID)
	}
	return s
}

// StatusEvent is the event sent to a push subscriber on first contact.
// For a terminal job it is the only event the subscriber gets, so it also
// carries the frame total, the artifact url and the error message.
func (j *Job) StatusEvent() framebus.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	ev := framebus.Event{
		Type:         framebus.EventStatus,
		Status:       string(j.status),
		CurrentCount: j.currentCount,
		MaxCount:     j.maxCount,
	}
	if j.status != StatusProcessing {
		ev.Frames = j.frames
		ev.Message = j.errMsg
		if j.status == StatusDone && j.output != nil {
			ev.VideoURL = VideoURL(j.ID)
		}
	}
	return ev
}

// Finish transitions the job to done and broadcasts the done event.
// Returns false when the job was already terminal.
func (j *Job) Finish() bool {
	return j.terminate(StatusDone, "")
}

// Fail transitions the job to error and broadcasts the error event.
// Returns false when the job was already terminal.
func (j *Job) Fail(msg string) bool {
	return j.terminate(StatusError, msg)
}

// Cancel transitions the job to cancelled and broadcasts the cancelled event.
// Returns false when the job was already terminal.
func (j *Job) Cancel(msg string) bool {
	return j.terminate(StatusCancelled, msg)
}

func (j *Job) terminate(status Status, msg string) bool {
	j.mu.Lock()
	if j.status != StatusProcessing {
		j.mu.Unlock()
		return false
	}

	j.status = status
	j.finishedAt = time.Now()
	if status != StatusDone {
		j.errMsg = msg
	}

	final := framebus.Event{Type: framebus.EventType(status), Message: msg}
	if status == StatusDone {
		final = framebus.Event{Type: framebus.EventDone, MaxCount: j.maxCount, Frames: j.frames}
		if j.output != nil {
			final.VideoURL = VideoURL(j.ID)
		}
	}
	j.mu.Unlock()

	// Pull readers stop after their grace interval, push subscribers get
	// exactly one terminal event and their channels closed.
	j.latest.Close()
	j.bus.Close(final)
	return true
}

// Elapsed returns the run time of the job, frozen once terminal.
func (j *Job) Elapsed() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.finishedAt.IsZero() {
		return time.Since(j.CreatedAt)
	}
	return j.finishedAt.Sub(j.CreatedAt)
}
