package bus

import "encoding/json"

// EventType names the kind of a job event
type EventType string

const (
	EventFrame     EventType = "frame"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	EventStatus    EventType = "status"
)

// Event is one notification about a job.
//
// Only the fields relevant to Type are serialized.
type Event struct {
	Type EventType

	// frame
	FrameIndex  int
	Count       int
	MaxCount    int
	TimestampMS int64

	// done
	Frames   int
	VideoURL string

	// error, cancelled
	Message string

	// status; a terminal status also carries Frames, VideoURL and Message
	Status       string
	CurrentCount int
}

// Terminal reports whether the event ends the job's event stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventCancelled:
		return true
	}
	return false
}

type frameJSON struct {
	Type        EventType `json:"type"`
	FrameIndex  int       `json:"frame_index"`
	Count       int       `json:"count"`
	MaxCount    int       `json:"max_count"`
	TimestampMS int64     `json:"timestamp_ms"`
	Done        bool      `json:"done"`
}

type doneJSON struct {
	Type     EventType `json:"type"`
	MaxCount int       `json:"max_count"`
	Frames   int       `json:"frames"`
	Done     bool      `json:"done"`
	VideoURL string    `json:"video_url,omitempty"`
}

type messageJSON struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Done    bool      `json:"done"`
}

type statusJSON struct {
	Type         EventType `json:"type"`
	Status       string    `json:"status"`
	CurrentCount int       `json:"current_count"`
	MaxCount     int       `json:"max_count"`
	Frames       int       `json:"frames,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	Message      string    `json:"message,omitempty"`
	Done         bool      `json:"done"`
}

// MarshalJSON encodes the wire shape for the event's type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventFrame:
		return json.Marshal(frameJSON{e.Type, e.FrameIndex, e.Count, e.MaxCount, e.TimestampMS, false})
	case EventDone:
		return json.Marshal(doneJSON{e.Type, e.MaxCount, e.Frames, true, e.VideoURL})
	case EventStatus:
		return json.Marshal(statusJSON{e.Type, e.Status, e.CurrentCount, e.MaxCount, e.Frames, e.VideoURL, e.Message, e.Status != "processing"})
	default:
		return json.Marshal(messageJSON{e.Type, e.Message, e.Terminal()})
	}
}

// UnmarshalJSON accepts any of the wire shapes.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type         EventType `json:"type"`
		FrameIndex   int       `json:"frame_index"`
		Count        int       `json:"count"`
		MaxCount     int       `json:"max_count"`
		TimestampMS  int64     `json:"timestamp_ms"`
		Frames       int       `json:"frames"`
		VideoURL     string    `json:"video_url"`
		Message      string    `json:"message"`
		Status       string    `json:"status"`
		CurrentCount int       `json:"current_count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{
		Type:         raw.Type,
		FrameIndex:   raw.FrameIndex,
		Count:        raw.Count,
		MaxCount:     raw.MaxCount,
		TimestampMS:  raw.TimestampMS,
		Frames:       raw.Frames,
		VideoURL:     raw.VideoURL,
		Message:      raw.Message,
		Status:       raw.Status,
		CurrentCount: raw.CurrentCount,
	}
	return nil
}
