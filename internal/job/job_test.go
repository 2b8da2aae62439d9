package job

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

func TestRegistry_CreateGet(t *testing.T) {
	r := NewRegistry()

	j := r.Create(Source{Kind: KindVideo, Name: "clip.mp4"})
	require.NotEmpty(t, j.ID)
	assert.Equal(t, StatusProcessing, j.Status())

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Same(t, j, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	other := r.Create(Source{Kind: KindStream, Name: "rtsp://cam"})
	assert.NotEqual(t, j.ID, other.ID)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := r.Create(Source{Kind: KindVideo})
			ids <- j.ID
			r.List()
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		_, err := r.Get(id)
		assert.NoError(t, err)
	}
	assert.Equal(t, 50, r.Len())
	assert.Equal(t, 50, r.CountByStatus()[StatusProcessing])
}

func TestJob_MaxCountNonDecreasing(t *testing.T) {
	j := newJob("j1", Source{Kind: KindVideo})

	seen := 0
	for _, count := range []int{2, 5, 1, 0, 5, 3} {
		current, max := j.Observe(count)
		assert.Equal(t, count, current)
		assert.GreaterOrEqual(t, max, seen)
		assert.GreaterOrEqual(t, max, count)
		seen = max
	}
	assert.Equal(t, 5, seen)
}

func TestJob_FinishEmitsSingleTerminalEvent(t *testing.T) {
	j := newJob("j1", Source{Kind: KindVideo})
	ch := make(chan framebus.Event, 8)
	require.NoError(t, j.Bus().Subscribe("ws", ch))

	j.AddFrame()
	j.AddFrame()
	j.Observe(3)
	j.SetOutput(Output{Path: "/out/j1.mp4", MediaType: "video/mp4", Filename: "j1.mp4"})

	assert.True(t, j.Finish())
	assert.False(t, j.Fail("late failure"), "terminal status is one-directional")
	assert.False(t, j.Cancel("late cancel"))

	var events []framebus.Event
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, framebus.EventDone, events[0].Type)
	assert.Equal(t, 3, events[0].MaxCount)
	assert.Equal(t, 2, events[0].Frames)
	assert.Equal(t, "/api/job/j1/video", events[0].VideoURL)

	assert.Equal(t, StatusDone, j.Status())
	assert.True(t, j.LatestFrame().Closed())

	// Counters freeze once terminal
	j.AddFrame()
	j.Observe(9)
	_, max, frames := j.Counts()
	assert.Equal(t, 3, max)
	assert.Equal(t, 2, frames)
}

func TestJob_FailKeepsPartialCounters(t *testing.T) {
	j := newJob("j2", Source{Kind: KindStream})
	j.AddFrame()
	j.Observe(4)
	j.SetOutput(Output{Path: "/out/j2.mp4"})

	require.True(t, j.Fail("pipeline error [network]: connection refused"))

	snap := j.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Contains(t, *snap.Error, "connection refused")
	assert.Equal(t, 4, snap.MaxCount)
	assert.Equal(t, 1, snap.Frames)
	assert.Empty(t, snap.VideoURL, "artifact only offered when done")

	_, ok := j.Output()
	assert.False(t, ok)

	final, ok := j.Bus().Final()
	require.True(t, ok)
	assert.Equal(t, framebus.EventError, final.Type)
}

func TestJob_Cancel(t *testing.T) {
	j := newJob("j3", Source{Kind: KindStream})
	require.True(t, j.Cancel("server shutting down"))

	assert.Equal(t, StatusCancelled, j.Status())
	final, ok := j.Bus().Final()
	require.True(t, ok)
	assert.Equal(t, framebus.EventCancelled, final.Type)
	assert.Equal(t, "server shutting down", final.Message)
}

func TestJob_LateSubscriberRejected(t *testing.T) {
	j := newJob("j4", Source{Kind: KindVideo})
	j.Finish()

	err := j.Bus().Subscribe("late", make(chan framebus.Event, 1))
	assert.ErrorIs(t, err, framebus.ErrBusClosed)

	ev := j.StatusEvent()
	assert.Equal(t, "done", ev.Status)
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","status":"done","current_count":0,"max_count":0,"done":true}`, string(data))
}

func TestJob_TerminalStatusEventCarriesResult(t *testing.T) {
	j := newJob("j6", Source{Kind: KindVideo})
	j.Observe(4)
	j.AddFrame()
	j.AddFrame()
	j.SetOutput(Output{Path: "/tmp/out/j6.mp4", MediaType: "video/mp4"})
	j.Finish()

	data, err := json.Marshal(j.StatusEvent())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","status":"done","current_count":4,"max_count":4,"frames":2,"video_url":"`+VideoURL("j6")+`","done":true}`, string(data))

	failed := newJob("j7", Source{Kind: KindStream})
	failed.Fail("stream lost")
	ev := failed.StatusEvent()
	assert.Equal(t, "stream lost", ev.Message)
	assert.Empty(t, ev.VideoURL)

	running := newJob("j8", Source{Kind: KindStream})
	running.AddFrame()
	assert.Zero(t, running.StatusEvent().Frames, "only terminal status events carry totals")
}

func TestStatusSnapshot_JSON(t *testing.T) {
	j := newJob("j5", Source{Kind: KindVideo})
	j.AddFrame()
	j.Observe(2)

	data, err := json.Marshal(j.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"job_id":"j5","status":"processing","kind":"video","current_count":2,"max_count":2,"frames":1,"error":null}`,
		string(data))
}
