package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/internal/observability"
	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

type fakeSink struct {
	name   string
	failAt int // 1-based publish that fails, 0 never
	delay  time.Duration

	mu     sync.Mutex
	events []framebus.Event
	calls  int
	closed bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(_ context.Context, _ string, ev framebus.Event) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt > 0 && s.calls >= s.failAt {
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Connected: true, Published: map[string]uint64{"all": uint64(len(s.events))}}
}

func (s *fakeSink) snapshot() ([]framebus.Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]framebus.Event(nil), s.events...), s.calls
}

func frame(i int) framebus.Event {
	return framebus.Event{Type: framebus.EventFrame, FrameIndex: i, Count: 1, MaxCount: 1}
}

func TestFanout_ForwardsUntilTerminal(t *testing.T) {
	a, b := &fakeSink{name: "a"}, &fakeSink{name: "b"}
	f := NewFanout([]Sink{a, b}, 16, nil)
	assert.Equal(t, []string{"a", "b"}, f.Sinks())

	j := job.NewRegistry().Create(job.Source{Kind: job.KindVideo, Name: "clip.mp4"})
	f.Attach(j)

	j.Bus().Publish(frame(1))
	j.Bus().Publish(frame(2))
	j.Observe(1)
	j.Finish()
	require.NoError(t, f.Close())

	for _, s := range []*fakeSink{a, b} {
		events, _ := s.snapshot()
		require.Len(t, events, 3, s.name)
		assert.Equal(t, 1, events[0].FrameIndex)
		assert.Equal(t, framebus.EventDone, events[2].Type)
		assert.True(t, s.closed)
	}
}

func TestFanout_FailingSinkDetachedFromJob(t *testing.T) {
	bad := &fakeSink{name: "bad", failAt: 2}
	good := &fakeSink{name: "good"}
	reg := observability.NewRegistry()
	f := NewFanout([]Sink{bad, good}, 16, reg)

	j := job.NewRegistry().Create(job.Source{Kind: job.KindStream, Name: "rtsp://cam"})
	f.Attach(j)

	for i := 1; i <= 5; i++ {
		j.Bus().Publish(frame(i))
	}

	require.Eventually(t, func() bool {
		_, ok := j.Bus().Stats().Subscribers["sink:bad"]
		return !ok
	}, time.Second, 5*time.Millisecond, "failing sink should be unsubscribed")

	j.Fail("stream ended")
	require.NoError(t, f.Close())

	events, calls := bad.snapshot()
	assert.Len(t, events, 1)
	assert.Equal(t, 2, calls, "no publishes after the failure")

	events, _ = good.snapshot()
	require.Len(t, events, 6)
	assert.Equal(t, framebus.EventError, events[5].Type)
	assert.Equal(t, 1.0, reg.Value(observability.SinkFailures, map[string]string{"sink": "bad"}))
}

func TestFanout_SlowSinkDropsInsteadOfBlocking(t *testing.T) {
	slow := &fakeSink{name: "slow", delay: 20 * time.Millisecond}
	f := NewFanout([]Sink{slow}, 2, nil)

	j := job.NewRegistry().Create(job.Source{Kind: job.KindStream, Name: "rtsp://cam"})
	f.Attach(j)

	start := time.Now()
	for i := 1; i <= 50; i++ {
		j.Bus().Publish(frame(i))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "publishing must not wait on the sink")

	j.Finish()
	require.NoError(t, f.Close())

	events, _ := slow.snapshot()
	require.NotEmpty(t, events)
	assert.Less(t, len(events), 50)
	assert.Equal(t, framebus.EventDone, events[len(events)-1].Type, "terminal event always delivered")
}

func TestFanout_AttachAfterTerminal(t *testing.T) {
	s := &fakeSink{name: "s"}
	f := NewFanout([]Sink{s}, 0, nil)

	j := job.NewRegistry().Create(job.Source{Kind: job.KindVideo, Name: "x"})
	j.Finish()
	f.Attach(j)
	require.NoError(t, f.Close())

	_, calls := s.snapshot()
	assert.Zero(t, calls)
}

func TestFanout_Stats(t *testing.T) {
	f := NewFanout([]Sink{&fakeSink{name: "a"}}, 0, nil)
	stats := f.Stats()
	require.Contains(t, stats, "a")
	assert.True(t, stats["a"].Connected)
}

func TestEncode(t *testing.T) {
	data, err := Encode("job-1", framebus.Event{Type: framebus.EventDone, MaxCount: 4, Frames: 120})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "job-1", got["job_id"])
	event := got["event"].(map[string]any)
	assert.Equal(t, "done", event["type"])
	assert.Equal(t, 4.0, event["max_count"])
	assert.Equal(t, true, event["done"])
}

func TestTopicsAndKeys(t *testing.T) {
	m, err := NewMQTTSink(MQTTConfig{Broker: "localhost:1883", TopicPrefix: "site-a/counter/", QoS: map[string]byte{"done": 1, "frame": 7}})
	require.NoError(t, err)
	assert.Equal(t, "site-a/counter/jobs/j1/frame", m.Topic("j1", framebus.EventFrame))
	assert.Equal(t, byte(1), m.qos(framebus.EventDone))
	assert.Equal(t, byte(0), m.qos(framebus.EventFrame), "invalid qos falls back to 0")
	assert.Equal(t, byte(0), m.qos(framebus.EventError))

	assert.Equal(t, "job.j1.cancelled", RoutingKey("j1", framebus.EventCancelled))

	r := &RedisSink{prefix: "pc:jobs"}
	assert.Equal(t, "pc:jobs:j1", r.Channel("j1"))
}

func TestMQTTSink_PublishWhileDisconnected(t *testing.T) {
	m, err := NewMQTTSink(MQTTConfig{Broker: "localhost:1883"})
	require.NoError(t, err)

	err = m.Publish(context.Background(), "j1", frame(1))
	assert.Error(t, err)
	assert.Equal(t, uint64(1), m.Stats().Errors)
	assert.False(t, m.Stats().Connected)
	assert.NoError(t, m.Close())
}

func TestSinkValidation(t *testing.T) {
	_, err := NewMQTTSink(MQTTConfig{})
	assert.Error(t, err)
	_, err = NewAMQPSink(AMQPConfig{})
	assert.Error(t, err)
	_, err = NewRedisSink(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
