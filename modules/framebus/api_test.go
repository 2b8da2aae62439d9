package framebus_test

import (
	"encoding/json"
	"testing"

	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

// TestPublicAPIContract validates the public API surface remains stable

func TestPublicAPI_New(t *testing.T) {
	bus := framebus.New()
	if bus == nil {
		t.Fatal("New() should return non-nil Bus")
	}
}

func TestPublicAPI_SubscribeChannel(t *testing.T) {
	bus := framebus.New()
	defer bus.Close(framebus.Event{Type: framebus.EventDone})

	ch := make(chan framebus.Event, 1)

	if err := bus.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe() should succeed: %v", err)
	}
	if err := bus.Subscribe("test", ch); err != framebus.ErrSubscriberExists {
		t.Errorf("Subscribe() duplicate should return ErrSubscriberExists, got %v", err)
	}
	if err := bus.Subscribe("test2", nil); err != framebus.ErrNilChannel {
		t.Errorf("Subscribe(nil) should return ErrNilChannel, got %v", err)
	}
}

func TestPublicAPI_Lifecycle(t *testing.T) {
	bus := framebus.New()

	ch := make(chan framebus.Event, 8)
	bus.Subscribe("ws", ch)

	bus.Publish(framebus.Event{Type: framebus.EventFrame, FrameIndex: 6, Count: 1, MaxCount: 1})
	bus.Publish(framebus.Event{Type: framebus.EventFrame, FrameIndex: 12, Count: 3, MaxCount: 3})
	if err := bus.Close(framebus.Event{Type: framebus.EventDone, MaxCount: 3, Frames: 12}); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	var wire []string
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		wire = append(wire, string(data))
	}

	want := []string{
		`{"type":"frame","frame_index":6,"count":1,"max_count":1,"timestamp_ms":0,"done":false}`,
		`{"type":"frame","frame_index":12,"count":3,"max_count":3,"timestamp_ms":0,"done":false}`,
		`{"type":"done","max_count":3,"frames":12,"done":true}`,
	}
	if len(wire) != len(want) {
		t.Fatalf("received %d events, want %d: %v", len(wire), len(want), wire)
	}
	for i := range want {
		if wire[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, wire[i], want[i])
		}
	}

	if err := bus.Subscribe("late", make(chan framebus.Event, 1)); err != framebus.ErrBusClosed {
		t.Errorf("Subscribe() after Close should return ErrBusClosed, got %v", err)
	}
}

func TestPublicAPI_Stats(t *testing.T) {
	bus := framebus.New()

	bus.Subscribe("a", make(chan framebus.Event, 1))
	bus.Publish(framebus.Event{Type: framebus.EventFrame})
	bus.Publish(framebus.Event{Type: framebus.EventFrame})

	stats := bus.Stats()
	if stats.TotalPublished != 2 || stats.TotalSent != 1 || stats.TotalDropped != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if rate := framebus.CalculateDropRate(stats); rate != 0.5 {
		t.Errorf("CalculateDropRate() = %v, want 0.5", rate)
	}
}
