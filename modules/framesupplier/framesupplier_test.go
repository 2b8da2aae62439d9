package framesupplier_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-people-counter/modules/framesupplier"
)

// --- Test 1: Publish() Non-Blocking ---

// TestPublishNonBlocking validates Publish() returns immediately even with blocked readers.
//
// Scenario:
//  1. Park 4 readers in Wait() on a sequence that never arrives quickly
//  2. Publish 100 frames in tight loop
//  3. Assert: Total time < 100ms (non-blocking)
func TestPublishNonBlocking(t *testing.T) {
	snap := framesupplier.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap.Wait(ctx, 1_000_000)
		}()
	}

	start := time.Now()
	for i := 0; i < 100; i++ {
		snap.Publish([]byte("jpeg"))
	}
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("Publish() blocked: elapsed=%v (expected <100ms)", elapsed)
	}

	cancel()
	wg.Wait()
}

// --- Test 2: Sequence Numbers ---

// TestSequenceStrictlyIncreasing validates Seq starts at 1 and increments by one.
func TestSequenceStrictlyIncreasing(t *testing.T) {
	snap := framesupplier.New()

	if got := snap.Latest(); got.Seq != 0 || got.Data != nil {
		t.Fatalf("empty snapshot Latest() = %+v, want zero frame", got)
	}

	for want := uint64(1); want <= 5; want++ {
		if got := snap.Publish([]byte{byte(want)}); got != want {
			t.Errorf("Publish() seq = %d, want %d", got, want)
		}
	}

	latest := snap.Latest()
	if latest.Seq != 5 || latest.Data[0] != 5 {
		t.Errorf("Latest() = seq %d data %v, want seq 5", latest.Seq, latest.Data)
	}
}

// --- Test 3: Mailbox Overwrite ---

// TestOverwriteCounting validates unread frames are counted as overwritten.
func TestOverwriteCounting(t *testing.T) {
	snap := framesupplier.New()

	snap.Publish([]byte("1"))
	snap.Publish([]byte("2")) // overwrites unread 1
	snap.Latest()             // reads 2
	snap.Publish([]byte("3")) // 2 was read: not counted

	if got := snap.Stats().Overwritten; got != 1 {
		t.Errorf("Overwritten = %d, want 1", got)
	}
}

// --- Test 4: Wait Semantics ---

func TestWait_ReturnsNewerFrame(t *testing.T) {
	snap := framesupplier.New()
	snap.Publish([]byte("old"))

	result := make(chan framesupplier.Frame, 1)
	go func() {
		frame, err := snap.Wait(context.Background(), 1)
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		result <- frame
	}()

	// Give the reader time to block
	time.Sleep(20 * time.Millisecond)
	snap.Publish([]byte("new"))

	select {
	case frame := <-result:
		if frame.Seq != 2 || string(frame.Data) != "new" {
			t.Errorf("Wait() = seq %d %q, want seq 2 \"new\"", frame.Seq, frame.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not wake on Publish")
	}
}

func TestWait_ImmediateWhenAlreadyNewer(t *testing.T) {
	snap := framesupplier.New()
	snap.Publish([]byte("a"))
	snap.Publish([]byte("b"))

	frame, err := snap.Wait(context.Background(), 0)
	if err != nil || frame.Seq != 2 {
		t.Errorf("Wait(0) = seq %d err %v, want seq 2", frame.Seq, err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	snap := framesupplier.New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := snap.Wait(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if got := snap.Stats().Readers; got != 0 {
		t.Errorf("Readers after Wait = %d, want 0", got)
	}
}

func TestWait_ClosedWakesReaders(t *testing.T) {
	snap := framesupplier.New()
	snap.Publish([]byte("last"))

	errc := make(chan error, 1)
	go func() {
		_, err := snap.Wait(context.Background(), 1)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	snap.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, framesupplier.ErrClosed) {
			t.Errorf("Wait() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not wake Wait()")
	}

	// Last frame stays readable, later publishes are ignored
	if got := snap.Publish([]byte("late")); got != 1 {
		t.Errorf("Publish after Close seq = %d, want 1", got)
	}
	if got := snap.Latest(); string(got.Data) != "last" {
		t.Errorf("Latest() after Close = %q, want \"last\"", got.Data)
	}
}

// --- Test 5: Poll Termination ---

// TestPoll_EmitsOnlyNewFrames validates that unchanged sequence numbers are not re-emitted.
func TestPoll_EmitsOnlyNewFrames(t *testing.T) {
	snap := framesupplier.New()
	snap.Publish([]byte("1"))

	var mu sync.Mutex
	var seqs []uint64

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- framesupplier.Poll(ctx, snap, 5*time.Millisecond, func(f framesupplier.Frame) error {
			mu.Lock()
			seqs = append(seqs, f.Seq)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(40 * time.Millisecond) // several ticks, same frame
	snap.Publish([]byte("2"))
	time.Sleep(40 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("emitted seqs = %v, want [1 2]", seqs)
	}
}

// TestPoll_StopsAfterTerminal validates the stream ends one quiet interval after Close.
func TestPoll_StopsAfterTerminal(t *testing.T) {
	snap := framesupplier.New()
	snap.Publish([]byte("1"))
	snap.Publish([]byte("2"))
	snap.Close()

	var emitted []uint64
	start := time.Now()
	err := framesupplier.Poll(context.Background(), snap, 10*time.Millisecond, func(f framesupplier.Frame) error {
		emitted = append(emitted, f.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(emitted) != 1 || emitted[0] != 2 {
		t.Errorf("emitted = %v, want [2] (latest only)", emitted)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Poll() took %v after terminal", elapsed)
	}
}

// TestPoll_NoFrameEmitsNothing validates that sequence 0 is never emitted.
func TestPoll_NoFrameEmitsNothing(t *testing.T) {
	snap := framesupplier.New()
	snap.Close()

	calls := 0
	err := framesupplier.Poll(context.Background(), snap, 5*time.Millisecond, func(framesupplier.Frame) error {
		calls++
		return nil
	})
	if err != nil || calls != 0 {
		t.Errorf("Poll() = %v with %d emits, want nil and 0", err, calls)
	}
}

func TestPoll_EmitErrorStops(t *testing.T) {
	snap := framesupplier.New()
	snap.Publish([]byte("1"))

	clientGone := errors.New("broken pipe")
	err := framesupplier.Poll(context.Background(), snap, 5*time.Millisecond, func(framesupplier.Frame) error {
		return clientGone
	})
	if !errors.Is(err, clientGone) {
		t.Errorf("Poll() error = %v, want emit error", err)
	}
	if got := snap.Stats().Readers; got != 0 {
		t.Errorf("Readers after Poll = %d, want 0", got)
	}
}
