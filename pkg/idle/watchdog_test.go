package idle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/ctlproc/pkg/stream"
)

func TestWatchdog_FiresAfterQuiet(t *testing.T) {
	var calls atomic.Int32
	w := NewWatchdog(20*time.Millisecond, func() { calls.Add(1) })
	defer func() { _ = w.Close() }()

	time.Sleep(100 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("onIdle called %d times, want 1", got)
	}
	if !w.Fired() {
		t.Error("Fired() should be true after the quiet period")
	}
}

func TestWatchdog_ActivityDefers(t *testing.T) {
	var calls atomic.Int32
	w := NewWatchdog(60*time.Millisecond, func() { calls.Add(1) })
	defer func() { _ = w.Close() }()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		w.Observe(stream.CharEvent{Role: stream.RoleStdout, Char: '.'})
	}

	if got := calls.Load(); got != 0 {
		t.Errorf("onIdle called %d times during activity, want 0", got)
	}
}

func TestWatchdog_RearmsAfterActivity(t *testing.T) {
	fired := make(chan struct{}, 4)
	w := NewWatchdog(20*time.Millisecond, func() { fired <- struct{}{} })
	defer func() { _ = w.Close() }()

	waitFired := func() {
		t.Helper()
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("onIdle not called")
		}
	}

	waitFired()
	w.MarkActivity()
	if w.Fired() {
		t.Error("Fired() should reset on activity")
	}
	waitFired()
}

func TestWatchdog_Disabled(t *testing.T) {
	var calls atomic.Int32
	w := NewWatchdog(0, func() { calls.Add(1) })
	w.MarkActivity()

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("disabled watchdog called onIdle %d times", got)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWatchdog_Close(t *testing.T) {
	var calls atomic.Int32
	w := NewWatchdog(30*time.Millisecond, func() { calls.Add(1) })

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	w.MarkActivity()

	time.Sleep(80 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("closed watchdog called onIdle %d times", got)
	}
}
