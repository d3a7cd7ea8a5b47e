package idle

import (
	"sync"
	"time"

	"github.com/Veraticus/ctlproc/pkg/stream"
)

// Watchdog calls onIdle once the child has been quiet for timeout. It fires
// at most once per quiet period: new activity re-arms it.
type Watchdog struct {
	timeout time.Duration
	onIdle  func()

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	fired  bool
	closed bool
}

// NewWatchdog creates and arms a watchdog. A non-positive timeout disables it.
func NewWatchdog(timeout time.Duration, onIdle func()) *Watchdog {
	w := &Watchdog{
		timeout: timeout,
		onIdle:  onIdle,
	}

	if timeout > 0 {
		w.mu.Lock()
		w.arm()
		w.mu.Unlock()
	}

	return w
}

// Observe marks a character event as activity.
func (w *Watchdog) Observe(stream.CharEvent) {
	w.MarkActivity()
}

// MarkActivity resets the quiet period.
func (w *Watchdog) MarkActivity() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.timeout <= 0 {
		return
	}

	w.fired = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.arm()
}

// arm starts a timer for a new quiet period. Callers hold mu.
func (w *Watchdog) arm() {
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(gen) })
}

// Fired reports whether onIdle ran for the current quiet period.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if w.fired || w.closed || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	// onIdle runs unlocked; it may cause more activity.
	if w.onIdle != nil {
		w.onIdle()
	}
}

// Close stops the timer. onIdle is not called afterwards.
func (w *Watchdog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}

	return nil
}
