package stream

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how long the dispatcher waits when no input is pending.
const DefaultPollInterval = 100 * time.Millisecond

// Dispatcher drains pending input and writes it to the child's input stream
// until shutdown.
type Dispatcher struct {
	binding  WriteBinding
	shutdown *Shutdown
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	err     error
	written int

	done chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how long to wait between drains of an empty queue.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(di *Dispatcher) {
		if d > 0 {
			di.interval = d
		}
	}
}

// WithDispatcherLogger sets the logger used for write failures.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(di *Dispatcher) {
		if logger != nil {
			di.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher for binding. Call Run to start writing.
func NewDispatcher(binding WriteBinding, shutdown *Shutdown, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		binding:  binding,
		shutdown: shutdown,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("role", binding.Role.String())
	return d
}

// Done returns a channel that is closed when Run returns
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err returns the write failure that ended the loop, if any
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Written returns how many entries have been written to the stream
func (d *Dispatcher) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Run writes queued input until shutdown is raised, then makes one final
// drain so input queued just before the stop is not lost.
func (d *Dispatcher) Run() {
	defer close(d.done)

	for !d.shutdown.IsSet() {
		n, ok := d.flush()
		if !ok {
			return
		}
		if n > 0 {
			continue
		}

		timer := time.NewTimer(d.interval)
		select {
		case <-timer.C:
		case <-d.shutdown.Done():
			timer.Stop()
		}
	}

	d.flush()
}

// flush writes every pending entry in FIFO order, one Write per entry. It
// returns the number written and false if the stream failed.
func (d *Dispatcher) flush() (int, bool) {
	pending := d.binding.Queue.DrainAll()
	for i, input := range pending {
		if _, err := io.WriteString(d.binding.Stream, input); err != nil {
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			d.logger.Error("stream write failed", "error", err, "dropped", len(pending)-i)
			return i, false
		}
		d.mu.Lock()
		d.written++
		d.mu.Unlock()
	}
	return len(pending), true
}
