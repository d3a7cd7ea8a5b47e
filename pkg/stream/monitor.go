package stream

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DefaultPacing is the delay between character reads.
const DefaultPacing = time.Millisecond

// Monitor reads an output stream one character at a time, keeps the
// unterminated line in progress, publishes char and line events and pushes
// completed lines into the binding's queue.
type Monitor struct {
	binding  ReadBinding
	reader   *bufio.Reader
	shutdown *Shutdown
	pacing   time.Duration
	logger   *slog.Logger

	chars *Observers[CharEvent]
	lines *Observers[LineEvent]

	// mu guards line and err. Each Monitor has its own lock so stdout and
	// stderr assembly never wait on each other.
	mu   sync.Mutex
	line strings.Builder
	err  error

	done chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPacing sets the delay after each character. Zero disables pacing.
func WithPacing(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d >= 0 {
			m.pacing = d
		}
	}
}

// WithMonitorLogger sets the logger used for read failures.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCharObservers publishes char events to an existing registry.
func WithCharObservers(o *Observers[CharEvent]) MonitorOption {
	return func(m *Monitor) {
		if o != nil {
			m.chars = o
		}
	}
}

// WithLineObservers publishes line events to an existing registry.
func WithLineObservers(o *Observers[LineEvent]) MonitorOption {
	return func(m *Monitor) {
		if o != nil {
			m.lines = o
		}
	}
}

// NewMonitor creates a monitor for binding. Call Run to start reading.
func NewMonitor(binding ReadBinding, shutdown *Shutdown, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		binding:  binding,
		reader:   bufio.NewReader(binding.Stream),
		shutdown: shutdown,
		pacing:   DefaultPacing,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.chars == nil {
		m.chars = NewObservers[CharEvent](m.logger)
	}
	if m.lines == nil {
		m.lines = NewObservers[LineEvent](m.logger)
	}
	m.logger = m.logger.With("role", binding.Role.String())
	return m
}

// Role returns the stream role this monitor reads
func (m *Monitor) Role() Role {
	return m.binding.Role
}

// OnChar subscribes to char events and returns the unsubscribe function
func (m *Monitor) OnChar(fn func(CharEvent)) func() {
	return m.chars.Subscribe(fn)
}

// OnLine subscribes to line events and returns the unsubscribe function
func (m *Monitor) OnLine(fn func(LineEvent)) func() {
	return m.lines.Subscribe(fn)
}

// CurrentLine returns the characters read since the last line terminator
func (m *Monitor) CurrentLine() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.line.String()
}

// Err returns the read failure that ended the loop, if any. End of stream is
// not a failure.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done returns a channel that is closed when Run returns
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Run reads until end of stream, a read failure, or shutdown. It blocks and
// is meant to run on its own goroutine.
func (m *Monitor) Run() {
	defer close(m.done)

	m.mu.Lock()
	m.line.Reset()
	m.mu.Unlock()

	for {
		r, _, err := m.reader.ReadRune()
		if err != nil {
			if !IsEndOfStream(err) {
				m.mu.Lock()
				m.err = err
				m.mu.Unlock()
				m.logger.Error("stream read failed", "error", err)
			}
			return
		}

		m.consume(r)

		if m.shutdown.IsSet() {
			return
		}
		if m.pacing > 0 {
			time.Sleep(m.pacing)
		}
	}
}

// consume applies one character. Events are published after the lock is
// released so handlers may call back into the monitor.
func (m *Monitor) consume(r rune) {
	m.mu.Lock()
	before := m.line.String()
	if r != '\n' {
		m.line.WriteRune(r)
	}
	m.mu.Unlock()

	m.chars.Publish(CharEvent{Role: m.binding.Role, Char: r, Line: before})

	if r != '\n' {
		return
	}

	completed := strings.TrimRightFunc(before, unicode.IsSpace)
	m.mu.Lock()
	m.binding.Queue.Enqueue(completed)
	m.line.Reset()
	m.mu.Unlock()

	m.lines.Publish(LineEvent{Role: m.binding.Role, Line: completed})
}

// IsEndOfStream reports whether err means the stream ended rather than failed.
// A stream closed underneath a blocked reader counts as ended.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
