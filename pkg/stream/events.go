package stream

import (
	"log/slog"
	"sync"
)

// CharEvent is published for every character read from an output stream.
// Line is the line-so-far as it was before Char was appended.
type CharEvent struct {
	Role Role
	Char rune
	Line string
}

// LineEvent is published when an output stream completes a line. Line has
// its trailing whitespace trimmed.
type LineEvent struct {
	Role Role
	Line string
}

type subscription[E any] struct {
	id uint64
	fn func(E)
}

// Observers is a registry of handlers for one kind of event. Publish calls
// handlers synchronously in subscription order.
type Observers[E any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[E]
	logger *slog.Logger
}

// NewObservers creates an empty registry. Panics raised by handlers are
// recovered and logged to logger.
func NewObservers[E any](logger *slog.Logger) *Observers[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observers[E]{logger: logger}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (o *Observers[E]) Subscribe(fn func(E)) func() {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, subscription[E]{id: id, fn: fn})
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered handlers
func (o *Observers[E]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}

// Publish delivers e to every handler registered at the time of the call
func (o *Observers[E]) Publish(e E) {
	o.mu.RLock()
	if len(o.subs) == 0 {
		o.mu.RUnlock()
		return
	}
	subs := make([]subscription[E], len(o.subs))
	copy(subs, o.subs)
	o.mu.RUnlock()

	for _, s := range subs {
		o.call(s.fn, e)
	}
}

func (o *Observers[E]) call(fn func(E), e E) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn(e)
}
