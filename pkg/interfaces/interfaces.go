// Package interfaces defines the small interfaces shared between the
// supervisor and the components that consume its events.
package interfaces

import (
	"time"

	"github.com/Veraticus/ctlproc/pkg/stream"
)

// InputSink accepts text for a child's stdin.
type InputSink interface {
	SetInput(text string)
}

// CharHandler processes characters as they are read.
type CharHandler interface {
	HandleChar(e stream.CharEvent)
}

// LineHandler processes completed lines.
type LineHandler interface {
	HandleLine(e stream.LineEvent)
}

// EventSource publishes character and line events for both output streams.
type EventSource interface {
	OnOutputChar(fn func(stream.CharEvent)) func()
	OnErrorChar(fn func(stream.CharEvent)) func()
	OnOutputLine(fn func(stream.LineEvent)) func()
	OnErrorLine(fn func(stream.LineEvent)) func()
}

// ActivityDetector tracks output quiescence.
type ActivityDetector interface {
	IsIdle(threshold time.Duration) bool
	LastActivity() time.Time
}

// MatchResult represents a pattern match result.
type MatchResult struct {
	PatternName string
	Text        string
	Position    int
}

// PatternMatcher matches patterns in text.
type PatternMatcher interface {
	Match(text string) []MatchResult
}

// RateLimiter decides whether an action may proceed now.
type RateLimiter interface {
	Allow() bool
}
