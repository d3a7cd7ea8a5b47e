// Package stream implements the per-stream workers of a supervised process:
// the Monitor that turns an output stream into characters and lines, and the
// Dispatcher that feeds queued input into the process.
package stream

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Veraticus/ctlproc/pkg/linequeue"
)

// Role identifies which standard stream a worker is bound to.
type Role int

const (
	// RoleStdout is the child's standard output.
	RoleStdout Role = iota
	// RoleStderr is the child's standard error.
	RoleStderr
	// RoleStdin is the child's standard input.
	RoleStdin
)

// String returns the conventional stream name.
func (r Role) String() string {
	switch r {
	case RoleStdout:
		return "stdout"
	case RoleStderr:
		return "stderr"
	case RoleStdin:
		return "stdin"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ParseRole converts a stream name into a Role.
func ParseRole(name string) (Role, error) {
	switch name {
	case "stdout":
		return RoleStdout, nil
	case "stderr":
		return RoleStderr, nil
	case "stdin":
		return RoleStdin, nil
	default:
		return 0, fmt.Errorf("unknown stream %q", name)
	}
}

// ReadBinding ties an output stream to the queue that receives its lines.
type ReadBinding struct {
	Role   Role
	Stream io.Reader
	Queue  *linequeue.Queue
}

// WriteBinding ties the input stream to the queue of pending input.
type WriteBinding struct {
	Role   Role
	Stream io.Writer
	Queue  *linequeue.Queue
}

// Shutdown is the stop flag shared by every worker of one supervisor. Once
// raised it stays raised.
type Shutdown struct {
	raised atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// NewShutdown creates a lowered flag
func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

// Raise sets the flag. It reports whether this call was the one that set it.
func (s *Shutdown) Raise() bool {
	first := false
	s.once.Do(func() {
		s.raised.Store(true)
		close(s.done)
		first = true
	})
	return first
}

// IsSet reports whether the flag has been raised
func (s *Shutdown) IsSet() bool {
	return s.raised.Load()
}

// Done returns a channel that is closed when the flag is raised
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}
