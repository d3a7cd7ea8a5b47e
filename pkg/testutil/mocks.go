package testutil

import (
	"sync"

	"github.com/Veraticus/ctlproc/pkg/interfaces"
	"github.com/Veraticus/ctlproc/pkg/stream"
)

// Recorder is a thread-safe collector of char and line events.
type Recorder struct {
	mu    sync.Mutex
	chars []stream.CharEvent
	lines []stream.LineEvent
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// HandleChar implements interfaces.CharHandler
func (r *Recorder) HandleChar(e stream.CharEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chars = append(r.chars, e)
}

// HandleLine implements interfaces.LineHandler
func (r *Recorder) HandleLine(e stream.LineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, e)
}

// Attach subscribes the recorder to every event of src and returns a function
// that detaches it
func (r *Recorder) Attach(src interfaces.EventSource) func() {
	unsubs := []func(){
		src.OnOutputChar(r.HandleChar),
		src.OnErrorChar(r.HandleChar),
		src.OnOutputLine(r.HandleLine),
		src.OnErrorLine(r.HandleLine),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Chars returns a copy of the recorded char events
func (r *Recorder) Chars() []stream.CharEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]stream.CharEvent, len(r.chars))
	copy(result, r.chars)
	return result
}

// Lines returns the text of recorded line events for role, in order
func (r *Recorder) Lines(role stream.Role) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := []string{}
	for _, e := range r.lines {
		if e.Role == role {
			result = append(result, e.Line)
		}
	}
	return result
}

// Text returns the characters recorded for role, concatenated
func (r *Recorder) Text(role stream.Role) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []rune
	for _, e := range r.chars {
		if e.Role == role {
			out = append(out, e.Char)
		}
	}
	return string(out)
}

// MockInputSink is a mock implementation of interfaces.InputSink for testing
type MockInputSink struct {
	mu     sync.Mutex
	inputs []string
}

// NewMockInputSink creates a new mock input sink
func NewMockInputSink() *MockInputSink {
	return &MockInputSink{}
}

// SetInput implements the InputSink interface
func (m *MockInputSink) SetInput(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, text)
}

// Inputs returns every input received, in order
func (m *MockInputSink) Inputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.inputs))
	copy(result, m.inputs)
	return result
}
