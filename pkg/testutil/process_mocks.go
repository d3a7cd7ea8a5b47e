package testutil

import (
	"bytes"
	"io"
	"sync"

	"github.com/Veraticus/ctlproc/pkg/process"
)

// FakeProcess is an in-memory process.Handle. Output is fed with WriteStdout
// and WriteStderr, and everything written to its stdin is captured.
type FakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	done      chan struct{}
	inputDone chan struct{}
	exitOnce  sync.Once

	mu         sync.Mutex
	exitCode   int
	killCount  int
	killed     bool
	ignoreKill bool
	released   bool
	input      bytes.Buffer
	onInput    func(string)
}

// Ensure FakeProcess implements process.Handle
var _ process.Handle = (*FakeProcess)(nil)

// NewFakeProcess creates a running fake process
func NewFakeProcess() *FakeProcess {
	p := &FakeProcess{
		done:      make(chan struct{}),
		inputDone: make(chan struct{}),
		exitCode:  -1,
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	go p.captureInput()
	return p
}

func (p *FakeProcess) captureInput() {
	defer close(p.inputDone)
	buf := make([]byte, 4096)
	for {
		n, err := p.stdinR.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.input.Write(buf[:n])
			hook := p.onInput
			p.mu.Unlock()
			if hook != nil {
				hook(string(buf[:n]))
			}
		}
		if err != nil {
			return
		}
	}
}

// WriteStdout feeds s to the stdout monitor. It blocks until read.
func (p *FakeProcess) WriteStdout(s string) error {
	_, err := io.WriteString(p.stdoutW, s)
	return err
}

// WriteStderr feeds s to the stderr monitor. It blocks until read.
func (p *FakeProcess) WriteStderr(s string) error {
	_, err := io.WriteString(p.stderrW, s)
	return err
}

// CloseOutput ends both output streams
func (p *FakeProcess) CloseOutput() {
	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()
}

// Exit closes the output streams and marks the process exited with code
func (p *FakeProcess) Exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		p.CloseOutput()
		close(p.done)
	})
}

// SetIgnoreKill makes Kill record the call without ending the process
func (p *FakeProcess) SetIgnoreKill(ignore bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignoreKill = ignore
}

// OnInput sets a hook called with each chunk written to stdin
func (p *FakeProcess) OnInput(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onInput = fn
}

// Input returns everything written to stdin so far
func (p *FakeProcess) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// KillCount returns how many times Kill actually signalled the process
func (p *FakeProcess) KillCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killCount
}

// IsReleased returns whether Release was called
func (p *FakeProcess) IsReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// IsExited returns whether the process has exited
func (p *FakeProcess) IsExited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stdin implements process.Handle
func (p *FakeProcess) Stdin() io.WriteCloser { return p.stdinW }

// Stdout implements process.Handle
func (p *FakeProcess) Stdout() io.ReadCloser { return p.stdoutR }

// Stderr implements process.Handle
func (p *FakeProcess) Stderr() io.ReadCloser { return p.stderrR }

// Pid implements process.Handle
func (p *FakeProcess) Pid() int { return 4242 }

// Done implements process.Handle
func (p *FakeProcess) Done() <-chan struct{} { return p.done }

// ExitCode implements process.Handle
func (p *FakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Kill implements process.Handle. Like the real handle it signals at most once.
func (p *FakeProcess) Kill() error {
	if p.IsExited() {
		return nil
	}

	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	p.killCount++
	ignore := p.ignoreKill
	p.mu.Unlock()

	if !ignore {
		p.Exit(-1)
	}
	return nil
}

// Release implements process.Handle
func (p *FakeProcess) Release() error {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()

	_ = p.stdinW.Close()
	_ = p.stdoutR.Close()
	_ = p.stderrR.Close()
	return nil
}

// FakeSpawner hands out a FakeProcess, or fails with Err.
type FakeSpawner struct {
	mu       sync.Mutex
	process  *FakeProcess
	err      error
	commands []process.Command
}

// Ensure FakeSpawner implements process.Spawner
var _ process.Spawner = (*FakeSpawner)(nil)

// NewFakeSpawner creates a spawner that returns p
func NewFakeSpawner(p *FakeProcess) *FakeSpawner {
	return &FakeSpawner{process: p}
}

// NewFailingSpawner creates a spawner whose Spawn always fails with err
func NewFailingSpawner(err error) *FakeSpawner {
	return &FakeSpawner{err: err}
}

// Spawn implements process.Spawner
func (s *FakeSpawner) Spawn(cmd process.Command) (process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append(s.commands, cmd)
	if s.err != nil {
		return nil, s.err
	}
	return s.process, nil
}

// Commands returns every command passed to Spawn
func (s *FakeSpawner) Commands() []process.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]process.Command, len(s.commands))
	copy(result, s.commands)
	return result
}
