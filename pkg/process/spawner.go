package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// PipeSpawner connects the child's standard streams to OS pipes. The parent
// owns its pipe ends directly, so reaping the child never closes a stream that
// a monitor is still draining.
type PipeSpawner struct{}

// Ensure PipeSpawner implements Spawner
var _ Spawner = PipeSpawner{}

// Spawn starts cmd in its own process group without a shell.
func (PipeSpawner) Spawn(c Command) (Handle, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	setProcessGroup(cmd)

	var opened []*os.File
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	opened = append(opened, inR, inW)

	outR, outW, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	opened = append(opened, outR, outW)

	errR, errW, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	opened = append(opened, errR, errW)

	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}

	// The child holds its own copies now.
	_ = inR.Close()
	_ = outW.Close()
	_ = errW.Close()

	return newChildHandle(cmd, inW, outR, errR), nil
}

// childHandle is the Handle shared by the pipe and terminal spawners.
type childHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	done     chan struct{}
	exitCode atomic.Int32

	kill func(*os.Process) error

	mu       sync.Mutex
	killed   bool
	released bool
}

func newChildHandle(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *childHandle {
	h := &childHandle{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
		kill:   killProcess,
	}
	h.exitCode.Store(-1)
	go h.wait()
	return h
}

// wait reaps the child and records its exit code
func (h *childHandle) wait() {
	err := h.cmd.Wait()

	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	} else if err == nil {
		code = 0
	}

	h.exitCode.Store(int32(code))
	close(h.done)
}

func (h *childHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *childHandle) Stdout() io.ReadCloser { return h.stdout }
func (h *childHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *childHandle) Pid() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

func (h *childHandle) Done() <-chan struct{} { return h.done }

func (h *childHandle) ExitCode() int { return int(h.exitCode.Load()) }

func (h *childHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.killed || h.exited() {
		return nil
	}

	// A failed kill leaves the handle eligible for another attempt.
	if err := h.kill(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	h.killed = true
	return nil
}

func (h *childHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	var errs []error
	for name, c := range map[string]io.Closer{"stdin": h.stdin, "stdout": h.stdout, "stderr": h.stderr} {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (h *childHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
