//go:build unix

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// Default terminal size used when none is configured or inherited.
const (
	DefaultTerminalRows = 24
	DefaultTerminalCols = 80
)

// PTYSpawner attaches the child's stdin and stdout to a pseudo-terminal, for
// programs that refuse to run without one. Stderr stays a plain pipe so the
// two output roles remain separate. The terminal echoes input back onto
// stdout and translates "\n" into "\r\n".
type PTYSpawner struct {
	Rows uint16
	Cols uint16

	// InheritSize copies the size of the calling terminal when stdin is one.
	InheritSize bool
}

// Ensure PTYSpawner implements Spawner
var _ Spawner = PTYSpawner{}

// Spawn starts cmd as the leader of a new session on a fresh terminal.
func (s PTYSpawner) Spawn(c Command) (Handle, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env

	errR, errW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stderr = errW

	ptmx, err := pty.StartWithSize(cmd, s.size())
	_ = errW.Close()
	if err != nil {
		_ = errR.Close()
		return nil, fmt.Errorf("start %s on terminal: %w", c.Path, err)
	}

	return newChildHandle(cmd, terminalWriter{ptmx}, terminalReader{ptmx}, errR), nil
}

func (s PTYSpawner) size() *pty.Winsize {
	if s.InheritSize {
		if size, err := pty.GetsizeFull(os.Stdin); err == nil {
			return size
		}
	}

	size := &pty.Winsize{Rows: s.Rows, Cols: s.Cols}
	if size.Rows == 0 {
		size.Rows = DefaultTerminalRows
	}
	if size.Cols == 0 {
		size.Cols = DefaultTerminalCols
	}
	return size
}

// terminalReader is the stdout side of the terminal. Linux reports EIO once
// the child side closes, which is end of stream here.
type terminalReader struct {
	f *os.File
}

func (r terminalReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}

func (r terminalReader) Close() error {
	return r.f.Close()
}

// terminalWriter is the stdin side of the same terminal. Closing it is a no-op;
// the terminal is closed once, through the reader.
type terminalWriter struct {
	f *os.File
}

func (w terminalWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w terminalWriter) Close() error {
	return nil
}
