//go:build !unix

package process

import "errors"

// ErrTerminalUnsupported is returned by PTYSpawner on platforms without
// pseudo-terminals.
var ErrTerminalUnsupported = errors.New("terminal mode is not supported on this platform")

// PTYSpawner is unavailable on this platform.
type PTYSpawner struct {
	Rows        uint16
	Cols        uint16
	InheritSize bool
}

// Spawn always fails with ErrTerminalUnsupported.
func (PTYSpawner) Spawn(Command) (Handle, error) {
	return nil, ErrTerminalUnsupported
}
