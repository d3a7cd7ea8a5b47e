package process

import "io"

// Command describes the child to spawn. Args excludes the program name.
// A nil Env inherits the calling process's environment.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Spawner starts a child process with its three standard streams connected
// to the parent.
type Spawner interface {
	Spawn(cmd Command) (Handle, error)
}

// Handle is a running child process and the parent's ends of its streams.
type Handle interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Pid() int

	// Done is closed once the child has exited and been reaped.
	Done() <-chan struct{}

	// ExitCode is valid after Done is closed. It is -1 when the child was
	// terminated by a signal.
	ExitCode() int

	// Kill terminates the child. It returns nil if the child already exited
	// and never signals the same child twice.
	Kill() error

	// Release closes the parent's ends of all streams.
	Release() error
}
