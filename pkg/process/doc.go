// Package process supervises a child process through its standard streams.
//
// A Supervisor spawns the child and runs three workers for it: a monitor on
// stdout, a monitor on stderr, and an input dispatcher on stdin. Callers read
// buffered lines, queue input and subscribe to character and line events
// while the child runs, then stop it within explicit time bounds.
//
// # Usage
//
//	sup, err := process.New("/usr/bin/ftp", "-n legacy.example", "/tmp")
//	if err != nil {
//	    return err
//	}
//	defer sup.Dispose()
//
//	sup.OnOutputLine(func(e stream.LineEvent) {
//	    fmt.Println(e.Line)
//	})
//	if err := sup.Start(); err != nil {
//	    return err
//	}
//
//	sup.SetInput("user anonymous\n")
//	result, err := sup.StopInput("bye\n")
//
// # Stopping
//
// StopWithOptions either flushes a final input and gives the child time to
// react (graceful), or raises shutdown immediately (forced). Every join and
// wait is bounded. A worker that misses its bound has its stream closed; a
// child that misses the final wait is killed and the result is NotExited,
// whose ExitCode is SentinelExitCode.
//
// # Spawners
//
// PipeSpawner connects the streams to pipes. PTYSpawner attaches stdin and
// stdout to a pseudo-terminal for programs that insist on one.
//
// # Thread Safety
//
// Supervisor is safe for concurrent use. Event handlers run synchronously on
// the worker goroutine of their stream.
package process
