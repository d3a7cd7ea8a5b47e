package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Veraticus/ctlproc/pkg/config"
	"github.com/Veraticus/ctlproc/pkg/idle"
	"github.com/Veraticus/ctlproc/pkg/monitor"
	"github.com/Veraticus/ctlproc/pkg/process"
	"github.com/Veraticus/ctlproc/pkg/stream"
)

// Exit codes for outcomes that are not the child's own code
const (
	exitFailure  = 1
	exitTimedOut = 124
)

// Dependencies holds all the dependencies for the application
type Dependencies struct {
	Config  *config.Config
	Logger  *slog.Logger
	Spawner process.Spawner

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewDependencies creates the default dependencies for cfg
func NewDependencies(cfg *config.Config, logger *slog.Logger) *Dependencies {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Spawner: process.PipeSpawner{},
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	if cfg.Terminal {
		deps.Spawner = process.PTYSpawner{InheritSize: isatty(os.Stdin.Fd())}
	}

	return deps
}

// Application runs one child under a supervisor
type Application struct {
	deps *Dependencies

	relayMu sync.Mutex
	stop    chan string
	once    sync.Once

	supervisor *process.Supervisor
	responder  *monitor.Responder
	detector   *idle.OutputDetector
	watchdog   *idle.Watchdog
	result     process.ExitResult
	failed     bool
}

// NewApplication creates a new application with the given dependencies
func NewApplication(deps *Dependencies) *Application {
	return &Application{
		deps:     deps,
		stop:     make(chan string, 1),
		detector: idle.NewOutputDetector(),
		result:   process.NotExited(),
	}
}

// Run starts command and relays its streams until it exits, ctx is
// cancelled, or it goes idle.
func (a *Application) Run(ctx context.Context, command string, args []string) error {
	cfg := a.deps.Config
	logger := a.deps.Logger

	a.supervisor = process.NewWithArgs(command, args, cfg.WorkingDir,
		process.WithSpawner(a.deps.Spawner),
		process.WithLogger(logger),
		process.WithPacing(cfg.Pacing),
		process.WithPollInterval(cfg.PollInterval),
		process.WithStopDefaults(cfg.Stop.Options()),
	)
	defer func() {
		if err := a.supervisor.Dispose(); err != nil {
			logger.Error("dispose failed", "error", err)
		}
	}()

	a.supervisor.OnOutputChar(a.relayChar)
	a.supervisor.OnErrorLine(a.relayErrorLine)
	a.supervisor.OnOutputChar(a.detector.Observe)
	a.supervisor.OnErrorChar(a.detector.Observe)

	if len(cfg.Rules) > 0 {
		ropts := []monitor.ResponderOption{monitor.WithResponderLogger(logger)}
		if cfg.ReplyLimit.Burst > 0 {
			limiter := monitor.NewTokenBucketRateLimiter(cfg.ReplyLimit.Burst, cfg.ReplyLimit.Interval)
			ropts = append(ropts, monitor.WithRateLimiter(limiter))
		}
		a.responder = monitor.NewResponder(cfg.Rules, a.supervisor, ropts...)
		a.responder.Attach(a.supervisor)
	}

	if cfg.IdleTimeout > 0 {
		a.watchdog = idle.NewWatchdog(cfg.IdleTimeout, func() { a.requestStop("idle") })
		defer func() { _ = a.watchdog.Close() }()
		a.supervisor.OnOutputChar(a.watchdog.Observe)
		a.supervisor.OnErrorChar(a.watchdog.Observe)
	}

	if err := a.supervisor.Start(); err != nil {
		a.failed = true
		return err
	}

	go a.forwardInput()

	select {
	case <-a.supervisor.Exited():
		// Let the monitors drain what the child wrote before it exited.
		select {
		case <-a.supervisor.StreamsClosed():
		case <-ctx.Done():
		case <-time.After(cfg.Stop.Timeout):
		}
		logger.Debug("process exited on its own")
		return a.finish(process.UniformStopOptions(cfg.Stop.Timeout))
	case <-ctx.Done():
		logger.Info("stopping on signal", "final_input", cfg.Stop.FinalInput != "")
	case reason := <-a.stop:
		logger.Info("stopping", "reason", reason, "last_activity", a.detector.LastActivity())
	}

	return a.finish(cfg.Stop.Options())
}

func (a *Application) finish(opts process.StopOptions) error {
	result, err := a.supervisor.StopWithOptions(opts)
	a.result = result
	if err != nil {
		a.failed = true
		return fmt.Errorf("stop process: %w", err)
	}
	return nil
}

// requestStop asks Run to stop the child. Only the first request counts.
func (a *Application) requestStop(reason string) {
	a.once.Do(func() {
		a.stop <- reason
	})
}

// Stop stops the child as if it had gone idle
func (a *Application) Stop() {
	a.requestStop("requested")
}

// ExitCode returns the exit code of the wrapped process, exitTimedOut if it
// did not exit in time, or exitFailure if it could not be run or stopped
func (a *Application) ExitCode() int {
	if a.failed {
		return exitFailure
	}
	code, exited := a.result.Code()
	if !exited {
		return exitTimedOut
	}
	if code < 0 {
		// Killed by a signal.
		return exitFailure
	}
	return code
}

// Result returns the result of the last stop
func (a *Application) Result() process.ExitResult {
	return a.result
}

// Replies returns how many automatic replies were sent
func (a *Application) Replies() int {
	if a.responder == nil {
		return 0
	}
	return a.responder.Replies()
}

func (a *Application) relayChar(e stream.CharEvent) {
	a.relayMu.Lock()
	defer a.relayMu.Unlock()
	_, _ = io.WriteString(a.deps.Stdout, string(e.Char))
}

func (a *Application) relayErrorLine(e stream.LineEvent) {
	a.relayMu.Lock()
	defer a.relayMu.Unlock()
	_, _ = fmt.Fprintln(a.deps.Stderr, e.Line)
}

// forwardInput sends each line read from our stdin to the child.
func (a *Application) forwardInput() {
	if a.deps.Stdin == nil {
		return
	}

	scanner := bufio.NewScanner(a.deps.Stdin)
	for scanner.Scan() {
		a.supervisor.SetInput(scanner.Text() + "\n")
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		a.deps.Logger.Debug("stdin read failed", "error", err)
	}
}
