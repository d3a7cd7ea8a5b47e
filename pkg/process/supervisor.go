package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/Veraticus/ctlproc/pkg/linequeue"
	"github.com/Veraticus/ctlproc/pkg/stream"
)

// DefaultStopTimeout bounds each wait of Stop when no options are given.
const DefaultStopTimeout = 100 * time.Millisecond

// killConfirmTimeout bounds the wait for a killed child to be reaped.
const killConfirmTimeout = time.Second

// StopOptions bounds each phase of a stop. An empty FinalInput selects the
// forced path.
type StopOptions struct {
	// Timeout bounds the graceful wait and the final wait for exit.
	Timeout time.Duration
	// InputTimeout bounds the join of the input dispatcher.
	InputTimeout time.Duration
	// OutputTimeout bounds the join of the stdout monitor.
	OutputTimeout time.Duration
	// ErrorTimeout bounds the join of the stderr monitor.
	ErrorTimeout time.Duration
	// FinalInput is written to the child before shutdown is raised,
	// typically a command the child reads as "exit".
	FinalInput string
}

// DefaultStopOptions returns DefaultStopTimeout for every bound and no final input.
func DefaultStopOptions() StopOptions {
	return UniformStopOptions(DefaultStopTimeout)
}

// UniformStopOptions uses overall for every bound and no final input.
func UniformStopOptions(overall time.Duration) StopOptions {
	return StopOptions{
		Timeout:       overall,
		InputTimeout:  overall,
		OutputTimeout: overall,
		ErrorTimeout:  overall,
	}
}

// Supervisor owns a child process and the three workers attached to its
// standard streams. All methods are safe for concurrent use.
type Supervisor struct {
	id           string
	command      Command
	spawner      Spawner
	logger       *slog.Logger
	pacing       time.Duration
	pollInterval time.Duration
	stopDefaults StopOptions

	outputQueue *linequeue.Queue
	errorQueue  *linequeue.Queue
	inputQueue  *linequeue.Queue

	outputChars *stream.Observers[stream.CharEvent]
	errorChars  *stream.Observers[stream.CharEvent]
	outputLines *stream.Observers[stream.LineEvent]
	errorLines  *stream.Observers[stream.LineEvent]

	shutdown *stream.Shutdown
	state    atomic.Int32
	workers  atomic.Pointer[workers]

	exited        chan struct{}
	streamsClosed chan struct{}

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	result    ExitResult

	disposeMu sync.Mutex
	disposed  bool
}

// workers is everything Start creates. It is published once and never changes.
type workers struct {
	handle Handle
	stdout *stream.Monitor
	stderr *stream.Monitor
	input  *stream.Dispatcher
	logger *slog.Logger
}

// Option configures a Supervisor instance.
type Option func(*Supervisor)

// WithSpawner replaces the default PipeSpawner.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) {
		if sp != nil {
			s.spawner = sp
		}
	}
}

// WithLogger sets the logger for lifecycle and worker messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPacing sets the delay between character reads. Zero disables it.
func WithPacing(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.pacing = d
		}
	}
}

// WithPollInterval sets how often the input dispatcher checks for input.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithEnv sets the child's environment. By default it inherits ours.
func WithEnv(env []string) Option {
	return func(s *Supervisor) {
		s.command.Env = env
	}
}

// WithStopDefaults sets the options used by Stop and StopInput.
func WithStopDefaults(opts StopOptions) Option {
	return func(s *Supervisor) {
		s.stopDefaults = opts
	}
}

// WithID sets the supervisor id used in log messages.
func WithID(id string) Option {
	return func(s *Supervisor) {
		if id != "" {
			s.id = id
		}
	}
}

// New creates a supervisor for executablePath. arguments is split into argv
// the way a POSIX shell would split words, without invoking a shell.
func New(executablePath, arguments, workingDirectory string, opts ...Option) (*Supervisor, error) {
	args, err := shlex.Split(arguments)
	if err != nil {
		return nil, fmt.Errorf("parse arguments %q: %w", arguments, err)
	}
	return NewWithArgs(executablePath, args, workingDirectory, opts...), nil
}

// NewWithArgs creates a supervisor for executablePath with an explicit argv.
func NewWithArgs(executablePath string, args []string, workingDirectory string, opts ...Option) *Supervisor {
	s := &Supervisor{
		id:            uuid.New().String(),
		command:       Command{Path: executablePath, Args: args, Dir: workingDirectory},
		spawner:       PipeSpawner{},
		logger:        slog.Default(),
		pacing:        stream.DefaultPacing,
		pollInterval:  stream.DefaultPollInterval,
		stopDefaults:  DefaultStopOptions(),
		outputQueue:   linequeue.New(),
		errorQueue:    linequeue.New(),
		inputQueue:    linequeue.New(),
		shutdown:      stream.NewShutdown(),
		exited:        make(chan struct{}),
		streamsClosed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("supervisor", s.id)
	s.outputChars = stream.NewObservers[stream.CharEvent](s.logger)
	s.errorChars = stream.NewObservers[stream.CharEvent](s.logger)
	s.outputLines = stream.NewObservers[stream.LineEvent](s.logger)
	s.errorLines = stream.NewObservers[stream.LineEvent](s.logger)
	s.state.Store(int32(StateCreated))
	return s
}

// ID returns the supervisor's unique id
func (s *Supervisor) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Pid returns the child's process id, or -1 before Start.
func (s *Supervisor) Pid() int {
	if w := s.workers.Load(); w != nil {
		return w.handle.Pid()
	}
	return -1
}

// Exited returns a channel that is closed when the child has exited.
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// StreamsClosed returns a channel that is closed when both output monitors
// have stopped reading.
func (s *Supervisor) StreamsClosed() <-chan struct{} {
	return s.streamsClosed
}

// Start spawns the child and starts the stdout monitor, the stderr monitor
// and the input dispatcher. If the spawn fails no worker is started. A
// disposed supervisor cannot be started.
func (s *Supervisor) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	// Held through the spawn so Dispose sees either no child or a running one.
	s.disposeMu.Lock()
	defer s.disposeMu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.State() != StateCreated {
		return ErrAlreadyStarted
	}

	h, err := s.spawner.Spawn(s.command)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	logger := s.logger.With("pid", h.Pid())
	w := &workers{
		handle: h,
		logger: logger,
		stdout: stream.NewMonitor(
			stream.ReadBinding{Role: stream.RoleStdout, Stream: h.Stdout(), Queue: s.outputQueue},
			s.shutdown,
			stream.WithPacing(s.pacing),
			stream.WithMonitorLogger(logger),
			stream.WithCharObservers(s.outputChars),
			stream.WithLineObservers(s.outputLines),
		),
		stderr: stream.NewMonitor(
			stream.ReadBinding{Role: stream.RoleStderr, Stream: h.Stderr(), Queue: s.errorQueue},
			s.shutdown,
			stream.WithPacing(s.pacing),
			stream.WithMonitorLogger(logger),
			stream.WithCharObservers(s.errorChars),
			stream.WithLineObservers(s.errorLines),
		),
		input: stream.NewDispatcher(
			stream.WriteBinding{Role: stream.RoleStdin, Stream: h.Stdin(), Queue: s.inputQueue},
			s.shutdown,
			stream.WithPollInterval(s.pollInterval),
			stream.WithDispatcherLogger(logger),
		),
	}
	s.workers.Store(w)
	s.state.Store(int32(StateRunning))

	go w.stdout.Run()
	go w.stderr.Run()
	go w.input.Run()

	go func() {
		<-h.Done()
		logger.Debug("process exited", "code", h.ExitCode())
		close(s.exited)
	}()
	go func() {
		<-w.stdout.Done()
		<-w.stderr.Done()
		close(s.streamsClosed)
	}()

	logger.Info("process started", "path", s.command.Path, "args", s.command.Args, "dir", s.command.Dir)
	return nil
}

// Stop stops with DefaultStopOptions or the options given by WithStopDefaults.
func (s *Supervisor) Stop() (ExitResult, error) {
	return s.StopWithOptions(s.stopDefaults)
}

// StopInput is Stop with a final input written before shutdown.
func (s *Supervisor) StopInput(finalInput string) (ExitResult, error) {
	opts := s.stopDefaults
	opts.FinalInput = finalInput
	return s.StopWithOptions(opts)
}

// StopTimeout stops with overall as every bound and no final input.
func (s *Supervisor) StopTimeout(overall time.Duration) (ExitResult, error) {
	return s.StopWithOptions(UniformStopOptions(overall))
}

// StopWithOptions shuts the supervisor down.
//
// With a FinalInput and a live dispatcher, the input is queued and the child
// gets up to Timeout to react before shutdown is raised. Otherwise shutdown is
// raised at once and the dispatcher is joined. Then each output monitor is
// joined within its bound and the child gets Timeout to exit. A worker that
// misses its bound has its stream closed. A child that misses the final wait
// is killed and NotExited is returned. The only error is a failed kill.
//
// Stopping raises shutdown, and the monitors stop reading once they see it.
// After a natural exit, wait on StreamsClosed before stopping or output still
// in the pipes is dropped.
func (s *Supervisor) StopWithOptions(opts StopOptions) (ExitResult, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.State() {
	case StateCreated:
		return NotExited(), ErrNotStarted
	case StateStopped:
		return s.result, nil
	}

	w := s.workers.Load()

	if opts.FinalInput != "" && !closed(w.input.Done()) {
		s.state.Store(int32(StateStoppingGraceful))
		w.logger.Debug("stopping gracefully", "timeout", opts.Timeout)

		// Shutdown stays lowered so the dispatcher still writes the input.
		s.inputQueue.Enqueue(opts.FinalInput)
		waitFor(w.handle.Done(), opts.Timeout)

		s.shutdown.Raise()
		s.join(w, w.input.Done(), opts.InputTimeout, stream.RoleStdin)
	} else {
		s.state.Store(int32(StateStoppingForced))
		w.logger.Debug("stopping", "timeout", opts.Timeout)

		s.shutdown.Raise()
		s.join(w, w.input.Done(), opts.InputTimeout, stream.RoleStdin)
	}

	s.shutdown.Raise()
	s.join(w, w.stdout.Done(), opts.OutputTimeout, stream.RoleStdout)
	s.join(w, w.stderr.Done(), opts.ErrorTimeout, stream.RoleStderr)

	result, err := s.awaitExit(w, opts.Timeout)
	if err != nil {
		return result, err
	}

	s.result = result
	s.state.Store(int32(StateStopped))
	w.logger.Info("process stopped", "result", result.String())
	return result, nil
}

// join waits up to bound for a worker to finish. A worker that misses it has
// its stream closed, which unblocks a pending read or write.
func (s *Supervisor) join(w *workers, done <-chan struct{}, bound time.Duration, role stream.Role) {
	if waitFor(done, bound) {
		return
	}

	w.logger.Warn("worker did not stop in time, closing its stream", "role", role.String(), "timeout", bound)

	var err error
	switch role {
	case stream.RoleStdin:
		err = w.handle.Stdin().Close()
	case stream.RoleStdout:
		err = w.handle.Stdout().Close()
	case stream.RoleStderr:
		err = w.handle.Stderr().Close()
	}
	if err != nil && !errors.Is(err, os.ErrClosed) {
		w.logger.Debug("close stream failed", "role", role.String(), "error", err)
	}
}

// awaitExit waits up to timeout for the child to exit, killing it if it does not.
func (s *Supervisor) awaitExit(w *workers, timeout time.Duration) (ExitResult, error) {
	if waitFor(w.handle.Done(), timeout) {
		return Exited(w.handle.ExitCode()), nil
	}

	w.logger.Warn("process did not exit in time, killing it", "timeout", timeout)
	if err := w.handle.Kill(); err != nil {
		return NotExited(), fmt.Errorf("kill process: %w", err)
	}
	if !waitFor(w.handle.Done(), killConfirmTimeout) {
		w.logger.Error("process still running after kill")
	}
	return NotExited(), nil
}

// GetOutput returns and removes every completed stdout line.
func (s *Supervisor) GetOutput() []string {
	return s.outputQueue.DrainAll()
}

// GetError returns and removes every completed stderr line.
func (s *Supervisor) GetError() []string {
	return s.errorQueue.DrainAll()
}

// SetInput queues text to be written verbatim to the child's stdin. Input
// given after the supervisor stopped is dropped.
func (s *Supervisor) SetInput(text string) {
	if s.State() == StateStopped {
		s.logger.Debug("input dropped after stop", "bytes", len(text))
		return
	}
	s.inputQueue.Enqueue(text)
}

// Written returns how many inputs have been written to the child.
func (s *Supervisor) Written() int {
	if w := s.workers.Load(); w != nil {
		return w.input.Written()
	}
	return 0
}

// CurrentOutputLine returns the unterminated stdout line in progress.
func (s *Supervisor) CurrentOutputLine() string {
	if w := s.workers.Load(); w != nil {
		return w.stdout.CurrentLine()
	}
	return ""
}

// CurrentErrorLine returns the unterminated stderr line in progress.
func (s *Supervisor) CurrentErrorLine() string {
	if w := s.workers.Load(); w != nil {
		return w.stderr.CurrentLine()
	}
	return ""
}

// OnOutputChar subscribes to stdout characters.
func (s *Supervisor) OnOutputChar(fn func(stream.CharEvent)) func() {
	return s.outputChars.Subscribe(fn)
}

// OnErrorChar subscribes to stderr characters.
func (s *Supervisor) OnErrorChar(fn func(stream.CharEvent)) func() {
	return s.errorChars.Subscribe(fn)
}

// OnOutputLine subscribes to completed stdout lines.
func (s *Supervisor) OnOutputLine(fn func(stream.LineEvent)) func() {
	return s.outputLines.Subscribe(fn)
}

// OnErrorLine subscribes to completed stderr lines.
func (s *Supervisor) OnErrorLine(fn func(stream.LineEvent)) func() {
	return s.errorLines.Subscribe(fn)
}

// Dispose kills the child if it is still running and releases its streams.
// It does not join the workers; call Stop first for a clean shutdown.
// Calling Dispose again is a no-op.
func (s *Supervisor) Dispose() error {
	s.disposeMu.Lock()
	defer s.disposeMu.Unlock()

	if s.disposed {
		return nil
	}

	w := s.workers.Load()
	if w != nil && !closed(w.handle.Done()) {
		if err := w.handle.Kill(); err != nil {
			return fmt.Errorf("kill process: %w", err)
		}
	}

	s.shutdown.Raise()

	if w != nil {
		if err := w.handle.Release(); err != nil {
			return fmt.Errorf("release process: %w", err)
		}
	}

	s.disposed = true
	return nil
}

// Close is Dispose, so a Supervisor can be used as an io.Closer.
func (s *Supervisor) Close() error {
	return s.Dispose()
}

// waitFor reports whether done closed within d. A non-positive d only polls.
func waitFor(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return closed(done)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func closed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Sentinel errors for the process package.
var (
	// ErrSpawnFailed wraps any failure to start the child.
	ErrSpawnFailed = errors.New("spawn process")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("process not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrDisposed is returned by Start after Dispose.
	ErrDisposed = errors.New("supervisor disposed")
)
