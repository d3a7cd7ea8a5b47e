package main

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ctlproc/pkg/config"
	"github.com/Veraticus/ctlproc/pkg/logging"
	"github.com/Veraticus/ctlproc/pkg/process"
	"github.com/Veraticus/ctlproc/pkg/testutil"
)

// lockedBuffer is a bytes.Buffer safe for the relay goroutines
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pacing = 0
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Stop = config.StopConfig{
		Timeout:       time.Second,
		InputTimeout:  100 * time.Millisecond,
		OutputTimeout: 100 * time.Millisecond,
		ErrorTimeout:  100 * time.Millisecond,
	}
	return cfg
}

type harness struct {
	app     *Application
	process *testutil.FakeProcess
	spawner *testutil.FakeSpawner
	stdout  *lockedBuffer
	stderr  *lockedBuffer
}

func newHarness(cfg *config.Config, stdin string) *harness {
	h := &harness{
		process: testutil.NewFakeProcess(),
		stdout:  &lockedBuffer{},
		stderr:  &lockedBuffer{},
	}
	h.spawner = testutil.NewFakeSpawner(h.process)
	h.app = NewApplication(&Dependencies{
		Config:  cfg,
		Logger:  logging.Discard(),
		Spawner: h.spawner,
		Stdin:   strings.NewReader(stdin),
		Stdout:  h.stdout,
		Stderr:  h.stderr,
	})
	return h
}

// runAsync runs the application and returns a channel with its error
func (h *harness) runAsync(ctx context.Context, command string, args ...string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx, command, args) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestApplication_RelaysAndExitsWithChildCode(t *testing.T) {
	h := newHarness(testConfig(), "")
	done := h.runAsync(context.Background(), "/usr/bin/fake", "a", "b")

	require.Eventually(t, func() bool { return len(h.spawner.Commands()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.process.WriteStdout("partial"))
	require.NoError(t, h.process.WriteStderr("warning: low disk\n"))
	require.NoError(t, h.process.WriteStdout(" line\n"))
	h.process.Exit(3)

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, "partial line\n", h.stdout.String())
	assert.Equal(t, "warning: low disk\n", h.stderr.String())
	assert.Equal(t, 3, h.app.ExitCode())
	assert.Equal(t, process.Exited(3), h.app.Result())
	assert.Equal(t, []string{"a", "b"}, h.spawner.Commands()[0].Args)
}

func TestApplication_ForwardsStdin(t *testing.T) {
	h := newHarness(testConfig(), "user anonymous\nls\n")
	done := h.runAsync(context.Background(), "/usr/bin/fake")

	require.Eventually(t, func() bool {
		return h.process.Input() == "user anonymous\nls\n"
	}, 2*time.Second, 5*time.Millisecond)

	h.process.Exit(0)
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, 0, h.app.ExitCode())
}

func TestApplication_SignalSendsFinalInput(t *testing.T) {
	cfg := testConfig()
	cfg.Stop.FinalInput = "quit\n"
	h := newHarness(cfg, "")
	h.process.OnInput(func(s string) {
		if strings.Contains(s, "quit") {
			h.process.Exit(7)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := h.runAsync(ctx, "/usr/bin/fake")
	require.Eventually(t, func() bool { return len(h.spawner.Commands()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, "quit\n", h.process.Input())
	assert.Equal(t, 7, h.app.ExitCode())
}

func TestApplication_IdleTimeoutStops(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.Stop.Timeout = 20 * time.Millisecond
	h := newHarness(cfg, "")
	h.process.SetIgnoreKill(true)
	defer h.process.Exit(0)

	start := time.Now()
	done := h.runAsync(context.Background(), "/usr/bin/fake")

	require.NoError(t, waitRun(t, done))
	assert.GreaterOrEqual(t, time.Since(start), cfg.IdleTimeout)
	assert.Equal(t, exitTimedOut, h.app.ExitCode())
	assert.Equal(t, 1, h.process.KillCount())
}

func TestApplication_StopRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Stop.FinalInput = "bye\n"
	h := newHarness(cfg, "")
	h.process.OnInput(func(s string) {
		if s == "bye\n" {
			h.process.Exit(0)
		}
	})

	done := h.runAsync(context.Background(), "/usr/bin/fake")
	require.Eventually(t, func() bool { return len(h.spawner.Commands()) == 1 }, 2*time.Second, 5*time.Millisecond)

	h.app.Stop()
	h.app.Stop()
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, 0, h.app.ExitCode())
}

func TestApplication_RulesReply(t *testing.T) {
	cfg := testConfig()
	rule := config.Rule{Name: "login", Regex: `^Name:`, Reply: "anonymous\n", Prompt: true, Enabled: true}
	rule.SetCompiledRegex(regexp.MustCompile(rule.Regex))
	cfg.Rules = []config.Rule{rule}

	h := newHarness(cfg, "")
	done := h.runAsync(context.Background(), "/usr/bin/fake")
	require.Eventually(t, func() bool { return len(h.spawner.Commands()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.process.WriteStdout("Name: "))
	require.Eventually(t, func() bool { return h.process.Input() == "anonymous\n" }, 2*time.Second, 5*time.Millisecond)

	h.process.Exit(0)
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, 1, h.app.Replies())
}

func TestApplication_ReplyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.ReplyLimit = config.ReplyLimitConfig{Burst: 1, Interval: time.Hour}
	rule := config.Rule{Name: "more", Regex: `^--More--`, Reply: " ", Enabled: true}
	rule.SetCompiledRegex(regexp.MustCompile(rule.Regex))
	cfg.Rules = []config.Rule{rule}

	h := newHarness(cfg, "")
	done := h.runAsync(context.Background(), "/usr/bin/fake")
	require.Eventually(t, func() bool { return len(h.spawner.Commands()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.process.WriteStdout("--More--\n--More--\n--More--\n"))
	require.Eventually(t, func() bool { return h.process.Input() == " " }, 2*time.Second, 5*time.Millisecond)
	h.process.Exit(0)
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, 1, h.app.Replies())
	assert.Equal(t, " ", h.process.Input())
}

func TestApplication_SpawnFailure(t *testing.T) {
	cause := errors.New("exec format error")
	app := NewApplication(&Dependencies{
		Config:  testConfig(),
		Logger:  logging.Discard(),
		Spawner: testutil.NewFailingSpawner(cause),
	})

	err := app.Run(context.Background(), "/bin/broken", nil)
	assert.ErrorIs(t, err, process.ErrSpawnFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, exitFailure, app.ExitCode())
}

func TestNewDependencies(t *testing.T) {
	cfg := testConfig()
	deps := NewDependencies(cfg, logging.Discard())
	assert.IsType(t, process.PipeSpawner{}, deps.Spawner)

	cfg.Terminal = true
	deps = NewDependencies(cfg, logging.Discard())
	assert.IsType(t, process.PTYSpawner{}, deps.Spawner)
}

func TestFlags(t *testing.T) {
	var opts options
	fs := newFlagSet(&opts)
	require.NoError(t, fs.Parse([]string{
		"--timeout", "2s",
		"--final-input", "quit\n",
		"--idle-timeout=30s",
		"ftp", "--timeout", "-n", "legacy",
	}))

	assert.Equal(t, []string{"ftp", "--timeout", "-n", "legacy"}, fs.Args())

	cfg := config.DefaultConfig()
	cfg.WorkingDir = "/from/config"
	applyFlags(fs, &opts, cfg)

	assert.Equal(t, 2*time.Second, cfg.Stop.Timeout)
	assert.Equal(t, "quit\n", cfg.Stop.FinalInput)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "/from/config", cfg.WorkingDir, "unset flags keep config values")
	assert.False(t, cfg.Debug)
}

func TestResolveCommand(t *testing.T) {
	cfg := config.DefaultConfig()

	_, _, err := resolveCommand(nil, cfg)
	assert.Error(t, err)

	cfg.Command = "/usr/bin/ftp"
	cfg.Arguments = `-n "legacy host"`
	command, args, err := resolveCommand(nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ftp", command)
	assert.Equal(t, []string{"-n", "legacy host"}, args)

	command, args, err = resolveCommand([]string{"/bin/cat", "-u"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/bin/cat", command)
	assert.Equal(t, []string{"-u"}, args)
}
