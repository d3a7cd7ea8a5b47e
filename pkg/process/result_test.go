package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitResult(t *testing.T) {
	tests := []struct {
		name     string
		result   ExitResult
		code     int
		exited   bool
		exitCode int
		text     string
	}{
		{"exited zero", Exited(0), 0, true, 0, "exited with code 0"},
		{"exited nonzero", Exited(3), 3, true, 3, "exited with code 3"},
		{"exited with sentinel value", Exited(SentinelExitCode), SentinelExitCode, true, SentinelExitCode, "exited with code -999"},
		{"not exited", NotExited(), 0, false, SentinelExitCode, "did not exit in time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, exited := tt.result.Code()
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.exited, exited)
			assert.Equal(t, tt.exited, tt.result.HasExited())
			assert.Equal(t, tt.exitCode, tt.result.ExitCode())
			assert.Equal(t, tt.text, tt.result.String())
		})
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateCreated:          "created",
		StateRunning:          "running",
		StateStoppingGraceful: "stopping-graceful",
		StateStoppingForced:   "stopping-forced",
		StateStopped:          "stopped",
		State(42):             "unknown(42)",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}

func TestUniformStopOptions(t *testing.T) {
	opts := UniformStopOptions(250)
	assert.Equal(t, StopOptions{Timeout: 250, InputTimeout: 250, OutputTimeout: 250, ErrorTimeout: 250}, opts)
	assert.Equal(t, UniformStopOptions(DefaultStopTimeout), DefaultStopOptions())
}
