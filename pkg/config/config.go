package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/ctlproc/pkg/process"
	"github.com/Veraticus/ctlproc/pkg/stream"
)

// Config holds all configuration for ctlproc
type Config struct {
	// Child process
	Command    string `yaml:"command" env:"CTLPROC_COMMAND"`
	Arguments  string `yaml:"arguments" env:"CTLPROC_ARGUMENTS"`
	WorkingDir string `yaml:"working_dir" env:"CTLPROC_WORKING_DIR"`
	Terminal   bool   `yaml:"terminal" env:"CTLPROC_TERMINAL"`

	// Worker timing
	Pacing       time.Duration `yaml:"pacing" env:"CTLPROC_PACING"`
	PollInterval time.Duration `yaml:"poll_interval" env:"CTLPROC_POLL_INTERVAL"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"CTLPROC_IDLE_TIMEOUT"`

	// Logging
	Debug     bool   `yaml:"debug" env:"CTLPROC_DEBUG"`
	LogFormat string `yaml:"log_format" env:"CTLPROC_LOG_FORMAT"`

	Stop       StopConfig      `yaml:"stop"`
	Rules      []Rule          `yaml:"rules"`
	ReplyLimit ReplyLimitConfig `yaml:"reply_limit"`
}

// ReplyLimitConfig bounds automatic replies with a token bucket: Burst
// replies at once, then one per Interval. A zero Burst disables the limit.
type ReplyLimitConfig struct {
	Burst    int           `yaml:"burst"`
	Interval time.Duration `yaml:"interval"`
}

// StopConfig bounds each phase of a stop.
type StopConfig struct {
	Timeout       time.Duration `yaml:"timeout" env:"CTLPROC_STOP_TIMEOUT"`
	InputTimeout  time.Duration `yaml:"input_timeout"`
	OutputTimeout time.Duration `yaml:"output_timeout"`
	ErrorTimeout  time.Duration `yaml:"error_timeout"`
	FinalInput    string        `yaml:"final_input" env:"CTLPROC_FINAL_INPUT"`
}

// Options converts the stop configuration for the supervisor
func (s StopConfig) Options() process.StopOptions {
	return process.StopOptions{
		Timeout:       s.Timeout,
		InputTimeout:  s.InputTimeout,
		OutputTimeout: s.OutputTimeout,
		ErrorTimeout:  s.ErrorTimeout,
		FinalInput:    s.FinalInput,
	}
}

// Rule is an automatic reply: when Regex matches output on Stream, Reply is
// written to the child's stdin.
type Rule struct {
	Name    string `yaml:"name"`
	Regex   string `yaml:"regex"`
	Stream  string `yaml:"stream"`
	Reply   string `yaml:"reply"`
	Prompt  bool   `yaml:"prompt"`
	Once    bool   `yaml:"once"`
	Enabled bool   `yaml:"enabled"`

	compiled *regexp.Regexp `yaml:"-"`
}

// Stream selectors accepted by Rule.Stream.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamBoth   = "both"
)

// CompiledRegex returns the compiled regular expression
func (r *Rule) CompiledRegex() *regexp.Regexp {
	return r.compiled
}

// SetCompiledRegex sets the compiled regular expression
func (r *Rule) SetCompiledRegex(re *regexp.Regexp) {
	r.compiled = re
}

// AppliesTo reports whether the rule watches role. An empty Stream means both.
func (r *Rule) AppliesTo(role stream.Role) bool {
	switch r.Stream {
	case "", StreamBoth:
		return role == stream.RoleStdout || role == stream.RoleStderr
	default:
		want, err := stream.ParseRole(r.Stream)
		return err == nil && want == role
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Pacing:       stream.DefaultPacing,
		PollInterval: stream.DefaultPollInterval,
		LogFormat:    "text",
		Stop: StopConfig{
			Timeout:       5 * time.Second,
			InputTimeout:  time.Second,
			OutputTimeout: time.Second,
			ErrorTimeout:  time.Second,
		},
		ReplyLimit: ReplyLimitConfig{
			Burst:    10,
			Interval: time.Second,
		},
	}
}

// Args splits Arguments into argv
func (c *Config) Args() ([]string, error) {
	args, err := shlex.Split(c.Arguments)
	if err != nil {
		return nil, fmt.Errorf("parse arguments %q: %w", c.Arguments, err)
	}
	return args, nil
}

// Load loads configuration from the default file location and environment
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from path, or from the default location when
// path is empty. An explicit path must exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	// Override with environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := compileRules(cfg); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if path := os.Getenv("CTLPROC_CONFIG"); path != "" {
		return path
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ctlproc", "config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "ctlproc", "config.yaml")
	}

	return ""
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	// #nosec G304 - The config file path comes from the command line, an env var or a standard location
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("CTLPROC_COMMAND"); v != "" {
		cfg.Command = v
	}
	if v := os.Getenv("CTLPROC_ARGUMENTS"); v != "" {
		cfg.Arguments = v
	}
	if v := os.Getenv("CTLPROC_WORKING_DIR"); v != "" {
		cfg.WorkingDir = v
	}
	if v := os.Getenv("CTLPROC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CTLPROC_FINAL_INPUT"); v != "" {
		cfg.Stop.FinalInput = v
	}

	durations := []struct {
		name   string
		target *time.Duration
	}{
		{"CTLPROC_PACING", &cfg.Pacing},
		{"CTLPROC_POLL_INTERVAL", &cfg.PollInterval},
		{"CTLPROC_IDLE_TIMEOUT", &cfg.IdleTimeout},
		{"CTLPROC_STOP_TIMEOUT", &cfg.Stop.Timeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.target = parsed
	}

	bools := []struct {
		name   string
		target *bool
	}{
		{"CTLPROC_TERMINAL", &cfg.Terminal},
		{"CTLPROC_DEBUG", &cfg.Debug},
	}
	for _, b := range bools {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			*b.target = true
		case "false", "0", "no":
			*b.target = false
		default:
			return fmt.Errorf("invalid %s value: %q (use true/false)", b.name, v)
		}
	}

	return nil
}

// compileRules compiles the regex of every enabled rule
func compileRules(cfg *Config) error {
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if rule.Enabled && rule.Regex != "" {
			re, err := regexp.Compile(rule.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile rule %q: %w", rule.Name, err)
			}
			rule.SetCompiledRegex(re)
		}
	}
	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Pacing < 0 {
		return fmt.Errorf("pacing must be non-negative")
	}

	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}

	if cfg.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must be non-negative")
	}

	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", cfg.LogFormat)
	}

	stops := map[string]time.Duration{
		"stop.timeout":        cfg.Stop.Timeout,
		"stop.input_timeout":  cfg.Stop.InputTimeout,
		"stop.output_timeout": cfg.Stop.OutputTimeout,
		"stop.error_timeout":  cfg.Stop.ErrorTimeout,
	}
	for name, d := range stops {
		if d < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}

	if cfg.ReplyLimit.Burst < 0 {
		return fmt.Errorf("reply_limit.burst must be non-negative")
	}
	if cfg.ReplyLimit.Interval < 0 {
		return fmt.Errorf("reply_limit.interval must be non-negative")
	}

	if _, err := cfg.Args(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, rule := range cfg.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule with regex %q has no name", rule.Regex)
		}
		if seen[rule.Name] {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true

		if !rule.Enabled {
			continue
		}
		if rule.Regex == "" {
			return fmt.Errorf("rule %q has no regex", rule.Name)
		}
		if rule.Reply == "" {
			return fmt.Errorf("rule %q has no reply", rule.Name)
		}
		switch rule.Stream {
		case "", StreamStdout, StreamStderr, StreamBoth:
		default:
			return fmt.Errorf("rule %q: stream must be stdout, stderr or both, got %q", rule.Name, rule.Stream)
		}
	}

	return nil
}
