package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/Veraticus/ctlproc/pkg/config"
	"github.com/Veraticus/ctlproc/pkg/logging"
)

// options holds the command line flags
type options struct {
	configPath  string
	dir         string
	terminal    bool
	finalInput  string
	timeout     time.Duration
	idleTimeout time.Duration
	debug       bool
	logFormat   string
	help        bool
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("ctlproc", flag.ContinueOnError)
	// Everything after the program name belongs to the program.
	fs.SetInterspersed(false)

	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.dir, "dir", "", "Working directory for the program")
	fs.BoolVar(&opts.terminal, "terminal", false, "Run the program on a pseudo-terminal")
	fs.StringVar(&opts.finalInput, "final-input", "", "Input written to the program before stopping it (e.g. \"quit\\n\")")
	fs.DurationVar(&opts.timeout, "timeout", 0, "How long the program gets to exit when stopped")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", 0, "Stop the program after this long without output (0 disables)")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	fs.BoolVarP(&opts.help, "help", "h", false, "Show help message")
	return fs
}

// applyFlags overrides cfg with every flag given on the command line
func applyFlags(fs *flag.FlagSet, opts *options, cfg *config.Config) {
	if fs.Changed("dir") {
		cfg.WorkingDir = opts.dir
	}
	if fs.Changed("terminal") {
		cfg.Terminal = opts.terminal
	}
	if fs.Changed("final-input") {
		cfg.Stop.FinalInput = opts.finalInput
	}
	if fs.Changed("timeout") {
		cfg.Stop.Timeout = opts.timeout
	}
	if fs.Changed("idle-timeout") {
		cfg.IdleTimeout = opts.idleTimeout
	}
	if fs.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
}

// resolveCommand picks the program from the positional arguments, falling
// back to the configured command
func resolveCommand(positional []string, cfg *config.Config) (string, []string, error) {
	if len(positional) > 0 {
		return positional[0], positional[1:], nil
	}
	if cfg.Command == "" {
		return "", nil, errors.New("no program given and no command configured")
	}
	args, err := cfg.Args()
	if err != nil {
		return "", nil, err
	}
	return cfg.Command, args, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(argv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printUsage(os.Stderr, fs)
		return 2
	}

	if opts.help {
		printUsage(os.Stdout, fs)
		return 0
	}

	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitFailure
	}
	applyFlags(fs, &opts, cfg)

	command, args, err := resolveCommand(fs.Args(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printUsage(os.Stderr, fs)
		return 2
	}

	logger, err := logging.New(&logging.Config{
		Output: os.Stderr,
		Format: cfg.LogFormat,
		Debug:  cfg.Debug,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		return exitFailure
	}

	app := NewApplication(NewDependencies(cfg, logger))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Debug("starting program", "command", command, "args", args, "terminal", cfg.Terminal)

	if err := app.Run(ctx, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error running %s: %v\n", command, err)
	}

	return app.ExitCode()
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "ctlproc - run an interactive program under a supervisor")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ctlproc [OPTIONS] [--] PROGRAM [ARGS...]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  CTLPROC_CONFIG         Path to config file")
	fmt.Fprintln(w, "  CTLPROC_COMMAND        Program to run when none is given")
	fmt.Fprintln(w, "  CTLPROC_ARGUMENTS      Arguments for CTLPROC_COMMAND (shell-style quoting)")
	fmt.Fprintln(w, "  CTLPROC_WORKING_DIR    Working directory for the program")
	fmt.Fprintln(w, "  CTLPROC_TERMINAL       Run on a pseudo-terminal (true/false)")
	fmt.Fprintln(w, "  CTLPROC_IDLE_TIMEOUT   Stop after this long without output")
	fmt.Fprintln(w, "  CTLPROC_STOP_TIMEOUT   How long the program gets to exit when stopped")
	fmt.Fprintln(w, "  CTLPROC_FINAL_INPUT    Input written before stopping")
	fmt.Fprintln(w, "  CTLPROC_DEBUG          Enable debug logging (true/false)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration file: ~/.config/ctlproc/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit status is the program's, or 124 if it did not exit in time.")
}
