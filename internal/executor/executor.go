// Package executor runs external collaborator commands (test suites, build
// toolchains) with output capture, environment control, per-call timeouts,
// and optional retry.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Result holds the output and exit status from a command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner defines the interface for command execution.
type Runner interface {
	// Run executes a command with the given options.
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures command execution behavior.
type Options struct {
	// WorkingDir is the directory the command runs in.
	WorkingDir string

	// Env holds extra environment variables appended to the current env.
	Env map[string]string

	// Timeout bounds a single invocation. Zero means no timeout beyond
	// the caller's context.
	Timeout time.Duration

	// MaxRetries re-runs the command on failure up to this many extra times.
	MaxRetries int

	// RetryDelay is the pause between retries.
	RetryDelay time.Duration
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithWorkingDir sets the working directory for the command.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv appends environment variables to the command's environment.
func WithEnv(env map[string]string) Option {
	return func(o *Options) { o.Env = env }
}

// WithTimeout bounds each invocation of the command.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRetries re-runs a failing command up to n extra times with the given
// delay between attempts.
func WithRetries(n int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = n
		o.RetryDelay = delay
	}
}

// CommandRunner executes commands on the local system.
type CommandRunner struct{}

// New creates a CommandRunner.
func New() *CommandRunner {
	return &CommandRunner{}
}

// Run executes the program with the given arguments. A non-zero exit code is
// not an error: the Result carries the exit code and captured output either
// way. An error is returned only when the command could not be run at all or
// the context was cancelled.
func (r *CommandRunner) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	if program == "" {
		return nil, errors.New("program cannot be empty")
	}

	options := &Options{RetryDelay: time.Second}
	for _, opt := range opts {
		opt(options)
	}

	var result *Result
	var err error
	for attempt := 0; attempt <= options.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(options.RetryDelay):
			}
		}

		result, err = r.runOnce(ctx, program, args, options)
		if err == nil && result.ExitCode == 0 {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return result, err
}

func (r *CommandRunner) runOnce(ctx context.Context, program string, args []string, options *Options) (*Result, error) {
	runCtx := ctx
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.Dir = options.WorkingDir

	cmd.Env = os.Environ()
	for k, v := range options.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		// A process killed by the per-call timeout also surfaces as an
		// ExitError; report that as an error, not an exit code.
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%s timed out after %s: %w", program, options.Timeout, runCtx.Err())
		}
		result.ExitCode = exitErr.ExitCode()
		err = nil
	default:
		return nil, fmt.Errorf("failed to run %s: %w", program, err)
	}

	return result, err
}
