// Package command runs external processes for pluginctl.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// ExecRunner runs processes with os/exec.
type ExecRunner struct {
	env []string
	dir string
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *ExecRunner) {
		r.env = append(r.env, env...)
	}
}

// WithDir sets the working directory of every process.
func WithDir(dir string) Option {
	return func(r *ExecRunner) {
		r.dir = dir
	}
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes command. A non-zero exit is reported through the result, not
// as an error; a missing binary or an expired context is an error.
func (r *ExecRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ports.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", command, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}

	return result, nil
}

var _ ports.CommandRunner = (*ExecRunner)(nil)
