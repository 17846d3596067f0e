// Package build runs dependency installs and builds for project subtrees.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DependencyError is a fatal install failure carrying the captured output.
type DependencyError struct {
	Dir    string
	Output string
	Err    error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("build: install failed in %s: %v", e.Dir, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Result captures one command execution for diagnostics.
type Result struct {
	Command string
	Output  string
	Err     error
}

// Runner executes install and build commands with the subtree as working
// directory, capturing combined output.
type Runner struct {
	installCommand []string
	buildCommand   []string
	installTimeout time.Duration
	buildTimeout   time.Duration
	logger         *slog.Logger
}

// NewRunner configures a Runner. Empty command slices fall back to npm.
func NewRunner(installCommand, buildCommand []string, installTimeout, buildTimeout time.Duration, logger *slog.Logger) *Runner {
	if len(installCommand) == 0 {
		installCommand = []string{"npm", "install"}
	}
	if len(buildCommand) == 0 {
		buildCommand = []string{"npm", "run", "build"}
	}
	if installTimeout <= 0 {
		installTimeout = 10 * time.Minute
	}
	if buildTimeout <= 0 {
		buildTimeout = 10 * time.Minute
	}
	return &Runner{
		installCommand: installCommand,
		buildCommand:   buildCommand,
		installTimeout: installTimeout,
		buildTimeout:   buildTimeout,
		logger:         logger,
	}
}

// Install runs the dependency install command. Failure is fatal to the
// deployment and surfaces as a DependencyError with the captured output.
func (r *Runner) Install(ctx context.Context, dir string) (Result, error) {
	result := r.run(ctx, dir, r.installCommand, r.installTimeout)
	if result.Err != nil {
		return result, &DependencyError{Dir: dir, Output: result.Output, Err: result.Err}
	}
	r.logger.Info("dependencies installed", "dir", dir)
	return result, nil
}

// Build runs the build command. Failure is non-fatal: not every project
// defines a build step, so the caller records a warning and proceeds.
func (r *Runner) Build(ctx context.Context, dir string) Result {
	result := r.run(ctx, dir, r.buildCommand, r.buildTimeout)
	if result.Err != nil {
		r.logger.Warn("build step failed", "dir", dir, "error", result.Err)
	} else {
		r.logger.Info("build completed", "dir", dir)
	}
	return result
}

func (r *Runner) run(ctx context.Context, dir string, command []string, timeout time.Duration) Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = dir
	// Non-interactive runs; npm must not prompt or colorize.
	cmd.Env = append(os.Environ(), "CI=true", "NO_COLOR=1")
	output, err := cmd.CombinedOutput()
	return Result{
		Command: strings.Join(command, " "),
		Output:  string(output),
		Err:     err,
	}
}
