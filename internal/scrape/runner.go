// Package scrape is the boundary to the scraping/export subsystem. The
// scheduler only needs "run this named configuration and tell me whether it
// worked"; everything behind that (extraction, cleaning, export writers)
// lives outside this module.
package scrape

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Request carries a single run of a named scrape configuration, with
// optional export overrides.
type Request struct {
	ConfigName   string
	OutputFormat string
	OutputPath   string
}

// ExecutionError wraps any failure of the external run operation. The
// executor treats all of them uniformly: every failure is retryable up to the
// job's retry budget.
type ExecutionError struct {
	ConfigName string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("run %q: %v", e.ConfigName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Runner runs one scrape configuration to completion.
type Runner interface {
	RunConfiguration(ctx context.Context, req Request) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req Request) error

func (f RunnerFunc) RunConfiguration(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Config configures the command-backed runner.
type Config struct {
	// Command is a shell command line with {config}, {format} and {output}
	// placeholders, e.g. `quickscrape scrape {config} --format {format} --output {output}`.
	Command string

	// ConfigsDir, when set, lets ConfigExists verify a configuration name
	// before a job referencing it is created.
	ConfigsDir string
}

// CommandRunner shells out to an external scrape command per run. The spawned
// process is killed when ctx is canceled.
type CommandRunner struct {
	cfg Config
}

func NewCommandRunner(cfg Config) (*CommandRunner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("scrape command is required")
	}
	return &CommandRunner{cfg: cfg}, nil
}

func (r *CommandRunner) RunConfiguration(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.ConfigName) == "" {
		return &ExecutionError{ConfigName: req.ConfigName, Err: fmt.Errorf("config name is empty")}
	}

	line := r.cfg.Command
	line = strings.ReplaceAll(line, "{config}", shellQuote(req.ConfigName))
	line = strings.ReplaceAll(line, "{format}", shellQuote(req.OutputFormat))
	line = strings.ReplaceAll(line, "{output}", shellQuote(req.OutputPath))

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return &ExecutionError{ConfigName: req.ConfigName, Err: ctx.Err()}
		}
		return &ExecutionError{ConfigName: req.ConfigName, Err: err}
	}
	return nil
}

// ConfigExists reports whether a configuration file for name is present.
// With no configs dir configured it optimistically returns true; the run
// itself will fail (and be recorded) if the name is bogus.
func (r *CommandRunner) ConfigExists(name string) bool {
	dir := strings.TrimSpace(r.cfg.ConfigsDir)
	if dir == "" {
		return true
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		if _, err := os.Stat(filepath.Join(dir, name+ext)); err == nil {
			return true
		}
	}
	return false
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
