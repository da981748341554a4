// Package runnertest provides a recording fake of runner.Executor.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/cuemby/hpc-bootstrap/pkg/runner"
)

type failure struct {
	match  string
	code   int
	stderr string
}

// Recorder records every command instead of running it. Commands whose
// line contains a registered match fail with the given exit code.
type Recorder struct {
	mu       sync.Mutex
	commands []runner.Command
	failures []failure
	stdout   map[string]string
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{stdout: make(map[string]string)}
}

// Fail makes commands containing match exit with code and stderr
func (r *Recorder) Fail(match string, code int, stderr string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{match: match, code: code, stderr: stderr})
	return r
}

// Stdout sets the output returned for commands containing match
func (r *Recorder) Stdout(match, out string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stdout[match] = out
	return r
}

// Run implements runner.Executor
func (r *Recorder) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands = append(r.commands, cmd)
	line := cmd.String()

	result := &runner.Result{Command: line}
	for match, out := range r.stdout {
		if strings.Contains(line, match) {
			result.Stdout = out
		}
	}

	for _, f := range r.failures {
		if strings.Contains(line, f.match) {
			result.ExitCode = f.code
			result.Stderr = f.stderr
			return result, &runner.CommandFailedError{
				Command:  line,
				ExitCode: f.code,
				Stderr:   f.stderr,
			}
		}
	}
	return result, nil
}

// Commands returns the recorded commands in order
func (r *Recorder) Commands() []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.Command(nil), r.commands...)
}

// Lines returns the recorded command lines in order
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		lines = append(lines, c.String())
	}
	return lines
}

// Reset forgets recorded commands, keeping failures
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
