package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/metrics"
	"github.com/rs/zerolog"
)

// Command is an external program invocation. Arguments are passed to the
// program as-is; nothing is ever interpreted by a shell.
type Command struct {
	Name string
	Args []string

	// Env is appended to the orchestrator's environment
	Env []string

	// Dir is the working directory, empty for the current one
	Dir string

	// User runs the program under this account instead of the caller's
	User string

	// Elevate runs the program through sudo, feeding the secret on stdin
	Elevate bool
}

// String returns the command line for logs
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of one invocation
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandFailedError is returned when a command exits non-zero or cannot
// be started. ExitCode is -1 when the process never ran to completion.
type CommandFailedError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	} else if e.Err != nil && e.ExitCode == -1 {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}

// Executor runs commands. *Runner is the production implementation.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// SecretFunc supplies the elevation secret on demand
type SecretFunc func() (string, error)

// Runner executes external commands, capturing their output
type Runner struct {
	secret SecretFunc
	sudo   string
	direct bool
	logger zerolog.Logger
}

// New creates a Runner. secret is only called for elevated commands.
func New(secret SecretFunc) *Runner {
	return &Runner{
		secret: secret,
		sudo:   "sudo",
		logger: log.WithComponent("runner"),
	}
}

// WithoutElevation runs elevated commands directly, for an orchestrator
// that already runs as root. The secret is never read.
func (r *Runner) WithoutElevation() *Runner {
	r.direct = true
	return r
}

// Run executes cmd and waits for it. A non-zero exit returns a
// *CommandFailedError along with the result.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c, err := r.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Info().Str("command", cmd.String()).Bool("elevated", cmd.Elevate).Str("user", cmd.User).Msg("Running command")

	start := time.Now()
	runErr := c.Run()

	result := &Result{
		Command:  cmd.String(),
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if out := strings.TrimSpace(result.Stdout); out != "" {
		r.logger.Debug().Str("command", result.Command).Msg(out)
	}

	if runErr != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}

		failed := &CommandFailedError{
			Command:  result.Command,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      runErr,
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			failed.Err = ctxErr
		}

		metrics.CommandsTotal.WithLabelValues("failed").Inc()
		r.logger.Error().
			Str("command", result.Command).
			Int("exit_code", result.ExitCode).
			Str("stderr", strings.TrimSpace(result.Stderr)).
			Dur("duration", result.Duration).
			Msg("Command failed")
		return result, failed
	}

	metrics.CommandsTotal.WithLabelValues("succeeded").Inc()
	r.logger.Debug().Str("command", result.Command).Dur("duration", result.Duration).Msg("Command executed successfully")
	return result, nil
}

// prepare builds the exec.Cmd, resolving elevation and credentials
func (r *Runner) prepare(ctx context.Context, cmd Command) (*exec.Cmd, error) {
	if cmd.Name == "" {
		return nil, errors.New("runner: empty command")
	}

	name, args := cmd.Name, cmd.Args
	var stdin string

	elevate := cmd.Elevate && !r.direct
	if elevate {
		if r.secret == nil {
			return nil, fmt.Errorf("cannot elevate %q: no secret source", cmd.String())
		}
		secret, err := r.secret()
		if err != nil {
			return nil, fmt.Errorf("cannot elevate %q: %w", cmd.String(), err)
		}
		stdin = secret + "\n"
		name, args = r.sudo, sudoArgs(cmd)
	}

	c := exec.CommandContext(ctx, name, args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if stdin != "" {
		c.Stdin = strings.NewReader(stdin)
	}

	if cmd.User != "" && !elevate {
		if err := ApplyUser(c, cmd.User); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// sudoArgs wraps cmd for `sudo -S`, with an empty prompt so the secret is
// the only thing exchanged on stdin. sudo resets the environment, so extra
// variables are passed through env(1).
func sudoArgs(cmd Command) []string {
	args := []string{"-S", "-p", ""}
	if cmd.User != "" {
		args = append(args, "-u", cmd.User)
	}
	args = append(args, "--")
	if len(cmd.Env) > 0 {
		args = append(args, "env")
		args = append(args, cmd.Env...)
	}
	args = append(args, cmd.Name)
	return append(args, cmd.Args...)
}
