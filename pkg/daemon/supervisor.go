package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/metrics"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/rs/zerolog"
)

// DefaultGracePeriod is how long the daemon gets to exit after SIGTERM
const DefaultGracePeriod = 10 * time.Second

// RestartPolicy names what happens when the daemon exits
type RestartPolicy string

const (
	// RestartNever hands the exit status back to the caller. Restarts are
	// left to whatever supervises the orchestrator (container runtime,
	// systemd).
	RestartNever RestartPolicy = "never"
)

// Spec describes the daemon process
type Spec struct {
	Path string
	Args []string
	Env  []string

	// User runs the daemon under this account; empty keeps the caller's
	User string
}

// String returns the command line for logs
func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// ExitError carries a non-zero daemon exit status. Death by signal is
// reported as 128+signal, the way shells do.
type ExitError struct {
	Path string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("daemon %s exited with code %d", e.Path, e.Code)
}

// Supervisor runs the scheduler daemon in the foreground and mirrors its
// exit status
type Supervisor struct {
	grace  time.Duration
	policy RestartPolicy
	logger zerolog.Logger
}

// NewSupervisor creates a Supervisor with the default grace period
func NewSupervisor() *Supervisor {
	return &Supervisor{
		grace:  DefaultGracePeriod,
		policy: RestartNever,
		logger: log.WithComponent("daemon"),
	}
}

// WithGracePeriod sets the SIGTERM to SIGKILL delay
func (s *Supervisor) WithGracePeriod(d time.Duration) *Supervisor {
	s.grace = d
	return s
}

// Policy returns the restart policy
func (s *Supervisor) Policy() RestartPolicy {
	return s.policy
}

// Run starts the daemon and blocks until it exits. Cancelling ctx sends
// SIGTERM and, after the grace period, SIGKILL. started is called once the
// process is running. A zero exit returns nil; anything else *ExitError.
func (s *Supervisor) Run(ctx context.Context, spec Spec, started func(pid int)) error {
	logger := s.logger.With().Str("daemon", spec.Path).Logger()

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Cancel = func() error {
		logger.Info().Msg("Stopping daemon")
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace

	if spec.User != "" {
		if err := runner.ApplyUser(cmd, spec.User); err != nil {
			return err
		}
	}

	stdout := log.NewLineWriter(logger, zerolog.InfoLevel, "stdout")
	stderr := log.NewLineWriter(logger, zerolog.InfoLevel, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("command", spec.String()).
		Str("user", spec.User).
		Str("restart_policy", string(s.policy)).
		Msg("Daemon started")
	if started != nil {
		started(cmd.Process.Pid)
	}

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	code := exitCode(cmd, err)
	metrics.DaemonExitCode.Set(float64(code))

	if code == 0 {
		logger.Info().Msg("Daemon exited")
		return nil
	}
	if code < 0 {
		return fmt.Errorf("daemon %s: %w", spec.Path, err)
	}

	logger.Error().Int("exit_code", code).Msg("Daemon exited with error")
	return &ExitError{Path: spec.Path, Code: code}
}

func exitCode(cmd *exec.Cmd, err error) int {
	state := cmd.ProcessState
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
