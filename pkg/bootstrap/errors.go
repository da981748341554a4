package bootstrap

import (
	"errors"
	"fmt"

	"github.com/cuemby/hpc-bootstrap/pkg/daemon"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
)

// StepError reports the state whose step failed
type StepError struct {
	State types.State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("bootstrap step %s failed: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ExitCode maps a Run error to a process exit status. A daemon exit status
// is mirrored; any other failure is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *daemon.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
