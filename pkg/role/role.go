// Package role classifies the local node as controller or worker from its
// hostname.
package role

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/hpc-bootstrap/pkg/types"
)

const (
	// ControllerPrefix marks controller hostnames (slurmctld, slurmctld-1, ...)
	ControllerPrefix = "slurmctld"

	// WorkerPrefix marks worker hostnames (compute-01, compute-02, ...)
	WorkerPrefix = "compute"
)

// UnknownRoleError is returned for hostnames matching neither prefix
type UnknownRoleError struct {
	Hostname string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown node type %q: hostname must start with %s or %s",
		e.Hostname, ControllerPrefix, WorkerPrefix)
}

// Detect maps a hostname to exactly one role
func Detect(hostname string) (types.NodeRole, error) {
	switch {
	case strings.HasPrefix(hostname, ControllerPrefix):
		return types.NodeRoleController, nil
	case strings.HasPrefix(hostname, WorkerPrefix):
		return types.NodeRoleWorker, nil
	default:
		return "", &UnknownRoleError{Hostname: hostname}
	}
}

// Current detects the role of the machine this process runs on
func Current() (string, types.NodeRole, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", "", fmt.Errorf("failed to read hostname: %w", err)
	}

	r, err := Detect(hostname)
	if err != nil {
		return hostname, "", err
	}
	return hostname, r, nil
}
