package storage

import (
	"errors"

	"github.com/cuemby/hpc-bootstrap/pkg/types"
)

var (
	// ErrLocked is returned when another bootstrap holds the state database
	ErrLocked = errors.New("state database is locked by another bootstrap")

	// ErrNoRuns is returned by LastRun on a fresh database
	ErrNoRuns = errors.New("no bootstrap runs recorded")
)

// Store defines the interface for bootstrap run history
type Store interface {
	// Runs
	BeginRun(hostname string) (*types.Run, error)
	SetRole(runID string, role types.NodeRole) error
	RecordStep(runID string, step types.StepRecord) error
	FinishRun(runID string, status types.RunStatus, exitCode int, runErr error) error

	// Queries
	GetRun(id string) (*types.Run, error)
	LastRun() (*types.Run, error)
	ListRuns() ([]*types.Run, error)

	// Utility
	Close() error
}
