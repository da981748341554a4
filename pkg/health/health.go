package health

import (
	"context"
	"time"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs one readiness attempt
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckerFactory builds the Checker for one attempt against address
type CheckerFactory func(address string, timeout time.Duration) Checker

// TCPCheckerFactory builds TCPCheckers
func TCPCheckerFactory(address string, timeout time.Duration) Checker {
	return NewTCPChecker(address).WithTimeout(timeout)
}
