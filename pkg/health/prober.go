package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/metrics"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/rs/zerolog"
)

// UnreachableError reports a peer that never accepted a connection in time
type UnreachableError struct {
	Endpoint types.ServiceEndpoint
	Waited   time.Duration
	Attempts int
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s unreachable after %d attempts in %v", e.Endpoint, e.Attempts, e.Waited.Round(time.Millisecond))
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// Prober answers whether a dependency service accepts TCP connections yet
type Prober struct {
	timeout    time.Duration
	newChecker CheckerFactory
	logger     zerolog.Logger
}

// NewProber creates a Prober whose single attempts last at most timeout
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTCPTimeout
	}
	return &Prober{
		timeout:    timeout,
		newChecker: TCPCheckerFactory,
		logger:     log.WithComponent("prober"),
	}
}

// WithCheckerFactory replaces how single attempts are made
func (p *Prober) WithCheckerFactory(f CheckerFactory) *Prober {
	p.newChecker = f
	return p
}

// IsReachable makes one bounded connection attempt. Failure is reported
// as false, never as an error.
func (p *Prober) IsReachable(ctx context.Context, endpoint types.ServiceEndpoint) bool {
	result := p.newChecker(endpoint.Address(), p.timeout).Check(ctx)
	if result.Healthy {
		metrics.ReadinessProbes.WithLabelValues("reachable").Inc()
		p.logger.Debug().Str("endpoint", endpoint.Address()).Dur("duration", result.Duration).Msg("Endpoint reachable")
		return true
	}

	metrics.ReadinessProbes.WithLabelValues("unreachable").Inc()
	p.logger.Debug().Str("endpoint", endpoint.Address()).Msg(result.Message)
	return false
}

// WaitForEndpoint polls endpoint with waiter until it is reachable. When the
// waiter's deadline passes it returns an *UnreachableError.
func (p *Prober) WaitForEndpoint(ctx context.Context, endpoint types.ServiceEndpoint, waiter *Waiter) error {
	start := time.Now()
	attempts, err := waiter.WaitFor(ctx, func(ctx context.Context) bool {
		if p.IsReachable(ctx, endpoint) {
			return true
		}
		p.logger.Info().Str("endpoint", endpoint.Address()).Msg("Waiting for endpoint to accept connections")
		return false
	}, endpoint.Address())
	metrics.ReadinessWaitDuration.Observe(time.Since(start).Seconds())

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return &UnreachableError{
			Endpoint: endpoint,
			Waited:   time.Since(start),
			Attempts: attempts,
			Err:      err,
		}
	}
	return err
}
