package health

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is returned when a condition does not hold before the deadline
type TimeoutError struct {
	Description string
	Timeout     time.Duration
	Attempts    int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for: %s (timeout: %v, attempts: %d)",
		e.Description, e.Timeout, e.Attempts)
}

// Waiter polls a condition at a fixed interval until it holds
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter. A zero timeout waits until the context ends.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// Timeout returns the configured deadline, zero meaning none
func (w *Waiter) Timeout() time.Duration {
	return w.timeout
}

// WaitFor checks condition immediately and then once per interval. It
// returns the number of attempts made and a *TimeoutError once the deadline
// passes, or the context error if ctx is cancelled first.
func (w *Waiter) WaitFor(ctx context.Context, condition func(context.Context) bool, description string) (int, error) {
	waitCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	attempts := 1
	if condition(waitCtx) {
		return attempts, nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return attempts, fmt.Errorf("wait for %s cancelled: %w", description, err)
			}
			return attempts, &TimeoutError{
				Description: description,
				Timeout:     w.timeout,
				Attempts:    attempts,
			}
		case <-ticker.C:
			attempts++
			if condition(waitCtx) {
				return attempts, nil
			}
		}
	}
}
