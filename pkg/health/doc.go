/*
Package health answers whether the services a node depends on are ready.

The bootstrap never talks to its peers beyond opening a TCP connection, so
readiness is reachability: a service is ready once its port accepts a
connection. Workers use this to hold back slurmd until slurmctld listens on
the controller; the controller uses a single probe to warn early when the
LDAP directory server is down.

# Checkers

Checker is the single-attempt interface and CheckerFactory builds one per
attempt. TCPChecker dials an address with a bounded timeout and reports a
Result:

	result := health.NewTCPChecker("slurmctld-0:6817").
		WithTimeout(2 * time.Second).
		Check(ctx)

# Waiting

Waiter polls a condition at a fixed interval until it holds, the deadline
passes or the context ends. A zero deadline waits until the context ends,
so an unbounded wait can still be interrupted by a signal:

	waiter := health.NewWaiter(15*time.Minute, 2*time.Second)
	attempts, err := waiter.WaitFor(ctx, ready, "slurmctld to accept connections")

On deadline WaitFor returns a *TimeoutError; on cancellation it returns the
context error.

# Prober

Prober combines the two for service endpoints. IsReachable makes one
attempt and reports false on any failure. WaitForEndpoint retries through a
Waiter and returns an *UnreachableError wrapping the cause when it gives up:

	prober := health.NewProber(2 * time.Second)
	err := prober.WaitForEndpoint(ctx, controller, waiter)

	var unreachable *health.UnreachableError
	if errors.As(err, &unreachable) {
		// unreachable.Attempts, unreachable.Waited
	}

Every attempt is counted in the readiness probe metric of package metrics.
Attempts go through TCPCheckerFactory unless WithCheckerFactory says
otherwise.
*/
package health
