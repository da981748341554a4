/*
Package bootstrap sequences a cluster node from boot to a running scheduler
daemon.

The hostname decides the role: slurmctld* nodes become the controller,
compute* nodes become workers. The Sequencer then walks a fixed state
machine, blocking on each step before moving to the next:

	Init
	 └─▶ RoleResolved
	      └─▶ ConfigResolved
	           └─▶ BinaryEnsured              (controller only)
	                └─▶ NetworkConfigured
	                     └─▶ AuthIntegrated
	                          └─▶ CredentialServiceUp
	                               └─▶ DirectoriesProvisioned
	                                    └─▶ WaitingOnController   (worker only)
	                                         └─▶ DaemonLaunched
	                                              └─▶ Terminal

	any failure ─▶ Failed

Role and configuration are resolved before anything touches the node, so a
bad hostname or a missing variable never leaves a half-configured machine.

# Failure policy

Every side-effecting step is fatal unless the policy file marks it
ignorable. Only the network, auth and credentials steps may be ignored:

	steps:
	  network: ignore

An ignored failure is logged, counted in hpc_bootstrap_step_failures_total
with outcome="ignored", recorded against the state it belongs to, and the
sequence continues.

# Waiting on the controller

Workers poll the controller's daemon port until it accepts a TCP
connection. The wait has a deadline (HPC_BOOTSTRAP_WAIT_TIMEOUT, 15m by
default, 0 for none) and always ends when the context is cancelled. On
expiry Run returns a *health.UnreachableError wrapped in a *StepError.

# Daemon

The last step runs the scheduler daemon in the foreground through a
DaemonLauncher and returns when it exits. ExitCode turns the returned error
into the process exit status, mirroring the daemon's own.

# Usage

	seq := bootstrap.New(bootstrap.Options{
		Resolver: config.FromEnvironment(),
		Factory:  bootstrap.DefaultFactory(runner.New(resolver.Secret)),
		Store:    store,
		Broker:   broker,
	})
	err := seq.Run(ctx)
	os.Exit(bootstrap.ExitCode(err))
*/
package bootstrap
