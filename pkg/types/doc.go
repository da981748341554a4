/*
Package types defines the data structures shared by the bootstrap packages.

# Node Roles

A node is either the cluster controller or a worker. The role decides which
scheduler daemon the node ends up running:

	NodeRoleController  ->  slurmctld
	NodeRoleWorker      ->  slurmd

# Bootstrap States

State enumerates the steps of a bootstrap run. States lists them in the
order a run moves through them; a run may skip states that do not apply to
its role (only the controller builds the scheduler binaries, only workers
wait on the controller) but never goes backwards. Failed is reachable from
any non-terminal state.

	init -> role_resolved -> config_resolved -> [binary_ensured]
	     -> network_configured -> auth_integrated -> credential_service_up
	     -> directories_provisioned -> [waiting_on_controller]
	     -> daemon_launched -> terminal

# Scheduler Directories

SchedulerDirectories returns the spool, log and run directories the daemon
for a role needs, each owned by the scheduler service account with mode
0700. The controller set is the worker set plus the controller spool.

# Run History

Run and StepRecord are the persisted form of one bootstrap invocation, see
package storage. They carry both JSON and YAML tags so that the status
command can print them as they are stored.
*/
package types
