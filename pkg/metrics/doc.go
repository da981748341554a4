/*
Package metrics provides Prometheus metrics for the node bootstrap.

The bootstrap is a short-lived process followed by a long-running daemon,
so nothing scrapes it over HTTP. Metrics live in the global default
registry, registered at package init, and are written to a file in the
text exposition format for the node-exporter textfile collector:

	┌─────────────── hpc-bootstrap ───────────────┐
	│  sequencer ─┐                               │
	│  runner ────┼─▶ DefaultRegistry             │
	│  prober ────┤        │                      │
	│  daemon ────┘        ▼                      │
	│            Exporter (on each event)         │
	└──────────────────────┬──────────────────────┘
	                       ▼
	     /var/lib/node_exporter/hpc_bootstrap.prom
	                       ▼
	          node_exporter --collector.textfile

The Exporter subscribes to the event broker and rewrites the file after
every state transition. The write goes through a temp file and a rename.

# Metrics Catalog

	hpc_bootstrap_state{state}                 1 for the active state
	hpc_bootstrap_info{role,hostname,run_id}   always 1
	hpc_bootstrap_step_duration_seconds{step}  histogram
	hpc_bootstrap_step_failures_total{step,outcome}
	                                           outcome is fatal or ignored
	hpc_bootstrap_commands_total{result}       succeeded or failed
	hpc_bootstrap_readiness_probes_total{result}
	                                           reachable or unreachable
	hpc_bootstrap_readiness_wait_seconds       histogram
	hpc_bootstrap_daemon_exit_code             last daemon exit status

# Usage

	timer := metrics.NewTimer()
	err := step(ctx)
	timer.ObserveDurationVec(metrics.StepDuration, "network")

	metrics.SetState(string(types.StateNetworkConfigured), allStates)
	metrics.WriteTextfile(cfg.MetricsFile)
*/
package metrics
