package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Bootstrap progress
	BootstrapState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hpc_bootstrap_state",
			Help: "Current bootstrap state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	BootstrapInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hpc_bootstrap_info",
			Help: "Bootstrap run information, always 1",
		},
		[]string{"role", "hostname", "run_id"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hpc_bootstrap_step_duration_seconds",
			Help:    "Time spent in each bootstrap step in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"step"},
	)

	StepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hpc_bootstrap_step_failures_total",
			Help: "Total number of failed bootstrap steps by step and policy outcome",
		},
		[]string{"step", "outcome"},
	)

	// External commands
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hpc_bootstrap_commands_total",
			Help: "Total number of external commands run by result",
		},
		[]string{"result"},
	)

	// Readiness probes
	ReadinessProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hpc_bootstrap_readiness_probes_total",
			Help: "Total number of TCP readiness probes by result",
		},
		[]string{"result"},
	)

	ReadinessWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hpc_bootstrap_readiness_wait_seconds",
			Help:    "Time spent waiting for a dependency endpoint in seconds",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 300, 900},
		},
	)

	// Scheduler daemon
	DaemonExitCode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hpc_bootstrap_daemon_exit_code",
			Help: "Exit code of the supervised scheduler daemon",
		},
	)
)

func init() {
	prometheus.MustRegister(BootstrapState)
	prometheus.MustRegister(BootstrapInfo)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepFailures)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(ReadinessProbes)
	prometheus.MustRegister(ReadinessWaitDuration)
	prometheus.MustRegister(DaemonExitCode)
}

// SetState marks state as the active bootstrap state
func SetState(state string, all []string) {
	for _, s := range all {
		BootstrapState.WithLabelValues(s).Set(0)
	}
	BootstrapState.WithLabelValues(state).Set(1)
}
