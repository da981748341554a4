package metrics

import (
	"github.com/cuemby/hpc-bootstrap/pkg/events"
	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Exporter rewrites the metrics textfile whenever a bootstrap event arrives
type Exporter struct {
	path     string
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// NewExporter creates an Exporter for the default registry
func NewExporter(path string) *Exporter {
	return &Exporter{
		path:     path,
		gatherer: prometheus.DefaultGatherer,
		logger:   log.WithComponent("metrics"),
	}
}

// Run writes the textfile once per event until sub is closed
func (e *Exporter) Run(sub events.Subscriber) {
	for ev := range sub {
		if err := WriteTextfileFrom(e.path, e.gatherer); err != nil {
			e.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to export metrics")
		}
	}
}
