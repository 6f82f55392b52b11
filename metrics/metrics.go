package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// for now we will tightly couple to the prometheus collector type
	// the go otel metrics sdk also has a prometheus adapter that implements this interface.
	prometheus.Collector
}

type Metrics struct {
	MessagesCount      Observer
	CommandCount       Observer
	RejectedCount      Observer
	BlockMutations     Observer
	QueryLatency       Observer
	CommandLatency     Observer
	BlockListSize      Observer
	MaintenanceRestart Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesCount,
		m.CommandCount,
		m.RejectedCount,
		m.BlockMutations,
		m.QueryLatency,
		m.CommandLatency,
		m.BlockListSize,
		m.MaintenanceRestart,
	}
}
