package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exports the message-exchange counters as prometheus metrics.
type Collector struct {
	sentTotal     *prometheus.CounterVec
	receivedTotal *prometheus.CounterVec
	activeCount   *prometheus.GaugeVec
}

// NewCollector creates a metrics collector and registers its metrics with the
// provided registerer. Passing prometheus.DefaultRegisterer hooks the metrics
// into the default /metrics endpoint.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		sentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pregel_messages_sent_total",
			Help: "The total number of message units sent by each worker.",
		}, []string{"worker"}),
		receivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pregel_messages_received_total",
			Help: "The total number of message units received by each worker.",
		}, []string{"worker"}),
		activeCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pregel_active_vertices",
			Help: "The number of vertices that voted to remain active on each worker.",
		}, []string{"worker"}),
	}
}

func (c *Collector) observeMessages(workerID string, stats MessageStats) {
	c.sentTotal.WithLabelValues(workerID).Add(float64(stats.SendCount))
	c.receivedTotal.WithLabelValues(workerID).Add(float64(stats.ReceivedCount))
}

func (c *Collector) observeActive(workerID string, active int64) {
	c.activeCount.WithLabelValues(workerID).Set(float64(active))
}
