// Package metrics exposes Prometheus metrics for the poker service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the gateway reports to.
type Recorder interface {
	RecordCommand(command, outcome string)
	RecordCommandLatency(command string, d time.Duration)
	RecordStoreWriteFailure()
	RecordBroadcast(connections int)
	RecordDroppedConnection()
}

// Collector implements Recorder on Prometheus.
type Collector struct {
	commands           *prometheus.CounterVec
	commandLatency     *prometheus.HistogramVec
	storeWriteFailures prometheus.Counter
	broadcasts         prometheus.Counter
	broadcastFanout    prometheus.Histogram
	droppedConns       prometheus.Counter
}

// NewCollector registers the service metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poker_commands_total",
			Help: "Session commands by type and outcome.",
		}, []string{"command", "outcome"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poker_command_duration_seconds",
			Help:    "Time to validate and queue a session command.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		storeWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poker_store_write_failures_total",
			Help: "Store writes that failed and were dropped.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poker_broadcasts_total",
			Help: "Session state broadcasts.",
		}),
		broadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poker_broadcast_connections",
			Help:    "Connections reached per broadcast.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		droppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poker_dropped_connections_total",
			Help: "Connections closed because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		c.commands,
		c.commandLatency,
		c.storeWriteFailures,
		c.broadcasts,
		c.broadcastFanout,
		c.droppedConns,
	)
	return c
}

func (c *Collector) RecordCommand(command, outcome string) {
	c.commands.WithLabelValues(command, outcome).Inc()
}

func (c *Collector) RecordCommandLatency(command string, d time.Duration) {
	c.commandLatency.WithLabelValues(command).Observe(d.Seconds())
}

func (c *Collector) RecordStoreWriteFailure() {
	c.storeWriteFailures.Inc()
}

func (c *Collector) RecordBroadcast(connections int) {
	c.broadcasts.Inc()
	c.broadcastFanout.Observe(float64(connections))
}

func (c *Collector) RecordDroppedConnection() {
	c.droppedConns.Inc()
}

// RegisterGauges exposes live counts read at scrape time.
func RegisterGauges(reg prometheus.Registerer, sessions, connections func() int) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "poker_active_sessions",
			Help: "Sessions with an open room in this process.",
		}, func() float64 { return float64(sessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "poker_active_connections",
			Help: "Open WebSocket connections.",
		}, func() float64 { return float64(connections()) }),
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCommand(string, string)               {}
func (Nop) RecordCommandLatency(string, time.Duration) {}
func (Nop) RecordStoreWriteFailure()                   {}
func (Nop) RecordBroadcast(int)                        {}
func (Nop) RecordDroppedConnection()                   {}
