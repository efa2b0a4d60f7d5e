package discussions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of the connection supervisor.
type Metrics struct {
	// ConnectAttempts counts connection attempts by result.
	ConnectAttempts *prometheus.CounterVec
	// Lines counts protocol lines by direction.
	Lines *prometheus.CounterVec
	// Connected is 1 while a session is live.
	Connected prometheus.Gauge
	// BackoffSeconds is the current delay before the next attempt.
	BackoffSeconds prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg, which may be
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discussions_connect_attempts_total",
				Help: "Total number of connection attempts by result",
			},
			[]string{"result"},
		),
		Lines: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discussions_lines_total",
				Help: "Total number of IRC lines by direction",
			},
			[]string{"direction"},
		),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "discussions_connected",
			Help: "Whether a session is connected",
		}),
		BackoffSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "discussions_backoff_seconds",
			Help: "Delay before the next connection attempt",
		}),
	}
}
