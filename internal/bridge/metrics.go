package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for routeflow_executions_total.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Metrics are the execution counters exported on /metrics.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routeflow_executions_total",
				Help: "Route executions by outcome",
			},
			[]string{"route", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routeflow_execution_duration_seconds",
				Help:    "Wall-clock duration of route executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.executions, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(routeID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(routeID, outcome).Inc()
	m.duration.WithLabelValues(routeID).Observe(d.Seconds())
}
