package httpclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh results recorded by Metrics.
const (
	refreshResultOK      = "ok"
	refreshResultFailed  = "failed"
	refreshResultSkipped = "breaker-open"
)

// Metrics records client activity as Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	refreshes    *prometheus.CounterVec
	reauths      prometheus.Counter
	breakerTrips prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authbridge",
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Requests issued by the executor.",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "authbridge",
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Transport round trip duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authbridge",
				Subsystem: "client",
				Name:      "refresh_total",
				Help:      "Refresh attempts by result.",
			},
			[]string{"result"},
		),
		reauths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authbridge",
			Subsystem: "client",
			Name:      "reauth_total",
			Help:      "Re-authentication signals received.",
		}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authbridge",
			Subsystem: "client",
			Name:      "refresh_breaker_trips_total",
			Help:      "Times the refresh circuit breaker opened.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.duration, m.refreshes, m.reauths, m.breakerTrips} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeRequest(method string, status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, status.String()).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) observeReauth() {
	if m == nil {
		return
	}
	m.reauths.Inc()
}

func (m *Metrics) observeBreakerTrip() {
	if m == nil {
		return
	}
	m.breakerTrips.Inc()
}
