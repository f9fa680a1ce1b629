package devserver

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serverMetrics counts token traffic on the dev backend. Each Server owns its registry.
type serverMetrics struct {
	registry *prometheus.Registry
	logins   *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authbridge_devserver",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authbridge_devserver",
			Name:      "refreshes_total",
			Help:      "Refresh token exchanges by result.",
		}, []string{"result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authbridge_devserver",
			Name:      "rejected_requests_total",
			Help:      "Protected requests rejected by the error sentinel sent back.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.logins, m.refresh, m.rejected)
	return m
}

func (m *serverMetrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
