package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_sessions_active",
		Help: "Number of live visitor sessions",
	})

	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_sessions_created_total",
		Help: "Total number of visitor sessions created",
	})

	sessionsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_sessions_removed_total",
			Help: "Total number of visitor sessions removed by reason",
		},
		[]string{"reason"},
	)
)
