package checkout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_checkout_transitions_total",
			Help: "Total number of checkout phase entries by target phase",
		},
		[]string{"phase"},
	)

	rejectedOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_checkout_rejected_total",
			Help: "Total number of checkout operations rejected in the current phase",
		},
		[]string{"op", "phase"},
	)
)
