package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_total",
			Help: "Messages handed to Kafka by topic and delivery outcome",
		},
		[]string{"topic", "outcome"},
	)

	writeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_write_duration_seconds",
			Help:    "Time spent in synchronous writes",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"topic"},
	)
)

func countOutcome(topic string, n int, err error) {
	outcome := outcomeDelivered
	if err != nil {
		outcome = outcomeFailed
	}
	messagesTotal.WithLabelValues(topic, outcome).Add(float64(n))
}
