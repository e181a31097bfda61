package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveryAttempts tracks every attempt made by the delivery engine.
	DeliveryAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total number of pending-outbox delivery attempts",
		},
		[]string{"result"}, // ack, fail, exhausted
	)

	// DeliveryQueueDepth tracks the number of pending entries per peer.
	DeliveryQueueDepth = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_depth",
			Help:      "Number of pending outbound entries per peer",
		},
		[]string{"peer_id"},
	)

	// ReceiptLatency tracks the time between send and delivery receipt.
	ReceiptLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "receipt_latency_seconds",
			Help:      "Time between send and delivery receipt",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// RelayBudgetRemaining reports the relay max-per-hour budget that
	// AutoAdjust most recently applied. It is set on each device-state
	// update and is not decremented as relayed sends occur.
	RelayBudgetRemaining = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "relay_budget_remaining",
			Help:      "Relay sends per hour allowed by the most recently applied autoadjust budget",
		},
	)

	// InboxDuplicates tracks duplicate inbound message IDs observed.
	InboxDuplicates = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "duplicates_total",
			Help:      "Total number of duplicate inbound message IDs observed",
		},
	)

	// PeerEvents tracks discovery/identification/disconnection events.
	PeerEvents = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mesh",
			Name:      "peer_events_total",
			Help:      "Total number of peer lifecycle events",
		},
		[]string{"event"}, // discovered, identified, disconnected
	)
)
