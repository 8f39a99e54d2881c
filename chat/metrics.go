package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages inserted, by payload kind.",
	}, []string{"kind"})

	readReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_read_receipts_total",
		Help: "Messages marked read by a recipient.",
	})

	gatewayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_failures_total",
		Help: "Failed collaborator calls, by operation.",
	}, []string{"op"})

	subscriptionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_subscription_failures_total",
		Help: "Realtime subscriptions that could not be established.",
	}, []string{"channel"})
)
