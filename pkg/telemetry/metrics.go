package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the relay core, exposed on /metrics.
var (
	MessagesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_messages_submitted_total",
		Help: "Accepted message submissions, by delivery path.",
	}, []string{"path"}) // live | queued | automated

	MessagesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_read_total",
		Help: "Messages flipped to received by readMessage events.",
	})

	Replies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_replies_total",
		Help: "Reply-generation outcomes for automated peers.",
	}, []string{"result"}) // ok | error

	FriendRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_friend_requests_total",
		Help: "Friend requests accepted by the relationship manager.",
	})

	SessionsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_sessions_online",
		Help: "Sessions currently registered in the presence registry.",
	})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_delivery_failures_total",
		Help: "Failed submissions, by failure kind.",
	}, []string{"kind"}) // persistence | principal_not_found | push
)
