// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_messages_sent_total",
		Help: "Messages accepted by the API.",
	})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_message_send_failures_total",
		Help: "Message sends rolled back after a failed insert or upload.",
	})

	OptimisticSwaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_optimistic_swaps_total",
		Help: "Provisional records replaced by their feed confirmation.",
	})

	OrphanAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_orphan_appends_total",
		Help: "Feed confirmations that matched no provisional record.",
	})

	Rebinds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_conversation_rebinds_total",
		Help: "Live sessions switching conversations.",
	})

	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tandem_live_sessions",
		Help: "Currently connected realtime sessions.",
	})

	PresenceExpiries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_presence_expiries_total",
		Help: "Typing indicators removed by timeout instead of a stop event.",
	})

	AssistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_assist_failures_total",
		Help: "Failed calls to the assist sidecar.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_http_requests_total",
		Help: "HTTP requests by route and status class.",
	}, []string{"route", "status"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
