package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DraftsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_drafts_saved_total",
			Help: "Draft upserts by trigger",
		},
		[]string{"trigger"}, // autosave | manual | api
	)

	DraftsFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "academy_drafts_finalized_total",
			Help: "Drafts turned into submitted registrations",
		},
	)

	IntentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_payment_intents_total",
			Help: "Payment intents by kind and outcome",
		},
		[]string{"kind", "outcome"}, // created | reused
	)

	IntentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_payment_intent_transitions_total",
			Help: "Payment intent status changes",
		},
		[]string{"status"},
	)

	TokenRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "academy_payment_token_rejections_total",
			Help: "Payment tokens that failed verification",
		},
	)

	PriceResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_price_resolutions_total",
			Help: "Server-side price lookups by checkpoint and result",
		},
		[]string{"result"}, // ok | plan_not_found | error
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "academy_gateway_request_duration_seconds",
			Help: "Payment gateway call latency",
		},
		[]string{"outcome"},
	)
)
