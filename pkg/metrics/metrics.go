package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lookmax", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lookmax", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lookmax", Name: "webhook_events_total", Help: "Webhook deliveries by event type and result."},
		[]string{"type", "result"},
	)
	WebhookRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lookmax", Name: "webhook_rejected_total", Help: "Webhook deliveries rejected before processing."},
		[]string{"reason"},
	)
	EntitlementTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lookmax", Name: "entitlement_transitions_total", Help: "Committed entitlement transitions by source and target status."},
		[]string{"from", "to"},
	)
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lookmax", Name: "payment_gateway_requests_total", Help: "Payment gateway calls by operation and result."},
		[]string{"op", "result"},
	)
	TokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lookmax", Name: "token_verifications_total", Help: "Session credential verifications by result."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(WebhookEvents)
	reg.MustRegister(WebhookRejected)
	reg.MustRegister(EntitlementTransitions)
	reg.MustRegister(GatewayRequests)
	reg.MustRegister(TokenVerifications)
}
