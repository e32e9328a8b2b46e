package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ledgerApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_apply_total",
			Help: "Ledger apply attempts by kind, outcome and entry point.",
		},
		[]string{"kind", "outcome", "source"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook deliveries by event type and result.",
		},
		[]string{"type", "result"},
	)

	paymentVerifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_total",
			Help: "Client-side verification calls by result.",
		},
		[]string{"result"},
	)

	checkoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Checkout sessions requested by mode and result.",
		},
		[]string{"mode", "result"},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Payment provider API latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		},
		[]string{"operation", "result"},
	)

	pendingClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_claims_total",
			Help: "Pending credit claims by action (created/redeemed/expired).",
		},
		[]string{"action"},
	)

	reconcileSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_sessions_total",
			Help: "Sessions examined by the reconciler by outcome.",
		},
		[]string{"outcome"},
	)

	statusStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_status_streams",
			Help: "Open payment status websocket streams on this instance.",
		},
	)

	statusEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_events_total",
			Help: "Payment status events by delivery result.",
		},
		[]string{"result"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			ledgerApplyTotal,
			webhookEventsTotal,
			paymentVerifyTotal,
			checkoutSessionsTotal,
			providerRequestDuration,
			pendingClaimsTotal,
			reconcileSessionsTotal,
			statusStreams,
			statusEventsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func LedgerApply(kind, outcome, source string) {
	ledgerApplyTotal.WithLabelValues(kind, outcome, source).Inc()
}

func WebhookEvent(eventType, result string) {
	webhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

func PaymentVerify(result string) {
	paymentVerifyTotal.WithLabelValues(result).Inc()
}

func CheckoutSession(mode, result string) {
	checkoutSessionsTotal.WithLabelValues(mode, result).Inc()
}

func PendingClaim(action string) {
	pendingClaimsTotal.WithLabelValues(action).Inc()
}

func PendingClaims(action string, n int) {
	if n > 0 {
		pendingClaimsTotal.WithLabelValues(action).Add(float64(n))
	}
}

func ReconcileSession(outcome string) {
	reconcileSessionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProvider records the latency of one provider call.
func ObserveProvider(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerRequestDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

func StreamOpened() { statusStreams.Inc() }
func StreamClosed() { statusStreams.Dec() }

// StatusEvent counts one payment status delivery: sent, dropped or published.
func StatusEvent(result string) {
	statusEventsTotal.WithLabelValues(result).Inc()
}
