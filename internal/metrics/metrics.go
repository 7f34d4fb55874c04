package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "garage_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status_code"},
	)
)

var (
	OffersSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garage_offers_submitted_total",
			Help: "Total number of offers submitted",
		},
	)

	OfferDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garage_offer_decisions_total",
			Help: "Offers moved out of pending, by resulting status",
		},
		[]string{"status"},
	)

	OfferFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garage_offer_failures_total",
			Help: "Rejected offer workflow calls, by operation and error code",
		},
		[]string{"operation", "code"},
	)

	PaymentSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garage_payment_sessions_total",
			Help: "Payment session creation attempts, by result",
		},
		[]string{"result"},
	)

	SalesFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garage_sales_finalized_total",
			Help: "Sales moved to SOLD, by confirmation path",
		},
		[]string{"path"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garage_webhook_events_total",
			Help: "Payment provider webhook deliveries, by event type and result",
		},
		[]string{"type", "result"},
	)

	ReservationsReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garage_reservations_released_total",
			Help: "Reserved assets returned to AVAILABLE by the release policy",
		},
	)
)

// ObserveHTTP records one request.
func ObserveHTTP(route, method, status string, elapsed time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, method, status).Observe(elapsed.Seconds())
}
