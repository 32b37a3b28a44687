// Package metrics holds the Prometheus collectors shared by the engine, the
// HTTP server and the webhook dispatcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WinsLogged counts wins by scope: objective or key_result.
	WinsLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frequency_wins_logged_total",
		Help: "Wins logged by scope",
	}, []string{"scope"})

	WinsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frequency_wins_deleted_total",
		Help: "Wins tombstoned",
	})

	// LifecycleOps counts create/update/delete/convert calls per entity.
	LifecycleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frequency_lifecycle_operations_total",
		Help: "Lifecycle operations by entity and operation",
	}, []string{"entity", "op"})

	// ReorderBatches counts reorder writes by entity and outcome (applied, noop, reconciled).
	ReorderBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frequency_reorder_batches_total",
		Help: "Reorder batches by entity and outcome",
	}, []string{"entity", "outcome"})

	ReorderBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frequency_reorder_batch_size",
		Help:    "Number of order updates per reorder batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frequency_store_errors_total",
		Help: "Data access failures by operation",
	}, []string{"op"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frequency_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"method", "status"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frequency_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome",
	}, []string{"outcome"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
