// Package metrics holds the Prometheus collectors for delivery activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeliveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertmail_delivery_attempts_total",
		Help: "Total number of transport send attempts",
	}, []string{"provider", "outcome"})
	DeliveriesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertmail_deliveries_total",
		Help: "Total number of deliveries that reached a terminal status",
	}, []string{"provider", "status"})
	DeliveryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertmail_delivery_errors_total",
		Help: "Total number of failed attempts grouped by error kind",
	}, []string{"provider", "kind"})
	DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alertmail_delivery_duration_seconds",
		Help:    "Wall-clock time from first attempt to terminal status",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alertmail_queue_depth",
		Help: "Number of deliveries waiting in the offline queue",
	})
	FallbackUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertmail_fallback_used_total",
		Help: "Total number of alerts delivered by a fallback provider",
	}, []string{"provider"})
	TemplateFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertmail_template_fallbacks_total",
		Help: "Total number of alerts sent with default content after a render failure",
	})
	StatusesPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertmail_statuses_purged_total",
		Help: "Total number of delivery records removed by cleanup",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertmail_events_dropped_total",
		Help: "Total number of delivery events dropped because a subscriber buffer was full",
	})
)

func init() {
	prometheus.MustRegister(DeliveryAttempts)
	prometheus.MustRegister(DeliveriesCompleted)
	prometheus.MustRegister(DeliveryErrors)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(FallbackUsed)
	prometheus.MustRegister(TemplateFallbacks)
	prometheus.MustRegister(StatusesPurged)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
