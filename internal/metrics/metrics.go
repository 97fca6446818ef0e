// Package metrics holds the Prometheus collectors shared by the check-in
// service. They register with the global registry; main exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CheckinOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_outcomes_total",
			Help: "Check-in engine results by operation and result code.",
		}, []string{"operation", "code"})

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_cache_lookups_total",
			Help: "Cache lookups by tier and result (hit, miss, shape_mismatch).",
		}, []string{"tier", "result"})

	CacheBackendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_cache_backend_errors_total",
			Help: "L2 backend errors swallowed by the cache coordinator.",
		}, []string{"operation"})

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_breaker_state",
			Help: "Circuit breaker state per upstream site (0 closed, 1 half open, 2 open).",
		}, []string{"name"})

	BreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_breaker_rejections_total",
			Help: "Calls failed fast because the breaker was open.",
		}, []string{"name"})

	OccupancyInside = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_occupancy_inside",
			Help: "Attendees currently inside, per event.",
		}, []string{"event_id"})

	SyncedTickets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_synced_tickets_total",
			Help: "Tickets upserted by the bulk synchronizer.",
		}, []string{"event_id"})
)

func init() {
	prometheus.MustRegister(
		CheckinOutcomes,
		CacheLookups,
		CacheBackendErrors,
		BreakerState,
		BreakerRejections,
		OccupancyInside,
		SyncedTickets,
	)
}
