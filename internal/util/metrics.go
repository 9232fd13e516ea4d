package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogLoadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_loads_total",
		Help: "Total number of successful catalog loads",
	})

	CatalogLoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_load_failures_total",
		Help: "Total number of failed catalog loads",
	}, []string{"reason"})

	PurchaseAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_attempts_total",
		Help: "Total number of purchase attempts",
	})

	PurchaseOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_outcomes_total",
		Help: "Total number of terminal purchase outcomes",
	}, []string{"outcome"})

	PurchaseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "purchase_latency_seconds",
		Help:    "Latency of foreground purchase flows",
		Buckets: prometheus.DefBuckets,
	})

	VerificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transaction_verification_failures_total",
		Help: "Total number of transaction envelopes rejected by the verifier",
	})

	EntitlementRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_refreshes_total",
		Help: "Total number of completed entitlement ledger replays",
	})

	EntitlementRefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "entitlement_refresh_latency_seconds",
		Help:    "Latency of entitlement ledger replays",
		Buckets: prometheus.DefBuckets,
	})

	EntitlementsOwned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "entitlements_owned",
		Help: "Size of the most recently committed entitlement set",
	})

	RestoreAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restore_attempts_total",
		Help: "Total number of restoration flows started",
	})

	RestoreFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restore_failures_total",
		Help: "Total number of failed restoration flows",
	})

	TransactionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transaction_events_total",
		Help: "Total number of transaction lifecycle events consumed",
	}, []string{"type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
