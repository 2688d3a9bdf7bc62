package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Total number of ledger operations by outcome code",
	}, []string{"op", "code"})

	LedgerOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_latency_seconds",
		Help:    "Latency of ledger operations including the store transaction",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	EnergyUnitsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energy_units_sold_total",
		Help: "Total energy units sold",
	})

	EnergyUnitsRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energy_units_refunded_total",
		Help: "Total energy units refunded",
	})

	RevenueWithdrawnTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revenue_withdrawn_total",
		Help: "Total revenue withdrawn by producers",
	})

	ProducersPausedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "producers_paused_total",
		Help: "Total number of producer pauses",
	})

	BatchesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_batches_processed_total",
		Help: "Total number of command batches processed",
	}, []string{"source"})

	DuplicateRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_duplicate_requests_total",
		Help: "Total number of requests rejected by idempotency key",
	})

	CacheRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "producer_cache_refreshes_total",
		Help: "Total number of producer cache refreshes",
	}, []string{"result"})

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
