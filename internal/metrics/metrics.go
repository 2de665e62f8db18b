// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attendpay"

var (
	// StoreWrites counts committed attendance writes by operation.
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_writes_total",
		Help:      "Attendance log writes committed, by operation.",
	}, []string{"op"})

	// SettingsResolved counts window resolutions, split by whether a row was created.
	SettingsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settings_resolved_total",
		Help:      "Attendance window resolutions.",
	}, []string{"created"})

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_attempts_total",
		Help:      "Retried operations, by outcome.",
	}, []string{"outcome"})

	PollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_runs_total",
		Help:      "Change log polls, by result.",
	}, []string{"result"})

	PayrollCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payroll_cache_total",
		Help:      "Payroll summary cache lookups, by result.",
	}, []string{"result"})

	BulkLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bulk_load_seconds",
		Help:      "Duration of attendance bulk loads.",
		Buckets:   prometheus.DefBuckets,
	})

	StoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_logs",
		Help:      "Attendance logs held in memory.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by scope.",
	}, []string{"scope"})

	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_clients",
		Help:      "Connected live websocket clients.",
	})
)
