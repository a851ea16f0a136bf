package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records password-stage authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_auth_attempts_total",
			Help: "Total number of password authentication attempts",
		},
		[]string{"result"},
	)

	// TwoFactorChecks counts second-factor verifications by method (totp|backup) and result.
	TwoFactorChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_two_factor_checks_total",
			Help: "Total number of two-factor verification attempts",
		},
		[]string{"method", "result"},
	)

	// InvoiceJobTransitions counts invoice job state transitions by target status.
	InvoiceJobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_invoice_job_transitions_total",
			Help: "Total number of invoice job status transitions",
		},
		[]string{"status"},
	)

	// InvoiceEntitiesProcessed counts entities for which invoice artifacts were produced.
	InvoiceEntitiesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_invoice_entities_processed_total",
			Help: "Total number of entities processed by the invoice pipeline",
		},
	)

	// ActiveInvoiceJobs tracks jobs currently held by a pipeline worker.
	ActiveInvoiceJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backoffice_invoice_jobs_active",
			Help: "Number of invoice jobs currently processing",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backoffice_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
