// Package metrics exposes Prometheus instruments for the voucher workflow.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/evoucher/internal/apperrors"
)

const (
	ResultOK                = "ok"
	ResultNotFound          = "not_found"
	ResultForbidden         = "forbidden"
	ResultInvalidTransition = "invalid_transition"
	ResultValidation        = "validation"
	ResultIntegrity         = "integrity"
	ResultRateUnavailable   = "rate_unavailable"
	ResultCancelled         = "cancelled"
	ResultUnknown           = "unknown"
)

const (
	PostingCreated  = "created"
	PostingReplayed = "replayed"
	PostingFailed   = "failed"
)

// Config carries constant labels
type Config struct {
	ServiceName string
	Environment string
}

// WorkflowMetrics captures transition outcomes, ledger postings and rate
// lookup latency.
type WorkflowMetrics struct {
	transitions    *prometheus.CounterVec
	transitionTime *prometheus.HistogramVec
	postings       *prometheus.CounterVec
	rateLookups    *prometheus.HistogramVec
	lockWait       prometheus.Observer
}

// New registers the workflow instruments on registerer
func New(registerer prometheus.Registerer, cfg Config) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "evoucher"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "evoucher_transitions_total",
		Help:        "Voucher transition attempts by action and low-cardinality result.",
		ConstLabels: constLabels,
	}, []string{"action", "result"})
	transitionTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "evoucher_transition_duration_seconds",
		Help:        "Voucher transition latency including lock wait.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"action"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "evoucher_ledger_postings_total",
		Help:        "Ledger postings by ledger kind and outcome.",
		ConstLabels: constLabels,
	}, []string{"kind", "outcome"})
	rateLookups := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "evoucher_rate_lookup_duration_seconds",
		Help:        "Exchange rate lookup latency by currency pair and result.",
		Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		ConstLabels: constLabels,
	}, []string{"pair", "result"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "evoucher_document_lock_wait_seconds",
		Help:        "Time spent waiting for the per-document lock.",
		Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(transitions, transitionTime, postings, rateLookups, lockWait)

	return &WorkflowMetrics{
		transitions:    transitions,
		transitionTime: transitionTime,
		postings:       postings,
		rateLookups:    rateLookups,
		lockWait:       lockWait,
	}
}

// ObserveTransition records one transition attempt
func (m *WorkflowMetrics) ObserveTransition(action string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, ClassifyResult(err)).Inc()
	m.transitionTime.WithLabelValues(action).Observe(duration.Seconds())
}

// IncPosting counts a ledger posting outcome
func (m *WorkflowMetrics) IncPosting(kind, outcome string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(kind, outcome).Inc()
}

// ObserveRateLookup implements currency.Observer
func (m *WorkflowMetrics) ObserveRateLookup(from, to string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultRateUnavailable
	}
	m.rateLookups.WithLabelValues(from+"/"+to, result).Observe(d.Seconds())
}

// ObserveLockWait records how long a transition waited for its document lock
func (m *WorkflowMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// ClassifyResult maps an error onto the result label
func ClassifyResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, apperrors.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, apperrors.ErrForbidden):
		return ResultForbidden
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return ResultInvalidTransition
	case errors.Is(err, apperrors.ErrValidation):
		return ResultValidation
	case errors.Is(err, apperrors.ErrIntegrity):
		return ResultIntegrity
	case errors.Is(err, apperrors.ErrRateUnavailable):
		return ResultRateUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCancelled
	default:
		return ResultUnknown
	}
}
