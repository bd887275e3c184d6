package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

var (
	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_order_operations_total",
			Help: "Order manager operations by outcome",
		},
		[]string{"operation", "result"},
	)

	pruneReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lottery_prune_reclaimed_total",
			Help: "Tickets returned to available by the expiry sweep",
		},
	)

	pruneGhostsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lottery_prune_ghosts_deleted_total",
			Help: "Empty aggregates deleted by either sweep",
		},
	)

	pruneFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_prune_failures_total",
			Help: "Rows skipped after an error, per sweep",
		},
		[]string{"sweep"},
	)

	pruneDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lottery_prune_duration_seconds",
			Help:    "Duration of a full prune cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrTransactionFailure):
		return "tx_failure"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "rejected"
	}
}
