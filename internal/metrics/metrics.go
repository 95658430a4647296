// Package metrics holds the Prometheus collectors of the selection engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SelectionToggles counts toggle outcomes.
	// Labels: kind (section, paper), outcome (selected, deselected, noop, capacity_exceeded)
	SelectionToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperseal",
		Subsystem: "selection",
		Name:      "toggles_total",
		Help:      "Selection toggles by outcome",
	}, []string{"kind", "outcome"})

	// AutoSelectFilled observes how many questions one auto-select call added.
	AutoSelectFilled = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paperseal",
		Subsystem: "selection",
		Name:      "autoselect_filled",
		Help:      "Questions selected per auto-select call",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	// Cascades counts finalized scopes reverted to in_review.
	// Labels: reason (toggle, edit, autoselect, reopen, compensate)
	Cascades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperseal",
		Subsystem: "lifecycle",
		Name:      "reverts_total",
		Help:      "Finalized scopes reverted to in_review",
	}, []string{"reason"})

	// InvariantViolations counts detected counter/recount mismatches.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperseal",
		Subsystem: "selection",
		Name:      "invariant_violations_total",
		Help:      "Counter and recount disagreements detected after a mutation",
	})

	// Finalizations counts finalize outcomes.
	// Labels: outcome (finalized, sealed_partial, cached, incomplete, generation_failed, seal_lost)
	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperseal",
		Subsystem: "finalize",
		Name:      "total",
		Help:      "Finalize calls by outcome",
	}, []string{"outcome"})

	// ArtifactDuration measures artifact generation latency.
	// Labels: status (success, error, timeout)
	ArtifactDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paperseal",
		Subsystem: "artifact",
		Name:      "generate_duration_seconds",
		Help:      "Artifact generation latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"status"})

	// CompensationFailures counts seals that could not be reverted after
	// every retry. Those scopes are left for the reconciler.
	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperseal",
		Subsystem: "finalize",
		Name:      "compensation_failures_total",
		Help:      "Compensations that exhausted their retries",
	})

	// Reconciled counts scopes handled by the reconciler.
	// Labels: action (regenerated, reverted, skipped, failed)
	Reconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperseal",
		Subsystem: "reconcile",
		Name:      "scopes_total",
		Help:      "Abandoned seals handled by the reconciler",
	}, []string{"action"})
)
