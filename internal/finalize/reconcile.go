package finalize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/paperseal/internal/metrics"
	"github.com/pavelanni/paperseal/internal/model"
)

// Reconcile modes.
const (
	ModeRegenerate = "regenerate"
	ModeRevert     = "revert"
)

// Report summarizes one reconciler pass.
type Report struct {
	Regenerated int `json:"regenerated"`
	Reverted    int `json:"reverted"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Reconcile finds complete papers that were sealed but never received an
// artifact, and either regenerates the artifact or reverts the seal.
// Seals younger than the stale-after window are left to their finalize call.
func (s *Saga) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	seals, err := s.abandonedSeals(ctx)
	if err != nil {
		return rep, err
	}

	var mu sync.Mutex
	count := func(action string, n *int) {
		mu.Lock()
		*n++
		mu.Unlock()
		metrics.Reconciled.WithLabelValues(action).Inc()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ReconcileWorkers)
	for _, seal := range seals {
		g.Go(func() error {
			if s.cfg.ReconcileMode == ModeRevert {
				reverted, err := s.lc.Compensate(gctx, seal)
				switch {
				case err != nil:
					count("failed", &rep.Failed)
				case reverted:
					count("reverted", &rep.Reverted)
				default:
					count("skipped", &rep.Skipped)
				}
				return nil
			}
			if _, err := s.generateAndCommit(gctx, seal); err != nil {
				slog.Warn("reconcile regenerate failed", "scope", seal.Scope, "error", err)
				count("failed", &rep.Failed)
				return nil
			}
			count("regenerated", &rep.Regenerated)
			return nil
		})
	}
	err = g.Wait()
	slog.Info("reconcile pass", "candidates", len(seals), "regenerated", rep.Regenerated,
		"reverted", rep.Reverted, "skipped", rep.Skipped, "failed", rep.Failed)
	return rep, err
}

// abandonedSeals returns one seal per complete, artifact-less paper whose
// latest seal is older than the stale-after window. For sectioned papers
// the latest sealed section stands for the paper.
func (s *Saga) abandonedSeals(ctx context.Context) ([]model.Seal, error) {
	scopes, err := s.store.ListUnbackedSeals(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[int64]model.ScopeState)
	var order []int64
	for _, st := range scopes {
		if st.FinalizedAt == nil {
			continue
		}
		cur, ok := latest[st.PaperID]
		if !ok {
			order = append(order, st.PaperID)
		}
		if !ok || st.FinalizedAt.After(*cur.FinalizedAt) {
			latest[st.PaperID] = st
		}
	}

	cutoff := s.store.Now().Add(-s.cfg.StaleAfter)
	var seals []model.Seal
	for _, paperID := range order {
		st := latest[paperID]
		if st.FinalizedAt.After(cutoff) {
			continue
		}
		complete, err := s.lc.PaperComplete(ctx, paperID)
		if err != nil {
			return nil, err
		}
		if !complete {
			continue
		}
		seals = append(seals, sealOf(st))
	}
	return seals, nil
}

// RunReconciler runs Reconcile every interval until ctx is done.
func (s *Saga) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				slog.Error("reconcile failed", "error", err)
			}
		}
	}
}
