// Package lifecycle owns the scope status state machine:
// pending -> ready -> in_review -> finalized, plus finalized -> in_review.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/paperseal/internal/metrics"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/store"
)

var transitions = map[model.ScopeStatus][]model.ScopeStatus{
	model.StatusPending:   {model.StatusReady},
	model.StatusReady:     {model.StatusInReview, model.StatusFinalized},
	model.StatusInReview:  {model.StatusFinalized},
	model.StatusFinalized: {model.StatusInReview},
}

// Allowed reports whether the state machine has an edge from -> to.
func Allowed(from, to model.ScopeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Controller applies status transitions with compare-and-set updates.
type Controller struct {
	store *store.Store
	cfg   model.Config
}

// New creates a Controller.
func New(s *store.Store, cfg model.Config) *Controller {
	if cfg.CompensationAttempts <= 0 {
		cfg.CompensationAttempts = 1
	}
	return &Controller{store: s, cfg: cfg}
}

// MarkReady records that question generation for a scope has completed.
// Scopes already past pending are left untouched.
func (c *Controller) MarkReady(ctx context.Context, ref model.ScopeRef) (model.ScopeState, error) {
	var st model.ScopeState
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		st, err = tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		if st.Status != model.StatusPending {
			return nil
		}
		ok, err := tx.SetScopeStatus(ctx, ref, []model.ScopeStatus{model.StatusPending}, model.StatusReady)
		if err != nil {
			return err
		}
		if ok {
			st.Status = model.StatusReady
			slog.Info("scope ready", "scope", ref, "paper_id", st.PaperID)
		}
		return nil
	})
	return st, err
}

// OnScopeMutated runs inside the transaction of every selection or content
// change, after the change was applied. It moves a ready scope into review
// and reverts a finalized one, clearing the paper's artifact. reason labels
// the revert metric. It reports whether a finalized scope was reverted.
func (c *Controller) OnScopeMutated(ctx context.Context, tx *store.Tx, st model.ScopeState, reason string) (bool, error) {
	switch st.Status {
	case model.StatusReady:
		if _, err := tx.SetScopeStatus(ctx, st.Ref, []model.ScopeStatus{model.StatusReady}, model.StatusInReview); err != nil {
			return false, fmt.Errorf("%s into review: %w", st.Ref, err)
		}
		if st.Ref.Kind == model.ScopeSection {
			if err := tx.MarkPaperReview(ctx, st.PaperID); err != nil {
				return false, err
			}
		}
		return false, nil
	case model.StatusFinalized:
		if err := c.revert(ctx, tx, st, 0); err != nil {
			return false, err
		}
		metrics.Cascades.WithLabelValues(reason).Inc()
		slog.Info("finalized scope reverted", "scope", st.Ref, "paper_id", st.PaperID, "reason", reason)
		return true, nil
	}
	return false, nil
}

// revert moves a finalized scope back to in_review and clears the paper's
// artifact. A non-zero version restricts the revert to that seal.
func (c *Controller) revert(ctx context.Context, tx *store.Tx, st model.ScopeState, version int64) error {
	ok, err := tx.UnsealScope(ctx, st.Ref, version)
	if err != nil {
		return fmt.Errorf("unseal %s: %w", st.Ref, err)
	}
	if !ok && version == 0 {
		return &model.TransitionError{Scope: st.Ref, From: st.Status, To: model.StatusInReview}
	}
	if st.Ref.Kind == model.ScopeSection {
		if err := tx.ClearPaperArtifact(ctx, st.PaperID); err != nil {
			return fmt.Errorf("clear artifact of paper %d: %w", st.PaperID, err)
		}
	}
	return nil
}

// Scope returns the current state of a scope.
func (c *Controller) Scope(ctx context.Context, ref model.ScopeRef) (model.ScopeState, error) {
	return c.store.GetScope(ctx, ref)
}

// Seal finalizes a scope whose selection is complete. The count check and
// the status change are one conditional update.
func (c *Controller) Seal(ctx context.Context, ref model.ScopeRef) (model.Seal, model.ScopeState, error) {
	var seal model.Seal
	var st model.ScopeState
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		st, err = tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		if !Allowed(st.Status, model.StatusFinalized) {
			return &model.TransitionError{Scope: ref, From: st.Status, To: model.StatusFinalized}
		}
		if !st.Complete() {
			return &model.IncompleteError{Scope: st}
		}
		now := tx.Now()
		version, ok, err := tx.SealScope(ctx, ref, now)
		if err != nil {
			return fmt.Errorf("seal %s: %w", ref, err)
		}
		if !ok {
			return &model.IncompleteError{Scope: st}
		}
		if ref.Kind == model.ScopeSection {
			if err := tx.ClearPaperArtifact(ctx, st.PaperID); err != nil {
				return err
			}
			if err := tx.MarkPaperReview(ctx, st.PaperID); err != nil {
				return err
			}
		}
		st.Status = model.StatusFinalized
		st.SealVersion = version
		st.FinalizedAt = &now
		seal = model.Seal{Scope: ref, PaperID: st.PaperID, Version: version, At: now}
		return nil
	})
	if err != nil {
		return model.Seal{}, st, err
	}
	slog.Info("scope sealed", "scope", ref, "paper_id", seal.PaperID, "seal_version", seal.Version)
	return seal, st, nil
}

// Compensate reverts a seal if the scope is still finalized under the same
// seal version. It retries transient failures with backoff and reports
// whether the revert was applied; false with a nil error means the seal was
// already superseded.
func (c *Controller) Compensate(ctx context.Context, seal model.Seal) (bool, error) {
	backoff := c.cfg.CompensationBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.CompensationAttempts; attempt++ {
		reverted, err := c.compensateOnce(ctx, seal)
		if err == nil {
			if reverted {
				metrics.Cascades.WithLabelValues("compensate").Inc()
				slog.Info("seal compensated", "scope", seal.Scope, "paper_id", seal.PaperID, "seal_version", seal.Version)
			} else {
				slog.Info("seal already superseded", "scope", seal.Scope, "seal_version", seal.Version)
			}
			return reverted, nil
		}
		lastErr = err
		slog.Warn("compensation attempt failed", "scope", seal.Scope, "attempt", attempt, "error", err)
		if attempt == c.cfg.CompensationAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, errors.Join(lastErr, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	metrics.CompensationFailures.Inc()
	slog.Error("compensation failed", "scope", seal.Scope, "seal_version", seal.Version, "error", lastErr)
	return false, lastErr
}

func (c *Controller) compensateOnce(ctx context.Context, seal model.Seal) (bool, error) {
	var reverted bool
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		st, err := tx.LockScope(ctx, seal.Scope)
		if err != nil {
			return err
		}
		if st.Status != model.StatusFinalized || st.SealVersion != seal.Version {
			return nil
		}
		if err := c.revert(ctx, tx, st, seal.Version); err != nil {
			return err
		}
		reverted = true
		return nil
	})
	return reverted, err
}

// Reopen explicitly unseals a finalized scope and clears the paper's
// artifact. A scope already in review is returned unchanged.
func (c *Controller) Reopen(ctx context.Context, ref model.ScopeRef) (model.ScopeState, bool, error) {
	var st model.ScopeState
	var reverted bool
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		st, err = tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		switch st.Status {
		case model.StatusInReview:
			return nil
		case model.StatusFinalized:
			if err := c.revert(ctx, tx, st, 0); err != nil {
				return err
			}
			st.Status = model.StatusInReview
			st.FinalizedAt = nil
			reverted = true
			return nil
		}
		return &model.TransitionError{Scope: ref, From: st.Status, To: model.StatusInReview}
	})
	if err == nil && reverted {
		metrics.Cascades.WithLabelValues("reopen").Inc()
		slog.Info("scope reopened", "scope", ref, "paper_id", st.PaperID)
	}
	return st, reverted, err
}

// CommitArtifact stores the artifact URL for the sealed paper. The commit is
// refused with ErrSealLost unless the sealing scope is still finalized under
// the same seal version and, for sectioned papers, every section is
// finalized.
func (c *Controller) CommitArtifact(ctx context.Context, seal model.Seal, url string) error {
	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		p, err := tx.LockPaper(ctx, seal.PaperID)
		if err != nil {
			return err
		}
		if !p.HasSections {
			if p.Status != model.PaperFinalized || p.SealVersion != seal.Version {
				return fmt.Errorf("%s version %d: %w", seal.Scope, seal.Version, model.ErrSealLost)
			}
		} else {
			sec, err := tx.GetSection(ctx, seal.Scope.ID)
			if err != nil {
				return err
			}
			if sec.Status != model.StatusFinalized || sec.SealVersion != seal.Version {
				return fmt.Errorf("%s version %d: %w", seal.Scope, seal.Version, model.ErrSealLost)
			}
			open, err := tx.UnfinalizedSections(ctx, p.ID)
			if err != nil {
				return err
			}
			if open > 0 {
				return fmt.Errorf("paper %d has %d open sections: %w", p.ID, open, model.ErrSealLost)
			}
		}
		if err := tx.SetPaperArtifact(ctx, p.ID, url, seal.At); err != nil {
			return fmt.Errorf("set artifact of paper %d: %w", p.ID, err)
		}
		slog.Info("artifact committed", "paper_id", p.ID, "scope", seal.Scope, "seal_version", seal.Version)
		return nil
	})
}

// PaperComplete reports whether every scope of the paper is finalized.
func (c *Controller) PaperComplete(ctx context.Context, paperID int64) (bool, error) {
	p, err := c.store.GetPaper(ctx, paperID)
	if err != nil {
		return false, err
	}
	if !p.HasSections {
		return p.Status == model.PaperFinalized, nil
	}
	open, err := c.store.UnfinalizedSections(ctx, paperID)
	if err != nil {
		return false, err
	}
	return open == 0, nil
}
