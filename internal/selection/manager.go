// Package selection implements selection toggles, content edits and the
// auto-select allocator on top of the counter store.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/pavelanni/paperseal/internal/lifecycle"
	"github.com/pavelanni/paperseal/internal/metrics"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/store"
)

// Manager applies selection changes. Every change runs in one transaction
// that locks the scope row first, applies the conditional counter update and
// calls the lifecycle hook before commit.
type Manager struct {
	store *store.Store
	lc    *lifecycle.Controller

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Manager.
type Option func(*Manager)

// WithRandSource sets the random source used by AutoSelect.
func WithRandSource(src rand.Source) Option {
	return func(m *Manager) { m.rng = rand.New(src) }
}

// NewManager creates a Manager.
func NewManager(s *store.Store, lc *lifecycle.Controller, opts ...Option) *Manager {
	m := &Manager{
		store: s,
		lc:    lc,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func authorize(ctx context.Context, tx *store.Tx, paperID int64, u *model.User) (model.Paper, error) {
	p, err := tx.GetPaper(ctx, paperID)
	if err != nil {
		return p, err
	}
	if !p.EditableBy(u) {
		return p, fmt.Errorf("paper %d: %w", paperID, model.ErrUnauthorized)
	}
	return p, nil
}

// Toggle sets a question's selected flag to desired. Selecting is refused
// with a CapacityError when the scope is full at commit time; deselecting is
// always allowed. Setting the current value is a no-op.
func (m *Manager) Toggle(ctx context.Context, u *model.User, questionID int64, desired bool) (model.ToggleResult, error) {
	res := model.ToggleResult{QuestionID: questionID, Selected: desired}
	outcome := "noop"
	kind := "unknown"
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		q, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		if _, err := authorize(ctx, tx, q.PaperID, u); err != nil {
			return err
		}
		ref := q.Scope()
		kind = string(ref.Kind)
		st, err := tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		res.Scope = st
		if desired && st.Status == model.StatusPending {
			return &model.TransitionError{Scope: ref, From: st.Status, To: model.StatusInReview}
		}

		changed, err := tx.SetQuestionSelected(ctx, questionID, desired, tx.Now())
		if err != nil {
			return fmt.Errorf("set question %d: %w", questionID, err)
		}
		if !changed {
			return nil
		}
		if desired {
			ok, err := tx.IncrementSelected(ctx, ref, 1)
			if err != nil {
				return err
			}
			if !ok {
				outcome = "capacity_exceeded"
				return &model.CapacityError{Scope: st, Selected: st.Selected, Target: st.Target}
			}
			outcome = "selected"
		} else {
			ok, err := tx.DecrementSelected(ctx, ref, 1)
			if err != nil {
				return err
			}
			if !ok {
				n, _ := tx.RecountSelected(ctx, ref)
				return violation(st, n)
			}
			outcome = "deselected"
		}

		res.StatusReverted, err = m.lc.OnScopeMutated(ctx, tx, st, "toggle")
		if err != nil {
			return err
		}
		res.Scope, err = verify(ctx, tx, ref)
		return err
	})
	metrics.SelectionToggles.WithLabelValues(kind, outcome).Inc()
	if err != nil {
		return res, err
	}
	slog.Debug("selection toggled", "question_id", questionID, "selected", desired,
		"scope", res.Scope.Ref, "count", res.Scope.Selected, "target", res.Scope.Target)
	return res, nil
}

// EditContent replaces a question's content as a whole; fields left empty
// are cleared. An edit that changes content inside a finalized scope
// reverts it to in_review and clears the paper's artifact. Submitting the
// current content is a no-op.
func (m *Manager) EditContent(ctx context.Context, u *model.User, questionID int64, content model.QuestionContent) (model.EditResult, error) {
	var res model.EditResult
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		q, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		if _, err := authorize(ctx, tx, q.PaperID, u); err != nil {
			return err
		}
		ref := q.Scope()
		st, err := tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		if sameContent(q.QuestionContent, content) {
			res.Question = q
			res.Scope = st
			return nil
		}
		if err := tx.UpdateQuestionContent(ctx, questionID, content, tx.Now()); err != nil {
			return err
		}
		res.StatusReverted, err = m.lc.OnScopeMutated(ctx, tx, st, "edit")
		if err != nil {
			return err
		}
		if res.Scope, err = verify(ctx, tx, ref); err != nil {
			return err
		}
		res.Question, err = tx.GetQuestion(ctx, questionID)
		return err
	})
	if err != nil {
		return res, err
	}
	slog.Debug("question edited", "question_id", questionID, "scope", res.Scope.Ref, "reverted", res.StatusReverted)
	return res, nil
}

func sameContent(a, b model.QuestionContent) bool {
	return a.Text == b.Text && a.Answer == b.Answer && a.Chapter == b.Chapter &&
		a.Difficulty == b.Difficulty && a.Archetype == b.Archetype && slices.Equal(a.Options, b.Options)
}

// verify recounts the scope's flags and compares them with the counter.
// A disagreement aborts the transaction; it is never repaired here.
func verify(ctx context.Context, tx *store.Tx, ref model.ScopeRef) (model.ScopeState, error) {
	st, err := tx.GetScope(ctx, ref)
	if err != nil {
		return st, err
	}
	n, err := tx.RecountSelected(ctx, ref)
	if err != nil {
		return st, fmt.Errorf("recount %s: %w", ref, err)
	}
	if n != st.Selected || st.Selected > st.Target {
		return st, violation(st, n)
	}
	return st, nil
}

func violation(st model.ScopeState, recount int) error {
	err := &model.InvariantError{Scope: st.Ref, Counter: st.Selected, Recount: recount, Target: st.Target}
	metrics.InvariantViolations.Inc()
	slog.Error("selection invariant violated", "scope", st.Ref, "paper_id", st.PaperID,
		"selected", st.Selected, "recount", recount, "target", st.Target)
	return err
}
