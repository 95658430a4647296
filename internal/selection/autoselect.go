package selection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pavelanni/paperseal/internal/metrics"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/store"
)

// AutoSelect fills the remaining capacity of a scope with questions chosen
// uniformly at random from the unselected part of the candidate pool.
// An empty candidateIDs means every question of the scope; ids outside the
// scope are ignored. The filter narrows the pool further. When the pool is
// smaller than the remaining capacity the result reports exhausted and the
// pool is not widened.
func (m *Manager) AutoSelect(ctx context.Context, u *model.User, ref model.ScopeRef, candidateIDs []int64, filter model.QuestionFilter) (model.AutoSelectResult, error) {
	var res model.AutoSelectResult
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		st, err := tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		res.Scope = st
		if _, err := authorize(ctx, tx, st.PaperID, u); err != nil {
			return err
		}
		if st.Status == model.StatusPending {
			return &model.TransitionError{Scope: ref, From: st.Status, To: model.StatusInReview}
		}
		remaining := st.Remaining()
		if remaining <= 0 {
			return nil
		}

		questions, err := tx.ListQuestionsFiltered(ctx, ref, filter)
		if err != nil {
			return fmt.Errorf("candidate pool of %s: %w", ref, err)
		}
		pool := candidatePool(questions, candidateIDs, filter)
		m.shuffle(pool)
		k := min(remaining, len(pool))
		res.Exhausted = k < remaining
		if k == 0 {
			return nil
		}

		chosen := pool[:k]
		now := tx.Now()
		for _, id := range chosen {
			changed, err := tx.SetQuestionSelected(ctx, id, true, now)
			if err != nil {
				return fmt.Errorf("select question %d: %w", id, err)
			}
			if !changed {
				return violation(st, st.Selected)
			}
		}
		ok, err := tx.IncrementSelected(ctx, ref, k)
		if err != nil {
			return err
		}
		if !ok {
			return &model.CapacityError{Scope: st, Selected: st.Selected, Target: st.Target}
		}

		res.StatusReverted, err = m.lc.OnScopeMutated(ctx, tx, st, "autoselect")
		if err != nil {
			return err
		}
		if res.Scope, err = verify(ctx, tx, ref); err != nil {
			return err
		}
		res.SelectedIDs = slices.Clone(chosen)
		slices.Sort(res.SelectedIDs)
		res.Filled = k
		return nil
	})
	if err != nil {
		return model.AutoSelectResult{Scope: res.Scope}, err
	}
	metrics.AutoSelectFilled.Observe(float64(res.Filled))
	slog.Info("auto-select", "scope", ref, "filled", res.Filled, "exhausted", res.Exhausted,
		"selected", res.Scope.Selected, "target", res.Scope.Target)
	return res, nil
}

// candidatePool returns the ids of unselected questions that pass the
// filter and, when candidateIDs is non-empty, appear in it.
func candidatePool(questions []model.Question, candidateIDs []int64, filter model.QuestionFilter) []int64 {
	var allowed map[int64]bool
	if len(candidateIDs) > 0 {
		allowed = make(map[int64]bool, len(candidateIDs))
		for _, id := range candidateIDs {
			allowed[id] = true
		}
	}
	var pool []int64
	for _, q := range questions {
		if q.IsSelected || !filter.Match(q) {
			continue
		}
		if allowed != nil && !allowed[q.ID] {
			continue
		}
		pool = append(pool, q.ID)
	}
	return pool
}

func (m *Manager) shuffle(ids []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}
