package selection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/store"
)

// ScopeView is one scope of the review page with its questions.
type ScopeView struct {
	model.ScopeState
	Questions []model.Question `json:"questions"`
}

// Review is the review page of a paper.
type Review struct {
	Paper  model.Paper `json:"paper"`
	Scopes []ScopeView `json:"scopes"`
}

// CreatePaper stores a paper with its sections and question pool.
// Sections that arrive with questions are ready; empty ones stay pending
// until generation completes.
func (m *Manager) CreatePaper(ctx context.Context, ownerID int64, in model.PaperImport) (model.Paper, error) {
	var p model.Paper
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		now := tx.Now()
		id, err := tx.CreatePaper(ctx, model.Paper{
			OwnerID:     ownerID,
			Title:       in.Title,
			TargetCount: in.TargetCount,
			HasSections: len(in.Sections) > 0,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("create paper: %w", err)
		}

		if len(in.Sections) == 0 {
			for i, qc := range in.Questions {
				if _, err := tx.InsertQuestion(ctx, model.Question{PaperID: id, QuestionOrder: i + 1, QuestionContent: qc, CreatedAt: now}); err != nil {
					return fmt.Errorf("insert question %d: %w", i+1, err)
				}
			}
		}
		for i, sec := range in.Sections {
			marks := sec.MarksPerQuestion
			if marks == 0 {
				marks = 1
			}
			sid, err := tx.CreateSection(ctx, model.Section{
				PaperID:          id,
				Name:             sec.Name,
				SectionOrder:     i + 1,
				QuestionCount:    sec.QuestionCount,
				MarksPerQuestion: marks,
			})
			if err != nil {
				return fmt.Errorf("create section %q: %w", sec.Name, err)
			}
			for j, qc := range sec.Questions {
				q := model.Question{PaperID: id, SectionID: &sid, QuestionOrder: j + 1, QuestionContent: qc, CreatedAt: now}
				if _, err := tx.InsertQuestion(ctx, q); err != nil {
					return fmt.Errorf("insert question %d of section %q: %w", j+1, sec.Name, err)
				}
			}
			if len(sec.Questions) > 0 {
				ref := model.ScopeRef{Kind: model.ScopeSection, ID: sid}
				if _, err := tx.SetScopeStatus(ctx, ref, []model.ScopeStatus{model.StatusPending}, model.StatusReady); err != nil {
					return err
				}
			}
		}
		p, err = tx.GetPaper(ctx, id)
		return err
	})
	if err != nil {
		return p, err
	}
	slog.Info("paper created", "paper_id", p.ID, "title", p.Title, "sections", len(in.Sections))
	return p, nil
}

// AddQuestions appends generated questions to a scope. It is the write side
// of the upstream generation collaborator and never changes selection.
func (m *Manager) AddQuestions(ctx context.Context, u *model.User, ref model.ScopeRef, contents []model.QuestionContent) ([]int64, error) {
	var ids []int64
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		st, err := tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		if _, err := authorize(ctx, tx, st.PaperID, u); err != nil {
			return err
		}
		order, err := tx.NextQuestionOrder(ctx, ref)
		if err != nil {
			return err
		}
		q := model.Question{PaperID: st.PaperID, CreatedAt: tx.Now()}
		if ref.Kind == model.ScopeSection {
			q.SectionID = &ref.ID
		}
		for i, qc := range contents {
			q.QuestionOrder = order + i
			q.QuestionContent = qc
			id, err := tx.InsertQuestion(ctx, q)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// Review returns a paper with every scope's counts and questions.
func (m *Manager) Review(ctx context.Context, u *model.User, paperID int64) (Review, error) {
	var r Review
	p, err := m.store.GetPaper(ctx, paperID)
	if err != nil {
		return r, err
	}
	if !p.EditableBy(u) {
		return r, fmt.Errorf("paper %d: %w", paperID, model.ErrUnauthorized)
	}
	r.Paper = p
	scopes, err := m.store.ListScopes(ctx, p)
	if err != nil {
		return r, err
	}
	for _, st := range scopes {
		qs, err := m.store.ListQuestions(ctx, st.Ref)
		if err != nil {
			return r, err
		}
		r.Scopes = append(r.Scopes, ScopeView{ScopeState: st, Questions: qs})
	}
	return r, nil
}

// ScopePaper returns the paper a scope belongs to after checking that u may
// act on it.
func (m *Manager) ScopePaper(ctx context.Context, u *model.User, ref model.ScopeRef) (model.Paper, error) {
	st, err := m.store.GetScope(ctx, ref)
	if err != nil {
		return model.Paper{}, err
	}
	p, err := m.store.GetPaper(ctx, st.PaperID)
	if err != nil {
		return p, err
	}
	if !p.EditableBy(u) {
		return p, fmt.Errorf("%s: %w", ref, model.ErrUnauthorized)
	}
	return p, nil
}
