package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/paperseal/internal/model"
)

// PaperDocument collects the selected questions of every scope of a paper
// for artifact generation.
func (c conn) PaperDocument(ctx context.Context, p model.Paper) (model.PaperDocument, error) {
	doc := model.PaperDocument{Paper: p}
	if !p.HasSections {
		qs, err := c.SelectedQuestions(ctx, model.ScopeRef{Kind: model.ScopePaper, ID: p.ID})
		if err != nil {
			return doc, fmt.Errorf("selected questions of paper %d: %w", p.ID, err)
		}
		doc.Sections = []model.DocumentSection{{Questions: qs}}
		return doc, nil
	}
	sections, err := c.ListSections(ctx, p.ID)
	if err != nil {
		return doc, fmt.Errorf("list sections of paper %d: %w", p.ID, err)
	}
	for _, s := range sections {
		qs, err := c.SelectedQuestions(ctx, model.ScopeRef{Kind: model.ScopeSection, ID: s.ID})
		if err != nil {
			return doc, fmt.Errorf("selected questions of section %d: %w", s.ID, err)
		}
		doc.Sections = append(doc.Sections, model.DocumentSection{
			Name:             s.Name,
			MarksPerQuestion: s.MarksPerQuestion,
			Questions:        qs,
		})
	}
	return doc, nil
}

// ExportPaper builds the export-ready view of a paper and its selection.
func (s *Store) ExportPaper(ctx context.Context, paperID int64) (model.PaperExport, error) {
	p, err := s.GetPaper(ctx, paperID)
	if err != nil {
		return model.PaperExport{}, err
	}
	scopes, err := s.ListScopes(ctx, p)
	if err != nil {
		return model.PaperExport{}, fmt.Errorf("list scopes: %w", err)
	}

	marks := make(map[int64]int)
	if p.HasSections {
		sections, err := s.ListSections(ctx, p.ID)
		if err != nil {
			return model.PaperExport{}, fmt.Errorf("list sections: %w", err)
		}
		for _, sec := range sections {
			marks[sec.ID] = sec.MarksPerQuestion
		}
	}

	out := model.PaperExport{
		PaperID:     p.ID,
		Title:       p.Title,
		Status:      p.Status,
		FinalizedAt: p.FinalizedAt,
		ExportedAt:  s.now(),
	}
	if p.ArtifactURL != nil {
		out.ArtifactURL = *p.ArtifactURL
	}
	for _, st := range scopes {
		qs, err := s.SelectedQuestions(ctx, st.Ref)
		if err != nil {
			return model.PaperExport{}, fmt.Errorf("selected questions of %s: %w", st.Ref, err)
		}
		se := model.ScopeExport{
			Name:     st.Name,
			Status:   st.Status,
			Target:   st.Target,
			Selected: st.Selected,
		}
		for _, q := range qs {
			se.Questions = append(se.Questions, model.QuestionExport{
				Order:      q.QuestionOrder,
				Text:       q.Text,
				Options:    q.Options,
				Answer:     q.Answer,
				Chapter:    q.Chapter,
				Difficulty: q.Difficulty,
				Marks:      marks[st.Ref.ID],
			})
		}
		out.Scopes = append(out.Scopes, se)
	}
	return out, nil
}
