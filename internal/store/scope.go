package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/paperseal/internal/model"
)

// scopeTable describes where a scope kind keeps its counter row.
type scopeTable struct {
	table  string
	target string
	where  string // extra predicate on the counter row
	name   string
}

func tableFor(ref model.ScopeRef) scopeTable {
	if ref.Kind == model.ScopeSection {
		return scopeTable{table: "sections", target: "question_count", where: "", name: "name"}
	}
	return scopeTable{table: "papers", target: "target_count", where: " AND has_sections = FALSE", name: "title"}
}

// statusValue converts a scope status to the column vocabulary of ref's table.
func statusValue(ref model.ScopeRef, s model.ScopeStatus) string {
	if ref.Kind == model.ScopePaper {
		return string(model.PaperStatusFor(s))
	}
	return string(s)
}

func (c conn) scanScope(ref model.ScopeRef, row scanner) (model.ScopeState, error) {
	st := model.ScopeState{Ref: ref}
	var status string
	err := row.Scan(&st.PaperID, &st.Name, &st.Target, &st.Selected, &status, &st.SealVersion, &st.FinalizedAt)
	if err != nil {
		return st, err
	}
	if ref.Kind == model.ScopePaper {
		st.Status = model.PaperStatus(status).ScopeStatus()
	} else {
		st.Status = model.ScopeStatus(status)
	}
	return st, nil
}

func (c conn) scopeColumns(ref model.ScopeRef) string {
	t := tableFor(ref)
	paperCol := "paper_id"
	if ref.Kind == model.ScopePaper {
		paperCol = "id"
	}
	return paperCol + ", " + t.name + ", " + t.target + ", selected_count, status, seal_version, finalized_at"
}

// scopeMissing distinguishes a missing scope from a paper that has sections.
func (c conn) scopeMissing(ctx context.Context, ref model.ScopeRef, err error) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if ref.Kind == model.ScopePaper {
		if p, perr := c.GetPaper(ctx, ref.ID); perr == nil && p.HasSections {
			return fmt.Errorf("%s: %w", ref, model.ErrNotSectioned)
		}
	}
	return fmt.Errorf("%s: %w", ref, model.ErrNotFound)
}

// GetScope reads a scope's counter row without locking it.
func (c conn) GetScope(ctx context.Context, ref model.ScopeRef) (model.ScopeState, error) {
	t := tableFor(ref)
	st, err := c.scanScope(ref, c.queryRow(ctx,
		`SELECT `+c.scopeColumns(ref)+` FROM `+t.table+` WHERE id = ?`+t.where, ref.ID))
	if err != nil {
		return st, c.scopeMissing(ctx, ref, err)
	}
	return st, nil
}

// LockScope takes a scope's counter row write lock for the rest of the
// transaction and returns the row. Every mutator locks the scope before
// touching questions.
func (c conn) LockScope(ctx context.Context, ref model.ScopeRef) (model.ScopeState, error) {
	t := tableFor(ref)
	ok, err := c.execAffected(ctx,
		`UPDATE `+t.table+` SET selected_count = selected_count WHERE id = ?`+t.where, ref.ID)
	if err != nil {
		return model.ScopeState{Ref: ref}, err
	}
	if !ok {
		return model.ScopeState{Ref: ref}, c.scopeMissing(ctx, ref, sql.ErrNoRows)
	}
	return c.GetScope(ctx, ref)
}

// IncrementSelected adds n to the scope counter only if the result stays
// within the target. It reports false when the target would be exceeded.
func (c conn) IncrementSelected(ctx context.Context, ref model.ScopeRef, n int) (bool, error) {
	t := tableFor(ref)
	return c.execAffected(ctx,
		`UPDATE `+t.table+` SET selected_count = selected_count + ?
		 WHERE id = ?`+t.where+` AND selected_count + ? <= `+t.target, n, ref.ID, n)
}

// DecrementSelected subtracts n from the scope counter only if it stays non-negative.
func (c conn) DecrementSelected(ctx context.Context, ref model.ScopeRef, n int) (bool, error) {
	t := tableFor(ref)
	return c.execAffected(ctx,
		`UPDATE `+t.table+` SET selected_count = selected_count - ?
		 WHERE id = ?`+t.where+` AND selected_count >= ?`, n, ref.ID, n)
}

// SetQuestionSelected flips a question's flag if it differs from selected.
// It reports whether the flag changed.
func (c conn) SetQuestionSelected(ctx context.Context, questionID int64, selected bool, at time.Time) (bool, error) {
	return c.execAffected(ctx,
		`UPDATE questions SET is_selected = ?, updated_at = ? WHERE id = ? AND is_selected = ?`,
		selected, at, questionID, !selected)
}

// RecountSelected counts the selected flags of a scope.
func (c conn) RecountSelected(ctx context.Context, ref model.ScopeRef) (int, error) {
	where, arg := scopeQuestionFilter(ref)
	var n int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM questions WHERE `+where+` AND is_selected = TRUE`, arg).Scan(&n)
	return n, err
}

// SetScopeStatus moves a scope to status to if its current status is one of from.
func (c conn) SetScopeStatus(ctx context.Context, ref model.ScopeRef, from []model.ScopeStatus, to model.ScopeStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	t := tableFor(ref)
	args := []any{statusValue(ref, to), ref.ID}
	in := ""
	for i, f := range from {
		if i > 0 {
			in += ", "
		}
		in += "?"
		args = append(args, statusValue(ref, f))
	}
	return c.execAffected(ctx,
		`UPDATE `+t.table+` SET status = ? WHERE id = ?`+t.where+` AND status IN (`+in+`)`, args...)
}

// SealScope finalizes a scope if it is ready or in review and its selection
// is complete. It returns the new seal version; ok is false when the
// conditions did not hold.
func (c conn) SealScope(ctx context.Context, ref model.ScopeRef, at time.Time) (version int64, ok bool, err error) {
	t := tableFor(ref)
	extra := ""
	if ref.Kind == model.ScopePaper {
		extra = ", artifact_url = NULL"
	}
	err = c.queryRow(ctx,
		`UPDATE `+t.table+` SET status = ?, finalized_at = ?, seal_version = seal_version + 1`+extra+`
		 WHERE id = ?`+t.where+` AND status IN (?, ?) AND selected_count = `+t.target+`
		 RETURNING seal_version`,
		statusValue(ref, model.StatusFinalized), at, ref.ID,
		statusValue(ref, model.StatusReady), statusValue(ref, model.StatusInReview),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, true, nil
}

// UnsealScope reverts a finalized scope to in review. When version is
// non-zero the revert only applies to that seal.
func (c conn) UnsealScope(ctx context.Context, ref model.ScopeRef, version int64) (bool, error) {
	t := tableFor(ref)
	extra := ""
	if ref.Kind == model.ScopePaper {
		extra = ", artifact_url = NULL"
	}
	query := `UPDATE ` + t.table + ` SET status = ?, finalized_at = NULL` + extra + `
		 WHERE id = ?` + t.where + ` AND status = ?`
	args := []any{statusValue(ref, model.StatusInReview), ref.ID, statusValue(ref, model.StatusFinalized)}
	if version != 0 {
		query += ` AND seal_version = ?`
		args = append(args, version)
	}
	return c.execAffected(ctx, query, args...)
}

// LockPaper takes the paper row's write lock and returns the paper.
func (c conn) LockPaper(ctx context.Context, paperID int64) (model.Paper, error) {
	ok, err := c.execAffected(ctx, `UPDATE papers SET seal_version = seal_version WHERE id = ?`, paperID)
	if err != nil {
		return model.Paper{}, err
	}
	if !ok {
		return model.Paper{}, fmt.Errorf("paper %d: %w", paperID, model.ErrNotFound)
	}
	return c.GetPaper(ctx, paperID)
}

// ClearPaperArtifact drops a paper's artifact reference and its finalized flag.
func (c conn) ClearPaperArtifact(ctx context.Context, paperID int64) error {
	_, err := c.exec(ctx,
		`UPDATE papers SET artifact_url = NULL, finalized_at = NULL,
		 status = CASE WHEN status = 'finalized' THEN 'review' ELSE status END
		 WHERE id = ?`, paperID)
	return err
}

// MarkPaperReview moves a draft paper to review.
func (c conn) MarkPaperReview(ctx context.Context, paperID int64) error {
	_, err := c.exec(ctx, `UPDATE papers SET status = 'review' WHERE id = ? AND status = 'draft'`, paperID)
	return err
}

// SetPaperArtifact stores the artifact URL and marks the paper finalized.
func (c conn) SetPaperArtifact(ctx context.Context, paperID int64, url string, at time.Time) error {
	_, err := c.exec(ctx,
		`UPDATE papers SET artifact_url = ?, status = 'finalized',
		 finalized_at = COALESCE(finalized_at, ?) WHERE id = ?`, url, at, paperID)
	return err
}

// UnfinalizedSections counts the sections of a paper that are not finalized.
func (c conn) UnfinalizedSections(ctx context.Context, paperID int64) (int, error) {
	var n int
	err := c.queryRow(ctx,
		`SELECT COUNT(*) FROM sections WHERE paper_id = ? AND status <> 'finalized'`, paperID).Scan(&n)
	return n, err
}

// ListScopes returns the scope rows of a paper: its sections, or the paper
// itself when it has none.
func (c conn) ListScopes(ctx context.Context, p model.Paper) ([]model.ScopeState, error) {
	if !p.HasSections {
		st, err := c.GetScope(ctx, model.ScopeRef{Kind: model.ScopePaper, ID: p.ID})
		if err != nil {
			return nil, err
		}
		return []model.ScopeState{st}, nil
	}
	sections, err := c.ListSections(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	scopes := make([]model.ScopeState, 0, len(sections))
	for _, s := range sections {
		scopes = append(scopes, SectionScope(s))
	}
	return scopes, nil
}

// SectionScope converts a section row to its scope state.
func SectionScope(s model.Section) model.ScopeState {
	return model.ScopeState{
		Ref:         model.ScopeRef{Kind: model.ScopeSection, ID: s.ID},
		PaperID:     s.PaperID,
		Name:        s.Name,
		Target:      s.QuestionCount,
		Selected:    s.SelectedCount,
		Status:      s.Status,
		SealVersion: s.SealVersion,
		FinalizedAt: s.FinalizedAt,
	}
}

// ListUnbackedSeals returns finalized scopes whose paper has no artifact.
// Sectioned papers contribute their sealed sections; callers decide which
// papers are complete.
func (c conn) ListUnbackedSeals(ctx context.Context) ([]model.ScopeState, error) {
	var out []model.ScopeState

	rows, err := c.query(ctx,
		`SELECT id FROM papers WHERE has_sections = FALSE AND status = 'finalized' AND artifact_url IS NULL
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var paperIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		paperIDs = append(paperIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range paperIDs {
		st, err := c.GetScope(ctx, model.ScopeRef{Kind: model.ScopePaper, ID: id})
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}

	srows, err := c.query(ctx,
		`SELECT `+prefixed("s.", sectionColumns)+` FROM sections s JOIN papers p ON p.id = s.paper_id
		 WHERE p.has_sections = TRUE AND p.artifact_url IS NULL AND s.status = 'finalized'
		 ORDER BY s.paper_id, s.section_order, s.id`)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		s, err := scanSection(srows)
		if err != nil {
			return nil, err
		}
		out = append(out, SectionScope(s))
	}
	return out, srows.Err()
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
