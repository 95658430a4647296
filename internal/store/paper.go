package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/paperseal/internal/model"
)

const paperColumns = `id, owner_id, title, target_count, selected_count, status, artifact_url,
	has_sections, seal_version, finalized_at, created_at`

const sectionColumns = `id, paper_id, name, section_order, question_count, marks_per_question,
	selected_count, status, seal_version, finalized_at`

const questionColumns = `id, paper_id, section_id, question_order, is_selected, text, options,
	answer, chapter, difficulty, archetype, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPaper(row scanner) (model.Paper, error) {
	var p model.Paper
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.TargetCount, &p.SelectedCount, &p.Status,
		&p.ArtifactURL, &p.HasSections, &p.SealVersion, &p.FinalizedAt, &p.CreatedAt)
	return p, err
}

func scanSection(row scanner) (model.Section, error) {
	var s model.Section
	err := row.Scan(&s.ID, &s.PaperID, &s.Name, &s.SectionOrder, &s.QuestionCount, &s.MarksPerQuestion,
		&s.SelectedCount, &s.Status, &s.SealVersion, &s.FinalizedAt)
	return s, err
}

func scanQuestion(row scanner) (model.Question, error) {
	var q model.Question
	var options string
	err := row.Scan(&q.ID, &q.PaperID, &q.SectionID, &q.QuestionOrder, &q.IsSelected, &q.Text, &options,
		&q.Answer, &q.Chapter, &q.Difficulty, &q.Archetype, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return q, err
	}
	if options != "" {
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return q, fmt.Errorf("decode options of question %d: %w", q.ID, err)
		}
	}
	return q, nil
}

func encodeOptions(opts []string) (string, error) {
	if opts == nil {
		opts = []string{}
	}
	b, err := json.Marshal(opts)
	return string(b), err
}

// CreatePaper inserts a paper in draft status.
func (c conn) CreatePaper(ctx context.Context, p model.Paper) (int64, error) {
	var id int64
	err := c.queryRow(ctx,
		`INSERT INTO papers (owner_id, title, target_count, status, has_sections, created_at)
		 VALUES (?, ?, ?, 'draft', ?, ?) RETURNING id`,
		p.OwnerID, p.Title, p.TargetCount, p.HasSections, p.CreatedAt,
	).Scan(&id)
	return id, err
}

// GetPaper returns a paper by ID.
func (c conn) GetPaper(ctx context.Context, id int64) (model.Paper, error) {
	p, err := scanPaper(c.queryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = ?`, id))
	return p, notFound(err, "paper", id)
}

// ListPapers returns papers owned by ownerID, or all papers when ownerID is 0.
func (c conn) ListPapers(ctx context.Context, ownerID int64) ([]model.Paper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers`
	var args []any
	if ownerID != 0 {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	rows, err := c.query(ctx, query+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var papers []model.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// CreateSection inserts a section in pending status.
func (c conn) CreateSection(ctx context.Context, s model.Section) (int64, error) {
	var id int64
	err := c.queryRow(ctx,
		`INSERT INTO sections (paper_id, name, section_order, question_count, marks_per_question, status)
		 VALUES (?, ?, ?, ?, ?, 'pending') RETURNING id`,
		s.PaperID, s.Name, s.SectionOrder, s.QuestionCount, s.MarksPerQuestion,
	).Scan(&id)
	return id, err
}

// GetSection returns a section by ID.
func (c conn) GetSection(ctx context.Context, id int64) (model.Section, error) {
	s, err := scanSection(c.queryRow(ctx, `SELECT `+sectionColumns+` FROM sections WHERE id = ?`, id))
	return s, notFound(err, "section", id)
}

// ListSections returns a paper's sections in section order.
func (c conn) ListSections(ctx context.Context, paperID int64) ([]model.Section, error) {
	rows, err := c.query(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE paper_id = ? ORDER BY section_order, id`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []model.Section
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// InsertQuestion stores a generated question, unselected.
func (c conn) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	options, err := encodeOptions(q.Options)
	if err != nil {
		return 0, err
	}
	var id int64
	err = c.queryRow(ctx,
		`INSERT INTO questions (paper_id, section_id, question_order, is_selected, text, options, answer,
		 chapter, difficulty, archetype, created_at, updated_at)
		 VALUES (?, ?, ?, FALSE, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		q.PaperID, q.SectionID, q.QuestionOrder, q.Text, options, q.Answer,
		q.Chapter, q.Difficulty, q.Archetype, q.CreatedAt, q.CreatedAt,
	).Scan(&id)
	return id, err
}

// NextQuestionOrder returns the order value for a question appended to ref.
func (c conn) NextQuestionOrder(ctx context.Context, ref model.ScopeRef) (int, error) {
	where, arg := scopeQuestionFilter(ref)
	var maxOrder sql.NullInt64
	err := c.queryRow(ctx, `SELECT MAX(question_order) FROM questions WHERE `+where, arg).Scan(&maxOrder)
	if err != nil {
		return 0, err
	}
	return int(maxOrder.Int64) + 1, nil
}

// GetQuestion returns a question by ID.
func (c conn) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(c.queryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	return q, notFound(err, "question", id)
}

// ListQuestions returns every question of a scope in question order.
func (c conn) ListQuestions(ctx context.Context, ref model.ScopeRef) ([]model.Question, error) {
	return c.ListQuestionsFiltered(ctx, ref, model.QuestionFilter{})
}

// ListQuestionsFiltered returns the questions of a scope matching the filter.
// Empty filter fields mean no filtering on that field.
func (c conn) ListQuestionsFiltered(ctx context.Context, ref model.ScopeRef, f model.QuestionFilter) ([]model.Question, error) {
	where, arg := scopeQuestionFilter(ref)
	query := `SELECT ` + questionColumns + ` FROM questions WHERE ` + where
	args := []any{arg}
	if f.Chapter != "" {
		query += ` AND LOWER(chapter) = ?`
		args = append(args, strings.ToLower(f.Chapter))
	}
	if f.Difficulty != "" {
		query += ` AND LOWER(difficulty) = ?`
		args = append(args, strings.ToLower(f.Difficulty))
	}
	if f.Archetype != "" {
		query += ` AND LOWER(archetype) = ?`
		args = append(args, strings.ToLower(f.Archetype))
	}
	rows, err := c.query(ctx, query+` ORDER BY question_order, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// SelectedQuestions returns the selected questions of a scope in question order.
func (c conn) SelectedQuestions(ctx context.Context, ref model.ScopeRef) ([]model.Question, error) {
	where, arg := scopeQuestionFilter(ref)
	rows, err := c.query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE `+where+` AND is_selected = TRUE
		 ORDER BY question_order, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UpdateQuestionContent replaces the opaque content fields of a question.
func (c conn) UpdateQuestionContent(ctx context.Context, id int64, qc model.QuestionContent, at time.Time) error {
	options, err := encodeOptions(qc.Options)
	if err != nil {
		return err
	}
	ok, err := c.execAffected(ctx,
		`UPDATE questions SET text = ?, options = ?, answer = ?, chapter = ?, difficulty = ?, archetype = ?,
		 updated_at = ? WHERE id = ?`,
		qc.Text, options, qc.Answer, qc.Chapter, qc.Difficulty, qc.Archetype, at, id,
	)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("question %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// QuestionCount returns the number of questions of a paper.
func (c conn) QuestionCount(ctx context.Context, paperID int64) (int, error) {
	var count int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM questions WHERE paper_id = ?`, paperID).Scan(&count)
	return count, err
}

func scopeQuestionFilter(ref model.ScopeRef) (string, int64) {
	if ref.Kind == model.ScopeSection {
		return `section_id = ?`, ref.ID
	}
	return `paper_id = ? AND section_id IS NULL`, ref.ID
}
