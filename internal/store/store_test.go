package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/paperseal/internal/model"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DriverSQLite, filepath.Join(t.TempDir(), "paperseal.db"))
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	s.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), model.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: "x",
		Role:         model.UserRoleTeacher,
		Active:       true,
		CreatedAt:    testNow,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

// createTestPaper makes a paper without sections holding n unselected questions.
func createTestPaper(t *testing.T, s *Store, target, n int) (model.Paper, []int64) {
	t.Helper()
	ctx := context.Background()
	owner := createTestUser(t, s, "owner")
	id, err := s.CreatePaper(ctx, model.Paper{OwnerID: owner, Title: "Algebra", TargetCount: target, CreatedAt: testNow})
	if err != nil {
		t.Fatalf("CreatePaper: %v", err)
	}
	var qids []int64
	for i := 0; i < n; i++ {
		qid, err := s.InsertQuestion(ctx, model.Question{
			PaperID:         id,
			QuestionOrder:   i + 1,
			QuestionContent: model.QuestionContent{Text: "q", Options: []string{"a", "b"}, Chapter: "ch1"},
			CreatedAt:       testNow,
		})
		if err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
		qids = append(qids, qid)
	}
	p, err := s.GetPaper(ctx, id)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	return p, qids
}

func TestPaperAndQuestions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, qids := createTestPaper(t, s, 2, 3)

	if p.Status != model.PaperDraft {
		t.Errorf("expected draft, got %q", p.Status)
	}
	if p.ArtifactURL != nil {
		t.Errorf("expected no artifact, got %q", *p.ArtifactURL)
	}

	q, err := s.GetQuestion(ctx, qids[0])
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if len(q.Options) != 2 || q.Options[1] != "b" {
		t.Errorf("options not round-tripped: %v", q.Options)
	}
	if q.Scope() != (model.ScopeRef{Kind: model.ScopePaper, ID: p.ID}) {
		t.Errorf("unexpected scope %s", q.Scope())
	}

	_, err = s.GetQuestion(ctx, 9999)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	next, err := s.NextQuestionOrder(ctx, q.Scope())
	if err != nil {
		t.Fatalf("NextQuestionOrder: %v", err)
	}
	if next != 4 {
		t.Errorf("expected next order 4, got %d", next)
	}

	edited := q.QuestionContent
	edited.Text = "edited"
	if err := s.UpdateQuestionContent(ctx, q.ID, edited, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateQuestionContent: %v", err)
	}
	q, _ = s.GetQuestion(ctx, q.ID)
	if q.Text != "edited" {
		t.Errorf("expected edited text, got %q", q.Text)
	}
	if err := s.UpdateQuestionContent(ctx, 9999, edited, testNow); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	count, err := s.QuestionCount(ctx, p.ID)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 questions, got %d", count)
	}
}

func TestListQuestionsFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _ := createTestPaper(t, s, 1, 0)
	ref := model.ScopeRef{Kind: model.ScopePaper, ID: p.ID}

	for i, c := range []model.QuestionContent{
		{Text: "a", Chapter: "Limits", Difficulty: "easy"},
		{Text: "b", Chapter: "limits", Difficulty: "hard"},
		{Text: "c", Chapter: "Series", Difficulty: "easy"},
	} {
		if _, err := s.InsertQuestion(ctx, model.Question{PaperID: p.ID, QuestionOrder: i, QuestionContent: c, CreatedAt: testNow}); err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter model.QuestionFilter
		want   int
	}{
		{"no filter", model.QuestionFilter{}, 3},
		{"chapter case-insensitive", model.QuestionFilter{Chapter: "LIMITS"}, 2},
		{"chapter and difficulty", model.QuestionFilter{Chapter: "limits", Difficulty: "easy"}, 1},
		{"no match", model.QuestionFilter{Archetype: "proof"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.ListQuestionsFiltered(ctx, ref, tt.filter)
			if err != nil {
				t.Fatalf("ListQuestionsFiltered: %v", err)
			}
			if len(qs) != tt.want {
				t.Errorf("expected %d questions, got %d", tt.want, len(qs))
			}
			for _, q := range qs {
				if !tt.filter.Match(q) {
					t.Errorf("question %d does not match filter", q.ID)
				}
			}
		})
	}
}

func TestIncrementSelectedBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _ := createTestPaper(t, s, 2, 3)
	ref := model.ScopeRef{Kind: model.ScopePaper, ID: p.ID}

	tests := []struct {
		name string
		n    int
		want bool
	}{
		{"first", 1, true},
		{"second", 1, true},
		{"over target", 1, false},
	}
	for _, tt := range tests {
		ok, err := s.IncrementSelected(ctx, ref, tt.n)
		if err != nil {
			t.Fatalf("%s: IncrementSelected: %v", tt.name, err)
		}
		if ok != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, ok)
		}
	}

	st, err := s.GetScope(ctx, ref)
	if err != nil {
		t.Fatalf("GetScope: %v", err)
	}
	if st.Selected != 2 || st.Target != 2 {
		t.Errorf("expected 2/2, got %d/%d", st.Selected, st.Target)
	}

	ok, err := s.DecrementSelected(ctx, ref, 3)
	if err != nil {
		t.Fatalf("DecrementSelected: %v", err)
	}
	if ok {
		t.Error("expected decrement below zero to be refused")
	}
}

func TestSetQuestionSelectedCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, qids := createTestPaper(t, s, 2, 1)

	changed, err := s.SetQuestionSelected(ctx, qids[0], true, testNow)
	if err != nil || !changed {
		t.Fatalf("first select: changed=%v err=%v", changed, err)
	}
	changed, err = s.SetQuestionSelected(ctx, qids[0], true, testNow)
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if changed {
		t.Error("expected selecting an already selected question to be a no-op")
	}
	n, err := s.RecountSelected(ctx, model.ScopeRef{Kind: model.ScopePaper, ID: p.ID})
	if err != nil {
		t.Fatalf("RecountSelected: %v", err)
	}
	if n != 1 {
		t.Errorf("expected recount 1, got %d", n)
	}
}

func TestSealAndUnseal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, qids := createTestPaper(t, s, 1, 2)
	ref := model.ScopeRef{Kind: model.ScopePaper, ID: p.ID}

	// Incomplete selection cannot seal.
	_, ok, err := s.SealScope(ctx, ref, testNow)
	if err != nil {
		t.Fatalf("SealScope: %v", err)
	}
	if ok {
		t.Fatal("expected seal of incomplete scope to fail")
	}

	if _, err := s.SetQuestionSelected(ctx, qids[0], true, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IncrementSelected(ctx, ref, 1); err != nil {
		t.Fatal(err)
	}

	v1, ok, err := s.SealScope(ctx, ref, testNow)
	if err != nil || !ok {
		t.Fatalf("SealScope: ok=%v err=%v", ok, err)
	}
	st, _ := s.GetScope(ctx, ref)
	if st.Status != model.StatusFinalized || st.FinalizedAt == nil {
		t.Errorf("expected finalized with timestamp, got %q %v", st.Status, st.FinalizedAt)
	}

	// Sealing an already finalized scope is refused.
	if _, ok, _ := s.SealScope(ctx, ref, testNow); ok {
		t.Error("expected second seal to fail")
	}

	// A stale version does not revert.
	ok, err = s.UnsealScope(ctx, ref, v1+1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected unseal with wrong version to be refused")
	}
	ok, err = s.UnsealScope(ctx, ref, v1)
	if err != nil || !ok {
		t.Fatalf("UnsealScope: ok=%v err=%v", ok, err)
	}
	st, _ = s.GetScope(ctx, ref)
	if st.Status != model.StatusInReview {
		t.Errorf("expected in_review, got %q", st.Status)
	}
	p, _ = s.GetPaper(ctx, p.ID)
	if p.Status != model.PaperReview {
		t.Errorf("expected paper review, got %q", p.Status)
	}

	v2, ok, _ := s.SealScope(ctx, ref, testNow)
	if !ok || v2 != v1+1 {
		t.Errorf("expected reseal with version %d, got %d ok=%v", v1+1, v2, ok)
	}
}

func TestPaperArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _ := createTestPaper(t, s, 0, 0)

	if err := s.SetPaperArtifact(ctx, p.ID, "file:///tmp/a.html", testNow); err != nil {
		t.Fatalf("SetPaperArtifact: %v", err)
	}
	p, _ = s.GetPaper(ctx, p.ID)
	if p.ArtifactURL == nil || *p.ArtifactURL != "file:///tmp/a.html" {
		t.Fatalf("expected artifact url, got %v", p.ArtifactURL)
	}
	if p.Status != model.PaperFinalized {
		t.Errorf("expected finalized, got %q", p.Status)
	}

	if err := s.ClearPaperArtifact(ctx, p.ID); err != nil {
		t.Fatalf("ClearPaperArtifact: %v", err)
	}
	p, _ = s.GetPaper(ctx, p.ID)
	if p.ArtifactURL != nil || p.FinalizedAt != nil {
		t.Errorf("expected cleared artifact, got %v %v", p.ArtifactURL, p.FinalizedAt)
	}
	if p.Status != model.PaperReview {
		t.Errorf("expected review, got %q", p.Status)
	}
}

func TestSectionedPaperScopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner")
	pid, err := s.CreatePaper(ctx, model.Paper{OwnerID: owner, Title: "Physics", HasSections: true, CreatedAt: testNow})
	if err != nil {
		t.Fatal(err)
	}
	var sids []int64
	for i, name := range []string{"Part A", "Part B"} {
		sid, err := s.CreateSection(ctx, model.Section{PaperID: pid, Name: name, SectionOrder: i, QuestionCount: 1, MarksPerQuestion: 2})
		if err != nil {
			t.Fatalf("CreateSection: %v", err)
		}
		sids = append(sids, sid)
	}

	// Paper scope is not addressable on a sectioned paper.
	_, err = s.GetScope(ctx, model.ScopeRef{Kind: model.ScopePaper, ID: pid})
	if !errors.Is(err, model.ErrNotSectioned) {
		t.Errorf("expected ErrNotSectioned, got %v", err)
	}
	_, err = s.GetScope(ctx, model.ScopeRef{Kind: model.ScopeSection, ID: 999})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	p, _ := s.GetPaper(ctx, pid)
	scopes, err := s.ListScopes(ctx, p)
	if err != nil {
		t.Fatalf("ListScopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0].Name != "Part A" || scopes[0].Status != model.StatusPending {
		t.Fatalf("unexpected scopes %+v", scopes)
	}

	ref := model.ScopeRef{Kind: model.ScopeSection, ID: sids[0]}
	if ok, _ := s.SetScopeStatus(ctx, ref, []model.ScopeStatus{model.StatusPending}, model.StatusReady); !ok {
		t.Fatal("expected pending -> ready")
	}
	qid, _ := s.InsertQuestion(ctx, model.Question{PaperID: pid, SectionID: &sids[0], QuestionContent: model.QuestionContent{Text: "F=ma?"}, CreatedAt: testNow})
	if _, err := s.SetQuestionSelected(ctx, qid, true, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IncrementSelected(ctx, ref, 1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.SealScope(ctx, ref, testNow); !ok {
		t.Fatal("expected section seal")
	}

	n, err := s.UnfinalizedSections(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 unfinalized section, got %d", n)
	}

	seals, err := s.ListUnbackedSeals(ctx)
	if err != nil {
		t.Fatalf("ListUnbackedSeals: %v", err)
	}
	if len(seals) != 1 || seals[0].Ref != ref {
		t.Errorf("expected the sealed section, got %+v", seals)
	}

	doc, err := s.PaperDocument(ctx, p)
	if err != nil {
		t.Fatalf("PaperDocument: %v", err)
	}
	if len(doc.Sections) != 2 || len(doc.Sections[0].Questions) != 1 || len(doc.Sections[1].Questions) != 0 {
		t.Errorf("unexpected document %+v", doc.Sections)
	}

	exp, err := s.ExportPaper(ctx, pid)
	if err != nil {
		t.Fatalf("ExportPaper: %v", err)
	}
	if len(exp.Scopes) != 2 || exp.Scopes[0].Questions[0].Marks != 2 {
		t.Errorf("unexpected export %+v", exp.Scopes)
	}
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _ := createTestPaper(t, s, 2, 0)
	ref := model.ScopeRef{Kind: model.ScopePaper, ID: p.ID}

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.LockScope(ctx, ref); err != nil {
			return err
		}
		if _, err := tx.IncrementSelected(ctx, ref, 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	st, _ := s.GetScope(ctx, ref)
	if st.Selected != 0 {
		t.Errorf("expected rollback to keep 0, got %d", st.Selected)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetImportedFileHash(ctx, "papers/a.json")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("expected empty hash, got %q", v)
	}
	if err := s.SetImportedFileHash(ctx, "papers/a.json", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetImportedFileHash(ctx, "papers/a.json", "def"); err != nil {
		t.Fatal(err)
	}
	v, _ = s.GetImportedFileHash(ctx, "papers/a.json")
	if v != "def" {
		t.Errorf("expected def, got %q", v)
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "alice")

	token, err := s.CreateAuthSession(ctx, uid)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(ctx, token)
	if err != nil || sess == nil {
		t.Fatalf("GetAuthSession: %v %v", sess, err)
	}
	if sess.UserID != uid {
		t.Errorf("expected user %d, got %d", uid, sess.UserID)
	}

	s.SetClock(func() time.Time { return testNow.Add(authSessionTTL + time.Minute) })
	sess, err = s.GetAuthSession(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Error("expected expired session to be gone")
	}

	u, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername: %v %v", u, err)
	}
	missing, err := s.GetUserByUsername(ctx, "bob")
	if err != nil || missing != nil {
		t.Errorf("expected nil user, got %v %v", missing, err)
	}
}

// TestPostgresPrimitives runs the counter primitives against a real server
// when PAPERSEAL_TEST_POSTGRES_DSN is set.
func TestPostgresPrimitives(t *testing.T) {
	dsn := os.Getenv("PAPERSEAL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PAPERSEAL_TEST_POSTGRES_DSN not set")
	}
	s, err := New(DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	owner, err := s.CreateUser(ctx, model.User{
		Username: "pg-" + time.Now().Format("150405.000000"), PasswordHash: "x",
		Role: model.UserRoleTeacher, Active: true, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	pid, err := s.CreatePaper(ctx, model.Paper{OwnerID: owner, Title: "pg", TargetCount: 1, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("CreatePaper: %v", err)
	}
	ref := model.ScopeRef{Kind: model.ScopePaper, ID: pid}
	err = s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.LockScope(ctx, ref); err != nil {
			return err
		}
		ok, err := tx.IncrementSelected(ctx, ref, 1)
		if err != nil || !ok {
			t.Errorf("first increment: ok=%v err=%v", ok, err)
		}
		ok, err = tx.IncrementSelected(ctx, ref, 1)
		if err != nil || ok {
			t.Errorf("second increment: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}
