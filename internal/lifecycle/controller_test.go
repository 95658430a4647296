package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/store"
)

func newTestController(t *testing.T) (*Controller, *store.Store) {
	t.Helper()
	s, err := store.New(store.DriverSQLite, filepath.Join(t.TempDir(), "lifecycle.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, model.Config{CompensationAttempts: 2, CompensationBackoff: time.Millisecond}), s
}

// newSection creates a sectioned paper with one section of the given target,
// holding n questions, and returns the section's scope.
func newSection(t *testing.T, s *store.Store, target, n int) model.ScopeRef {
	t.Helper()
	ctx := context.Background()
	owner, err := s.CreateUser(ctx, model.User{Username: "t", PasswordHash: "x", Role: model.UserRoleTeacher, Active: true, CreatedAt: s.Now()})
	if err != nil {
		t.Fatal(err)
	}
	pid, err := s.CreatePaper(ctx, model.Paper{OwnerID: owner, Title: "P", HasSections: true, CreatedAt: s.Now()})
	if err != nil {
		t.Fatal(err)
	}
	sid, err := s.CreateSection(ctx, model.Section{PaperID: pid, Name: "A", QuestionCount: target, MarksPerQuestion: 1})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if _, err := s.InsertQuestion(ctx, model.Question{PaperID: pid, SectionID: &sid, QuestionOrder: i, QuestionContent: model.QuestionContent{Text: "q"}, CreatedAt: s.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	return model.ScopeRef{Kind: model.ScopeSection, ID: sid}
}

// selectAll marks every question of the scope selected, bypassing the manager.
func selectAll(t *testing.T, s *store.Store, ref model.ScopeRef) {
	t.Helper()
	ctx := context.Background()
	qs, err := s.ListQuestions(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range qs {
		if _, err := s.SetQuestionSelected(ctx, q.ID, true, s.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.IncrementSelected(ctx, ref, len(qs)); err != nil {
		t.Fatal(err)
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		from, to model.ScopeStatus
		want     bool
	}{
		{model.StatusPending, model.StatusReady, true},
		{model.StatusPending, model.StatusFinalized, false},
		{model.StatusReady, model.StatusInReview, true},
		{model.StatusInReview, model.StatusFinalized, true},
		{model.StatusInReview, model.StatusReady, false},
		{model.StatusFinalized, model.StatusInReview, true},
		{model.StatusFinalized, model.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := Allowed(tt.from, tt.to); got != tt.want {
				t.Errorf("Allowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestMarkReadyIdempotent(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	ref := newSection(t, s, 1, 1)

	st, err := c.MarkReady(ctx, ref)
	if err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if st.Status != model.StatusReady {
		t.Fatalf("expected ready, got %q", st.Status)
	}
	st, err = c.MarkReady(ctx, ref)
	if err != nil || st.Status != model.StatusReady {
		t.Errorf("second MarkReady: %q %v", st.Status, err)
	}
}

func TestSealRequiresCompleteSelection(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	ref := newSection(t, s, 2, 2)

	// Pending cannot be sealed.
	_, _, err := c.Seal(ctx, ref)
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := c.MarkReady(ctx, ref); err != nil {
		t.Fatal(err)
	}
	_, st, err := c.Seal(ctx, ref)
	var inc *model.IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if inc.Scope.Selected != 0 || inc.Scope.Target != 2 || st.Status != model.StatusReady {
		t.Errorf("unexpected incomplete scope %+v", inc.Scope)
	}

	selectAll(t, s, ref)
	seal, st, err := c.Seal(ctx, ref)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if st.Status != model.StatusFinalized || seal.Version != 1 {
		t.Errorf("expected finalized v1, got %q v%d", st.Status, seal.Version)
	}
}

func TestCompensateOnlyMatchingSeal(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	ref := newSection(t, s, 1, 1)
	c.MarkReady(ctx, ref)
	selectAll(t, s, ref)

	first, _, err := c.Seal(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Reopen(ctx, ref); err != nil {
		t.Fatal(err)
	}
	second, _, err := c.Seal(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}

	// The first seal was superseded; compensating it must not touch the second.
	reverted, err := c.Compensate(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if reverted {
		t.Error("expected stale compensation to be a no-op")
	}
	st, _ := c.Scope(ctx, ref)
	if st.Status != model.StatusFinalized {
		t.Fatalf("expected finalized, got %q", st.Status)
	}

	reverted, err = c.Compensate(ctx, second)
	if err != nil || !reverted {
		t.Fatalf("Compensate: reverted=%v err=%v", reverted, err)
	}
	st, _ = c.Scope(ctx, ref)
	if st.Status != model.StatusInReview {
		t.Errorf("expected in_review, got %q", st.Status)
	}
}

func TestReopen(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	ref := newSection(t, s, 1, 1)

	_, _, err := c.Reopen(ctx, ref)
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected reopen of pending to be rejected, got %v", err)
	}

	c.MarkReady(ctx, ref)
	selectAll(t, s, ref)
	seal, _, err := c.Seal(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CommitArtifact(ctx, seal, "file:///a.html"); err != nil {
		t.Fatalf("CommitArtifact: %v", err)
	}

	st, reverted, err := c.Reopen(ctx, ref)
	if err != nil || !reverted || st.Status != model.StatusInReview {
		t.Fatalf("Reopen: %q reverted=%v err=%v", st.Status, reverted, err)
	}
	p, _ := s.GetPaper(ctx, st.PaperID)
	if p.ArtifactURL != nil || p.Status != model.PaperReview {
		t.Errorf("expected artifact cleared and paper in review, got %v %q", p.ArtifactURL, p.Status)
	}

	// Reopening again reports the current status without change.
	st, reverted, err = c.Reopen(ctx, ref)
	if err != nil || reverted || st.Status != model.StatusInReview {
		t.Errorf("second Reopen: %q reverted=%v err=%v", st.Status, reverted, err)
	}
}

func TestCommitArtifactSealLost(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	ref := newSection(t, s, 1, 1)
	c.MarkReady(ctx, ref)
	selectAll(t, s, ref)

	seal, _, err := c.Seal(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Reopen(ctx, ref); err != nil {
		t.Fatal(err)
	}
	err = c.CommitArtifact(ctx, seal, "file:///late.html")
	if !errors.Is(err, model.ErrSealLost) {
		t.Fatalf("expected ErrSealLost, got %v", err)
	}
	p, _ := s.GetPaper(ctx, seal.PaperID)
	if p.ArtifactURL != nil {
		t.Errorf("expected no artifact, got %q", *p.ArtifactURL)
	}
}

func TestOnScopeMutatedCascade(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	ref := newSection(t, s, 1, 1)
	c.MarkReady(ctx, ref)
	selectAll(t, s, ref)
	seal, _, err := c.Seal(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CommitArtifact(ctx, seal, "file:///a.html"); err != nil {
		t.Fatal(err)
	}

	var reverted bool
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		st, err := tx.LockScope(ctx, ref)
		if err != nil {
			return err
		}
		reverted, err = c.OnScopeMutated(ctx, tx, st, "edit")
		return err
	})
	if err != nil || !reverted {
		t.Fatalf("OnScopeMutated: reverted=%v err=%v", reverted, err)
	}
	st, _ := c.Scope(ctx, ref)
	p, _ := s.GetPaper(ctx, seal.PaperID)
	if st.Status != model.StatusInReview || p.ArtifactURL != nil || p.FinalizedAt != nil {
		t.Errorf("cascade incomplete: scope %q artifact %v finalized_at %v", st.Status, p.ArtifactURL, p.FinalizedAt)
	}
}
