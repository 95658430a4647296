package finalize

import (
	"context"
	"testing"
	"time"

	"github.com/pavelanni/paperseal/internal/model"
)

// abandon seals a scope without generating its artifact, as a finalize call
// that died after the seal would leave it.
func (f *fixture) abandon(t *testing.T, ref model.ScopeRef) {
	t.Helper()
	if _, _, err := f.lc.Seal(context.Background(), ref); err != nil {
		t.Fatalf("Seal: %v", err)
	}
}

func TestReconcileRegenerates(t *testing.T) {
	f := newFixture(t, model.Config{StaleAfter: 5 * time.Minute, ReconcileMode: ModeRegenerate})
	ctx := context.Background()
	ref := f.paper(t, 1, 1)[0]
	f.selectN(t, ref, 1)
	f.abandon(t, ref)

	// Too fresh: left to the finalize call that owns it.
	rep, err := f.saga.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Regenerated != 0 || f.gen.Calls() != 0 {
		t.Fatalf("fresh seal must not be reconciled, got %+v", rep)
	}

	f.now = f.now.Add(10 * time.Minute)
	rep, err = f.saga.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Regenerated != 1 {
		t.Fatalf("expected one regenerated paper, got %+v", rep)
	}
	p := f.paperOf(t, ref)
	if p.ArtifactURL == nil || p.Status != model.PaperFinalized {
		t.Errorf("expected artifact committed, got %v %q", p.ArtifactURL, p.Status)
	}

	// Nothing left on the next pass.
	rep, _ = f.saga.Reconcile(ctx)
	if rep != (Report{}) {
		t.Errorf("expected empty pass, got %+v", rep)
	}
}

func TestReconcileRevert(t *testing.T) {
	f := newFixture(t, model.Config{StaleAfter: time.Minute, ReconcileMode: ModeRevert, ReconcileWorkers: 2})
	ctx := context.Background()
	var refs []model.ScopeRef
	for i := 0; i < 3; i++ {
		ref := f.paper(t, 1, 1)[0]
		f.selectN(t, ref, 1)
		f.abandon(t, ref)
		refs = append(refs, ref)
	}
	f.now = f.now.Add(2 * time.Minute)

	rep, err := f.saga.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Reverted != 3 {
		t.Fatalf("expected 3 reverted, got %+v", rep)
	}
	for _, ref := range refs {
		st, _ := f.store.GetScope(ctx, ref)
		if st.Status != model.StatusInReview {
			t.Errorf("%s: expected in_review, got %q", ref, st.Status)
		}
	}
	if f.gen.Calls() != 0 {
		t.Error("revert mode must not generate")
	}
}

func TestReconcileSkipsIncompletePapers(t *testing.T) {
	f := newFixture(t, model.Config{StaleAfter: time.Minute})
	ctx := context.Background()
	refs := f.paper(t, 1, 1, 1)
	f.selectN(t, refs[0], 1)
	f.abandon(t, refs[0])
	f.now = f.now.Add(time.Hour)

	// One of two sections sealed is a normal in-progress paper.
	rep, err := f.saga.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep != (Report{}) {
		t.Errorf("expected no work, got %+v", rep)
	}
	st, _ := f.store.GetScope(ctx, refs[0])
	if st.Status != model.StatusFinalized {
		t.Errorf("expected section to stay finalized, got %q", st.Status)
	}
}

func TestReconcileRegenerateFailureReverts(t *testing.T) {
	f := newFixture(t, model.Config{StaleAfter: time.Minute})
	ctx := context.Background()
	f.gen.err = context.DeadlineExceeded
	ref := f.paper(t, 1, 1)[0]
	f.selectN(t, ref, 1)
	f.abandon(t, ref)
	f.now = f.now.Add(time.Hour)

	rep, err := f.saga.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", rep)
	}
	st, _ := f.store.GetScope(ctx, ref)
	if st.Status != model.StatusInReview {
		t.Errorf("expected compensation to in_review, got %q", st.Status)
	}
}
