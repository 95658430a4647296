package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/pavelanni/paperseal/internal/lifecycle"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/selection"
	"github.com/pavelanni/paperseal/internal/store"
)

const papersJSON = `[
  {
    "title": "Physics midterm",
    "sections": [
      {"name": "Mechanics", "question_count": 1, "marks_per_question": 2,
       "questions": [{"text": "Define inertia."}, {"text": "State Newton's third law."}]}
    ]
  },
  {"title": "Quiz", "target_count": 1, "questions": [{"text": "2+2?"}]}
]`

func TestImportPapersSkipsKnownFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := store.New(store.DriverSQLite, filepath.Join(dir, "paperseal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := seedAdmin(ctx, db, "secret"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	sel := selection.NewManager(db, lifecycle.New(db, model.Config{}))

	path := filepath.Join(dir, "papers.json")
	if err := os.WriteFile(path, []byte(papersJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := importPapers(ctx, db, sel, []string{path}, "admin"); err != nil {
			t.Fatalf("importPapers: %v", err)
		}
	}
	papers, err := db.ListPapers(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 2 {
		t.Fatalf("got %d papers after two imports, want 2", len(papers))
	}

	if err := os.WriteFile(path, []byte(`[{"title": "Changed"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := importPapers(ctx, db, sel, []string{path}, "admin"); err != nil {
		t.Fatalf("importPapers changed file: %v", err)
	}
	if papers, _ := db.ListPapers(ctx, 0); len(papers) != 2 {
		t.Errorf("changed file was imported: %d papers", len(papers))
	}
}

func TestImportPapersRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := store.New(store.DriverSQLite, filepath.Join(dir, "paperseal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := seedAdmin(ctx, db, "secret"); err != nil {
		t.Fatal(err)
	}
	sel := selection.NewManager(db, lifecycle.New(db, model.Config{}))

	tests := []struct {
		name string
		body string
	}{
		{"missing title", `[{"target_count": 1}]`},
		{"negative target", `[{"title": "x", "target_count": -1}]`},
		{"unnamed section", `[{"title": "x", "sections": [{"question_count": 1}]}]`},
		{"unknown owner", `[{"title": "x", "owner": "nobody"}]`},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad"+string(rune('a'+i))+".json")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := importPapers(ctx, db, sel, []string{path}, "admin"); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSeedAdminRequiresPassword(t *testing.T) {
	db, err := store.New(store.DriverSQLite, filepath.Join(t.TempDir(), "paperseal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := seedAdmin(context.Background(), db, ""); err == nil {
		t.Fatal("expected an error without a password")
	}
	if err := seedAdmin(context.Background(), db, "secret"); err != nil {
		t.Fatal(err)
	}
	// A second call is a no-op once users exist.
	if err := seedAdmin(context.Background(), db, ""); err != nil {
		t.Fatalf("second seedAdmin: %v", err)
	}
}

func TestEngineConfigReconcileMode(t *testing.T) {
	v := viper.New()
	v.Set("reconcile-mode", "Revert")
	cfg, err := engineConfig(v)
	if err != nil || cfg.ReconcileMode != "revert" {
		t.Fatalf("engineConfig = %+v, %v", cfg, err)
	}
	v.Set("reconcile-mode", "delete")
	if _, err := engineConfig(v); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}
