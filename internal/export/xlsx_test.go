package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/paperseal/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	pe := model.PaperExport{
		PaperID: 7,
		Title:   "Physics midterm",
		Status:  model.PaperFinalized,
		Scopes: []model.ScopeExport{
			{Name: "Mechanics", Status: model.StatusFinalized, Target: 2, Selected: 2, Questions: []model.QuestionExport{
				{Order: 1, Text: "Define inertia.", Marks: 2},
				{Order: 3, Text: "State Hooke's law.", Options: []string{"a", "b"}, Marks: 2},
			}},
			{Name: "Optics", Status: model.StatusInReview, Target: 1, Selected: 0},
		},
		ExportedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, pe); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Selection")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "scope" || rows[2][3] != "State Hooke's law." || rows[2][4] != "a\nb" {
		t.Errorf("unexpected rows: %q", rows)
	}

	summary, err := f.GetRows("Summary")
	if err != nil {
		t.Fatal(err)
	}
	last := summary[len(summary)-1]
	if last[0] != "Optics" || last[2] != "0" || last[3] != "1" {
		t.Errorf("summary last row = %q", last)
	}
}
