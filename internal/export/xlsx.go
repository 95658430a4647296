// Package export writes a paper's selection as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/paperseal/internal/model"
)

var headers = []string{"scope", "status", "order", "text", "options", "answer", "chapter", "difficulty", "marks"}

// WriteXLSX writes one row per selected question. The first sheet is the
// selection, the second a per-scope summary.
func WriteXLSX(w io.Writer, pe model.PaperExport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetName(sheet, "Selection"); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sheet = "Selection"
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	row := 2
	for _, sc := range pe.Scopes {
		for _, q := range sc.Questions {
			values := []any{
				sc.Name,
				string(sc.Status),
				q.Order,
				q.Text,
				strings.Join(q.Options, "\n"),
				q.Answer,
				q.Chapter,
				q.Difficulty,
				q.Marks,
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				_ = f.SetCellValue(sheet, cell, v)
			}
			row++
		}
	}
	_ = f.SetColWidth(sheet, "D", "D", 60)

	if _, err := f.NewSheet("Summary"); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	summary := [][]any{
		{"paper_id", pe.PaperID},
		{"title", pe.Title},
		{"status", string(pe.Status)},
		{"artifact_url", pe.ArtifactURL},
		{"exported_at", pe.ExportedAt.Format("2006-01-02 15:04:05")},
		{},
		{"scope", "status", "selected", "target"},
	}
	for _, sc := range pe.Scopes {
		summary = append(summary, []any{sc.Name, string(sc.Status), sc.Selected, sc.Target})
	}
	for i, values := range summary {
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			_ = f.SetCellValue("Summary", cell, v)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write excel: %w", err)
	}
	return nil
}
