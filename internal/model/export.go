package model

import "time"

// PaperExport is the top-level JSON structure for a paper export.
type PaperExport struct {
	PaperID     int64         `json:"paper_id"`
	Title       string        `json:"title"`
	Status      PaperStatus   `json:"status"`
	ArtifactURL string        `json:"artifact_url,omitempty"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
	Scopes      []ScopeExport `json:"scopes"`
	ExportedAt  time.Time     `json:"exported_at"`
}

// ScopeExport holds one scope's selection for export.
type ScopeExport struct {
	Name      string           `json:"name"`
	Status    ScopeStatus      `json:"status"`
	Target    int              `json:"target"`
	Selected  int              `json:"selected_count"`
	Questions []QuestionExport `json:"questions"`
}

// QuestionExport holds per-question data for export.
type QuestionExport struct {
	Order      int      `json:"order"`
	Text       string   `json:"text"`
	Options    []string `json:"options,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	Chapter    string   `json:"chapter,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Marks      int      `json:"marks,omitempty"`
}

// PaperImport is used for loading a paper and its question pool from JSON.
type PaperImport struct {
	Title       string            `json:"title" validate:"required"`
	Owner       string            `json:"owner"`
	TargetCount int               `json:"target_count" validate:"gte=0"`
	Sections    []SectionImport   `json:"sections" validate:"dive"`
	Questions   []QuestionContent `json:"questions"`
}

// SectionImport is one section of a PaperImport.
type SectionImport struct {
	Name             string            `json:"name" validate:"required"`
	QuestionCount    int               `json:"question_count" validate:"gte=0"`
	MarksPerQuestion int               `json:"marks_per_question" validate:"gte=0"`
	Questions        []QuestionContent `json:"questions"`
}
