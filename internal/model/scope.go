package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScopeKind distinguishes the two kinds of selection scope.
type ScopeKind string

const (
	ScopeSection ScopeKind = "section"
	ScopePaper   ScopeKind = "paper"
)

// ScopeRef identifies a selection scope.
type ScopeRef struct {
	Kind ScopeKind `json:"kind"`
	ID   int64     `json:"id"`
}

func (r ScopeRef) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// ParseScopeRef parses the "section:12" / "paper:3" form produced by String.
func ParseScopeRef(s string) (ScopeRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return ScopeRef{}, fmt.Errorf("scope %q: missing kind", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return ScopeRef{}, fmt.Errorf("scope %q: invalid id", s)
	}
	switch ScopeKind(kind) {
	case ScopeSection, ScopePaper:
		return ScopeRef{Kind: ScopeKind(kind), ID: n}, nil
	}
	return ScopeRef{}, fmt.Errorf("scope %q: unknown kind", s)
}

// ScopeState is the persisted per-scope counter row:
// {id, target, selected_count, status} plus seal bookkeeping.
type ScopeState struct {
	Ref         ScopeRef    `json:"scope"`
	PaperID     int64       `json:"paper_id"`
	Name        string      `json:"name"`
	Target      int         `json:"target"`
	Selected    int         `json:"selected_count"`
	Status      ScopeStatus `json:"status"`
	SealVersion int64       `json:"seal_version"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty"`
}

// Remaining is the number of selections still needed to reach the target.
func (s ScopeState) Remaining() int {
	return s.Target - s.Selected
}

// Complete reports whether the selection exactly matches the target.
func (s ScopeState) Complete() bool {
	return s.Selected == s.Target
}

// Seal records a committed seal so later steps can be made conditional on
// the same review cycle.
type Seal struct {
	Scope   ScopeRef
	PaperID int64
	Version int64
	At      time.Time
}

// ToggleResult is returned by a selection toggle.
type ToggleResult struct {
	QuestionID     int64      `json:"question_id"`
	Selected       bool       `json:"selected"`
	StatusReverted bool       `json:"status_reverted"`
	Scope          ScopeState `json:"scope"`
}

// EditResult is returned by a content edit.
type EditResult struct {
	Question       Question   `json:"question"`
	StatusReverted bool       `json:"status_reverted"`
	Scope          ScopeState `json:"scope"`
}

// AutoSelectResult is returned by the allocator.
type AutoSelectResult struct {
	SelectedIDs    []int64    `json:"selected_ids"`
	Filled         int        `json:"filled"`
	Exhausted      bool       `json:"exhausted"`
	StatusReverted bool       `json:"status_reverted"`
	Scope          ScopeState `json:"scope"`
}

// FinalizeResult is returned by a successful finalize.
type FinalizeResult struct {
	Scope         ScopeState `json:"scope"`
	ArtifactURL   string     `json:"artifact_url,omitempty"`
	PaperComplete bool       `json:"paper_complete"`
	Regenerated   bool       `json:"regenerated"`
}

// PaperDocument is everything the artifact generator needs for one paper.
type PaperDocument struct {
	Paper     Paper             `json:"paper"`
	Sections  []DocumentSection `json:"sections"`
	Generated time.Time         `json:"generated_at"`
}

// DocumentSection groups the selected questions of one scope.
type DocumentSection struct {
	Name             string     `json:"name,omitempty"`
	MarksPerQuestion int        `json:"marks_per_question,omitempty"`
	Questions        []Question `json:"questions"`
}
