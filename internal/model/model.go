package model

import (
	"context"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleTeacher authors papers.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin can act on any paper.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents a bearer credential issued at login.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// PaperStatus is the paper-level status.
type PaperStatus string

const (
	PaperDraft     PaperStatus = "draft"
	PaperReview    PaperStatus = "review"
	PaperFinalized PaperStatus = "finalized"
)

// ScopeStatus is the status of a selection scope (a section, or a whole
// paper without sections).
type ScopeStatus string

const (
	StatusPending   ScopeStatus = "pending"
	StatusReady     ScopeStatus = "ready"
	StatusInReview  ScopeStatus = "in_review"
	StatusFinalized ScopeStatus = "finalized"
)

// ScopeStatus maps a paper status onto the scope state machine used for
// papers that have no sections.
func (s PaperStatus) ScopeStatus() ScopeStatus {
	switch s {
	case PaperReview:
		return StatusInReview
	case PaperFinalized:
		return StatusFinalized
	default:
		return StatusReady
	}
}

// PaperStatusFor is the inverse of PaperStatus.ScopeStatus.
func PaperStatusFor(s ScopeStatus) PaperStatus {
	switch s {
	case StatusInReview:
		return PaperReview
	case StatusFinalized:
		return PaperFinalized
	default:
		return PaperDraft
	}
}

// Paper is an exam document under construction.
type Paper struct {
	ID            int64       `json:"id"`
	OwnerID       int64       `json:"owner_id"`
	Title         string      `json:"title"`
	TargetCount   int         `json:"target_count"`
	SelectedCount int         `json:"selected_count"`
	Status        PaperStatus `json:"status"`
	ArtifactURL   *string     `json:"artifact_url,omitempty"`
	HasSections   bool        `json:"has_sections"`
	SealVersion   int64       `json:"seal_version"`
	FinalizedAt   *time.Time  `json:"finalized_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// EditableBy reports whether u may mutate the paper.
func (p Paper) EditableBy(u *User) bool {
	if u == nil || !u.Active {
		return false
	}
	return u.Role == UserRoleAdmin || u.ID == p.OwnerID
}

// Section is a named partition of a paper's questions.
type Section struct {
	ID               int64       `json:"id"`
	PaperID          int64       `json:"paper_id"`
	Name             string      `json:"name"`
	SectionOrder     int         `json:"section_order"`
	QuestionCount    int         `json:"question_count"`
	MarksPerQuestion int         `json:"marks_per_question"`
	SelectedCount    int         `json:"selected_count"`
	Status           ScopeStatus `json:"status"`
	SealVersion      int64       `json:"seal_version"`
	FinalizedAt      *time.Time  `json:"finalized_at,omitempty"`
}

// QuestionContent holds the fields of a question that are opaque to the
// selection engine.
type QuestionContent struct {
	Text       string   `json:"text"`
	Options    []string `json:"options,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	Chapter    string   `json:"chapter,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Archetype  string   `json:"archetype,omitempty"`
}

// Question is an atomic exam item.
type Question struct {
	ID            int64  `json:"id"`
	PaperID       int64  `json:"paper_id"`
	SectionID     *int64 `json:"section_id,omitempty"`
	QuestionOrder int    `json:"question_order"`
	IsSelected    bool   `json:"is_selected"`
	QuestionContent
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope returns the selection scope the question belongs to.
func (q Question) Scope() ScopeRef {
	if q.SectionID != nil {
		return ScopeRef{Kind: ScopeSection, ID: *q.SectionID}
	}
	return ScopeRef{Kind: ScopePaper, ID: q.PaperID}
}

// QuestionFilter narrows a candidate pool. Empty fields match everything.
type QuestionFilter struct {
	Chapter    string `json:"chapter,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Archetype  string `json:"archetype,omitempty"`
}

// Match reports whether q passes the filter.
func (f QuestionFilter) Match(q Question) bool {
	if f.Chapter != "" && !strings.EqualFold(f.Chapter, q.Chapter) {
		return false
	}
	if f.Difficulty != "" && !strings.EqualFold(f.Difficulty, q.Difficulty) {
		return false
	}
	if f.Archetype != "" && !strings.EqualFold(f.Archetype, q.Archetype) {
		return false
	}
	return true
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	ArtifactTimeout      time.Duration
	CompensationAttempts int
	CompensationBackoff  time.Duration
	StaleAfter           time.Duration
	ReconcileMode        string // regenerate or revert
	ReconcileWorkers     int
	Lang                 string
}
