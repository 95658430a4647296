package handler

import (
	"net/http"

	appI18n "github.com/pavelanni/paperseal/internal/i18n"
	"github.com/pavelanni/paperseal/internal/llm"
	"github.com/pavelanni/paperseal/internal/model"
)

// notice tells the caller a finalized scope was reverted and must be
// finalized again.
func (h *Handler) notice(r *http.Request, reverted bool) string {
	if !reverted {
		return ""
	}
	return appI18n.T(r.Context(), "RegenerationRequired")
}

type autoSelectRequest struct {
	CandidateIDs []int64 `json:"candidate_ids" validate:"omitempty,dive,gt=0"`
	model.QuestionFilter
}

type autoSelectResponse struct {
	model.AutoSelectResult
	Notice string `json:"notice,omitempty"`
}

func (h *Handler) handleAutoSelect(w http.ResponseWriter, r *http.Request, ref model.ScopeRef) {
	var req autoSelectRequest
	if err := decode(w, r, &req); err != nil {
		writeInvalid(w, r, err)
		return
	}
	res, err := h.sel.AutoSelect(r.Context(), model.UserFromContext(r.Context()), ref, req.CandidateIDs, req.QuestionFilter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, autoSelectResponse{AutoSelectResult: res, Notice: h.notice(r, res.StatusReverted)})
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request, ref model.ScopeRef) {
	res, err := h.saga.Finalize(r.Context(), model.UserFromContext(r.Context()), ref)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, res)
}

type reopenResponse struct {
	Scope    model.ScopeState `json:"scope"`
	Reverted bool             `json:"status_reverted"`
	Notice   string           `json:"notice,omitempty"`
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request, ref model.ScopeRef) {
	if _, err := h.sel.ScopePaper(r.Context(), model.UserFromContext(r.Context()), ref); err != nil {
		writeErr(w, r, err)
		return
	}
	st, reverted, err := h.lc.Reopen(r.Context(), ref)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, reopenResponse{Scope: st, Reverted: reverted, Notice: h.notice(r, reverted)})
}

func (h *Handler) handleMarkReady(w http.ResponseWriter, r *http.Request, ref model.ScopeRef) {
	if _, err := h.sel.ScopePaper(r.Context(), model.UserFromContext(r.Context()), ref); err != nil {
		writeErr(w, r, err)
		return
	}
	st, err := h.lc.MarkReady(r.Context(), ref)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, st)
}

type generateRequest struct {
	Count      int    `json:"count" validate:"required,gt=0,lte=100"`
	Chapter    string `json:"chapter"`
	Difficulty string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Archetype  string `json:"archetype"`
	Language   string `json:"language"`
}

type generateResponse struct {
	QuestionIDs []int64          `json:"question_ids"`
	Scope       model.ScopeState `json:"scope"`
}

// handleGenerate fills a section's pool from the question generator and
// marks the section ready.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request, ref model.ScopeRef) {
	if h.gen == nil {
		writeError(w, r, http.StatusServiceUnavailable, "internal_error", "question generation is not configured", nil)
		return
	}
	var req generateRequest
	if err := decode(w, r, &req); err != nil {
		writeInvalid(w, r, err)
		return
	}
	ctx := r.Context()
	user := model.UserFromContext(ctx)
	p, err := h.sel.ScopePaper(ctx, user, ref)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	st, err := h.lc.Scope(ctx, ref)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if req.Language == "" {
		req.Language = h.lang
	}

	contents, err := h.gen.GenerateQuestions(ctx, llm.GenerateRequest{
		Paper:      p.Title,
		Section:    st.Name,
		Count:      req.Count,
		Chapter:    req.Chapter,
		Difficulty: req.Difficulty,
		Archetype:  req.Archetype,
		Language:   req.Language,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ids, err := h.sel.AddQuestions(ctx, user, ref, contents)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	st, err = h.lc.MarkReady(ctx, ref)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, generateResponse{QuestionIDs: ids, Scope: st})
}
