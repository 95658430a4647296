package handler

import (
	"net/http"
	"strings"

	"github.com/pavelanni/paperseal/internal/model"
)

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	ownerID := user.ID
	if user.Role == model.UserRoleAdmin {
		ownerID = 0
	}
	papers, err := h.store.ListPapers(r.Context(), ownerID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if papers == nil {
		papers = []model.Paper{}
	}
	writeOK(w, r, http.StatusOK, papers)
}

func (h *Handler) handleCreatePaper(w http.ResponseWriter, r *http.Request) {
	var in model.PaperImport
	if err := decode(w, r, &in); err != nil {
		writeInvalid(w, r, err)
		return
	}
	p, err := h.sel.CreatePaper(r.Context(), model.UserFromContext(r.Context()).ID, in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, p)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	paperID, ok := pathID(w, r, "paperID")
	if !ok {
		return
	}
	review, err := h.sel.Review(r.Context(), model.UserFromContext(r.Context()), paperID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, review)
}

type toggleRequest struct {
	Selected *bool `json:"selected" validate:"required"`
}

type toggleResponse struct {
	model.ToggleResult
	Notice string `json:"notice,omitempty"`
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	questionID, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}
	var req toggleRequest
	if err := decode(w, r, &req); err != nil {
		writeInvalid(w, r, err)
		return
	}
	res, err := h.sel.Toggle(r.Context(), model.UserFromContext(r.Context()), questionID, *req.Selected)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, toggleResponse{ToggleResult: res, Notice: h.notice(r, res.StatusReverted)})
}

type editRequest struct {
	Text       string   `json:"text" validate:"required"`
	Options    []string `json:"options"`
	Answer     string   `json:"answer"`
	Chapter    string   `json:"chapter"`
	Difficulty string   `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Archetype  string   `json:"archetype"`
}

type editResponse struct {
	model.EditResult
	Notice string `json:"notice,omitempty"`
}

// handleEditQuestion replaces the question's content with the body; omitted
// fields are cleared.
func (h *Handler) handleEditQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}
	var req editRequest
	if err := decode(w, r, &req); err != nil {
		writeInvalid(w, r, err)
		return
	}
	content := model.QuestionContent{
		Text:       strings.TrimSpace(req.Text),
		Options:    req.Options,
		Answer:     req.Answer,
		Chapter:    req.Chapter,
		Difficulty: req.Difficulty,
		Archetype:  req.Archetype,
	}
	res, err := h.sel.EditContent(r.Context(), model.UserFromContext(r.Context()), questionID, content)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, editResponse{EditResult: res, Notice: h.notice(r, res.StatusReverted)})
}
