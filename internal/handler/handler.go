// Package handler exposes the selection and finalization engine as a JSON
// HTTP API.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/paperseal/internal/finalize"
	"github.com/pavelanni/paperseal/internal/lifecycle"
	"github.com/pavelanni/paperseal/internal/llm"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/selection"
	"github.com/pavelanni/paperseal/internal/store"
)

// QuestionGenerator produces question content for a scope.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, req llm.GenerateRequest) ([]model.QuestionContent, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store         *store.Store
	sel           *selection.Manager
	lc            *lifecycle.Controller
	saga          *finalize.Saga
	gen           QuestionGenerator
	lang          string
	secureCookies bool
}

// Options configures a Handler.
type Options struct {
	// Generator is optional; without it the generate endpoint is unavailable.
	Generator     QuestionGenerator
	Lang          string
	SecureCookies bool
}

// New creates a new Handler.
func New(s *store.Store, sel *selection.Manager, lc *lifecycle.Controller, saga *finalize.Saga, opts Options) *Handler {
	return &Handler{
		store:         s,
		sel:           sel,
		lc:            lc,
		saga:          saga,
		gen:           opts.Generator,
		lang:          opts.Lang,
		secureCookies: opts.SecureCookies,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/api/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/api/logout", h.handleLogout)

		r.Get("/api/papers", h.handleListPapers)
		r.Post("/api/papers", h.handleCreatePaper)
		r.Get("/api/papers/{paperID}", h.handleReview)

		r.Post("/api/questions/{questionID}/selection", h.handleToggle)
		r.Patch("/api/questions/{questionID}", h.handleEditQuestion)

		for _, kind := range []model.ScopeKind{model.ScopeSection, model.ScopePaper} {
			prefix := "/api/" + string(kind) + "s/{scopeID}"
			r.Post(prefix+"/auto-select", h.scoped(kind, h.handleAutoSelect))
			r.Post(prefix+"/finalize", h.scoped(kind, h.handleFinalize))
			r.Post(prefix+"/reopen", h.scoped(kind, h.handleReopen))
			r.Post(prefix+"/ready", h.scoped(kind, h.handleMarkReady))
		}
		r.Post("/api/sections/{scopeID}/generate", h.scoped(model.ScopeSection, h.handleGenerate))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DB().PingContext(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "internal_error", "database unavailable", nil)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type scopeHandler func(w http.ResponseWriter, r *http.Request, ref model.ScopeRef)

// scoped parses the {scopeID} parameter into a ScopeRef of the given kind.
func (h *Handler) scoped(kind model.ScopeKind, fn scopeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "scopeID")
		if !ok {
			return
		}
		fn(w, r, model.ScopeRef{Kind: kind, ID: id})
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid "+name, nil)
		return 0, false
	}
	return id, true
}
