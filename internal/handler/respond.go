package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	appI18n "github.com/pavelanni/paperseal/internal/i18n"
	"github.com/pavelanni/paperseal/internal/model"
)

// ErrorPayload is the error part of an API response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta carries request metadata.
type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

// Envelope wraps every API response.
type Envelope struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	env.Meta.RequestID = middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, Envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details any) {
	writeJSON(w, r, status, Envelope{Error: &ErrorPayload{Code: code, Message: msg, Details: details}})
}

type countDetails struct {
	Scope    model.ScopeRef    `json:"scope"`
	Name     string            `json:"name,omitempty"`
	Status   model.ScopeStatus `json:"status,omitempty"`
	Selected int               `json:"selected_count"`
	Target   int               `json:"target"`
}

// writeErr maps a domain error to its status, code and localized message.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		capErr *model.CapacityError
		incErr *model.IncompleteError
		trErr  *model.TransitionError
		invErr *model.InvariantError
	)
	switch {
	case errors.As(err, &capErr):
		writeError(w, r, http.StatusConflict, "capacity_exceeded",
			appI18n.Td(ctx, "CapacityExceeded", map[string]any{
				"Scope": scopeName(capErr.Scope), "Selected": capErr.Selected, "Target": capErr.Target,
			}),
			countDetails{Scope: capErr.Scope.Ref, Name: capErr.Scope.Name, Status: capErr.Scope.Status, Selected: capErr.Selected, Target: capErr.Target})
	case errors.As(err, &incErr):
		st := incErr.Scope
		writeError(w, r, http.StatusConflict, "incomplete_selection",
			appI18n.Td(ctx, "IncompleteSelection", map[string]any{
				"Scope": scopeName(st), "Selected": st.Selected, "Target": st.Target,
			}),
			countDetails{Scope: st.Ref, Name: st.Name, Status: st.Status, Selected: st.Selected, Target: st.Target})
	case errors.As(err, &trErr):
		writeError(w, r, http.StatusConflict, "invalid_transition",
			appI18n.Td(ctx, "InvalidTransition", map[string]any{
				"Scope": trErr.Scope.String(), "From": trErr.From, "To": trErr.To,
			}), nil)
	case errors.As(err, &invErr):
		writeError(w, r, http.StatusInternalServerError, "invariant_violation",
			appI18n.Td(ctx, "InvariantViolation", map[string]any{"Scope": invErr.Scope.String()}),
			countDetails{Scope: invErr.Scope, Selected: invErr.Counter, Target: invErr.Target})
	case errors.Is(err, model.ErrArtifactGenerationFailed):
		writeError(w, r, http.StatusBadGateway, "artifact_generation_failed",
			appI18n.T(ctx, "ArtifactGenerationFailed"), map[string]string{"cause": err.Error()})
	case errors.Is(err, model.ErrSealLost):
		writeError(w, r, http.StatusConflict, "seal_lost", appI18n.T(ctx, "SealLost"), nil)
	case errors.Is(err, model.ErrNotSectioned):
		writeError(w, r, http.StatusBadRequest, "invalid_request", appI18n.T(ctx, "NotSectioned"), nil)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", appI18n.T(ctx, "NotFound"), nil)
	case errors.Is(err, model.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "unauthorized", appI18n.T(ctx, "Unauthorized"), nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", appI18n.T(ctx, "InternalError"), nil)
	}
}

func writeInvalid(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "invalid_request",
		appI18n.Td(r.Context(), "InvalidRequest", map[string]any{"Detail": err.Error()}), nil)
}

func scopeName(st model.ScopeState) string {
	if st.Name != "" {
		return st.Name
	}
	return st.Ref.String()
}
