package httpapi

import (
	"net/http"
	"strings"

	"taskhive.org/internal/audit"
	"taskhive.org/internal/auth"
	"taskhive.org/internal/todo"
)

func (a *API) handleInvitesCollection(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.listInvites(w, r, userID)
	case http.MethodPost:
		a.createInvite(w, r, userID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleInviteAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "authentication required")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/todos/invites/")
	inviteID, action, ok := strings.Cut(rest, "/")
	if !ok || inviteID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "accept":
		if err := a.svc.AcceptInvite(r.Context(), userID, inviteID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "invite.accepted", map[string]any{"invite_id": inviteID})
		w.WriteHeader(http.StatusNoContent)

	case "decline":
		if err := a.svc.DeclineInvite(r.Context(), userID, inviteID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "invite.declined", map[string]any{"invite_id": inviteID})
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listInvites(w http.ResponseWriter, r *http.Request, userID string) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	invites, total, err := a.svc.ListInvites(r.Context(), userID, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if invites == nil {
		invites = []todo.Invite{}
	}
	writeJSON(w, http.StatusOK, newPageResponse(invites, len(invites), total, page))
}

func (a *API) createInvite(w http.ResponseWriter, r *http.Request, userID string) {
	todoID := strings.TrimSpace(r.URL.Query().Get("todo_id"))
	phone := strings.TrimSpace(r.URL.Query().Get("user_phone"))
	if todoID == "" || phone == "" {
		writeError(w, r, http.StatusBadRequest, "todo_id and user_phone are required")
		return
	}

	inv, err := a.svc.CreateInvite(r.Context(), userID, todoID, phone)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invite.created", map[string]any{
		"invite_id": inv.ID,
		"todo_id":   todoID,
	})
	writeJSON(w, http.StatusCreated, inv)
}
