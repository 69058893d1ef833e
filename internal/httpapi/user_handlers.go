package httpapi

import (
	"net/http"

	"taskhive.org/internal/audit"
	"taskhive.org/internal/auth"
	"taskhive.org/internal/todo"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := a.svc.GetUser(r.Context(), userID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)

	case http.MethodPatch:
		var upd todo.UserUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.UpdateUser(r.Context(), userID, upd)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)

	case http.MethodDelete:
		if err := a.svc.DeleteUser(r.Context(), userID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.clearSessionCookie(w, r)
		_ = audit.LogEvent(r.Context(), "user.deleted", nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}
