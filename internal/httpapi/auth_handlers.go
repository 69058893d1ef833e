package httpapi

import (
	"net/http"

	"taskhive.org/internal/audit"
)

type loginCodeRequest struct {
	Phone phoneField `json:"phone"`
}

type loginRequest struct {
	Phone phoneField `json:"phone"`
	Code  string     `json:"code"`
}

func (a *API) handleLoginCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, known, err := a.svc.RequestLoginCode(r.Context(), string(req.Phone))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.code.requested", map[string]any{
		"phone": user.Phone,
		"known": known,
	})

	// The pre-login rendering never includes the account identifier.
	writeJSON(w, http.StatusOK, user.Public())
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.svc.Login(r.Context(), string(req.Phone), req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	token, err := a.codec.Mint(user.ID, a.cfg.SessionTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session creation failed")
		return
	}
	a.setSessionCookie(w, r, token)

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
	})

	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.clearSessionCookie(w, r)
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}
