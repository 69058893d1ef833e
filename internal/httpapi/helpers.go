package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"taskhive.org/internal/auth"
	"taskhive.org/internal/todo"
)

// pageResponse is the envelope wrapping every paginated listing.
type pageResponse struct {
	Data  any `json:"data"`
	Count int `json:"count"`
	Total int `json:"total"`
	Limit int `json:"limit"`
	Skip  int `json:"skip"`
}

func newPageResponse(data any, count, total int, page todo.Page) pageResponse {
	return pageResponse{
		Data:  data,
		Count: count,
		Total: total,
		Limit: page.Limit,
		Skip:  page.Skip,
	}
}

func parsePage(r *http.Request) (todo.Page, error) {
	page := todo.Page{Limit: 100}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			return todo.Page{}, errors.New("limit must be between 1 and 1000")
		}
		page.Limit = v
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("skip")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return todo.Page{}, errors.New("skip must be a non-negative integer")
		}
		page.Skip = v
	}
	return page, nil
}

// phoneField accepts both `"phone": "+7 999..."` and `"phone": 79990001122`.
type phoneField string

func (p *phoneField) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = phoneField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("phone must be a string or a number")
	}
	*p = phoneField(n.String())
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, todo.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, todo.ErrDuplicateInvite), errors.Is(err, todo.ErrAlreadyMember):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, todo.ErrEmptyMembers),
		errors.Is(err, todo.ErrUnknownMember),
		errors.Is(err, todo.ErrInvalidPhone),
		errors.Is(err, todo.ErrInvalidCode),
		errors.Is(err, todo.ErrUserDisabled),
		errors.Is(err, todo.ErrInvalidStatus),
		errors.Is(err, todo.ErrTitleRequired),
		errors.Is(err, todo.ErrCodeDelivery):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusForbidden, "invalid session")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
