package httpapi

import (
	"net/http"
	"strings"

	"taskhive.org/internal/audit"
	"taskhive.org/internal/auth"
	"taskhive.org/internal/todo"
)

func (a *API) handleTodosCollection(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.listTodos(w, r, userID)
	case http.MethodPost:
		a.createTodo(w, r, userID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTodoResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "authentication required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/todos/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, err := a.svc.GetTodo(r.Context(), userID, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)

	case http.MethodPut:
		var upd todo.TodoUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		t, err := a.svc.UpdateTodo(r.Context(), userID, id, upd)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)

	case http.MethodDelete:
		if err := a.svc.DeleteTodo(r.Context(), userID, id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "todo.deleted", map[string]any{"todo_id": id})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listTodos(w http.ResponseWriter, r *http.Request, userID string) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	todos, total, err := a.svc.ListTodos(r.Context(), userID, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if todos == nil {
		todos = []todo.Todo{}
	}
	writeJSON(w, http.StatusOK, newPageResponse(todos, len(todos), total, page))
}

func (a *API) createTodo(w http.ResponseWriter, r *http.Request, userID string) {
	var req todo.TodoCreate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	t, err := a.svc.CreateTodo(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "todo.created", map[string]any{"todo_id": t.ID})
	w.Header().Set("Location", "/api/v1/todos/"+t.ID)
	writeJSON(w, http.StatusCreated, t)
}
