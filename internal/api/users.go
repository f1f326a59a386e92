package api

import (
	"net/http"

	"github.com/erazemk/podari/internal/apperr"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/workflow"
)

// UsersHandler handles the administrator endpoints.
type UsersHandler struct {
	Workflow *workflow.Service
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.Workflow.Users(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// SetRole handles PUT /api/users/{id}/role.
func (h *UsersHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid user id")
		return
	}

	var req setRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, apperr.CodeValidation, "invalid request body")
		return
	}

	user, err := h.Workflow.SetRole(r.Context(), GetPrincipal(r.Context()).UserID, id, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, user)
}

// Reconcile handles GET /api/users/{id}/reconcile.
func (h *UsersHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid user id")
		return
	}

	rec, err := h.Workflow.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

// Stats handles GET /api/stats.
func (h *UsersHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Workflow.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}
