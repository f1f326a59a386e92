package api

import (
	"net/http"

	"github.com/erazemk/podari/internal/apperr"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/workflow"
)

// MeHandler serves the caller's own profile, ledger and notifications.
type MeHandler struct {
	Workflow *workflow.Service
}

// Profile handles GET /api/me.
func (h *MeHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.Workflow.Profile(r.Context(), GetPrincipal(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, user)
}

// Ledger handles GET /api/me/ledger.
func (h *MeHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Workflow.Ledger(r.Context(), GetPrincipal(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}

// Notifications handles GET /api/me/notifications.
func (h *MeHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	list, err := h.Workflow.Notifications(r.Context(), GetPrincipal(r.Context()).UserID, unread)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	jsonResponse(w, http.StatusOK, list)
}

// MarkRead handles POST /api/me/notifications/{id}/read.
func (h *MeHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid notification id")
		return
	}
	if err := h.Workflow.MarkNotificationRead(r.Context(), GetPrincipal(r.Context()).UserID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/me/notifications/read-all.
func (h *MeHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Workflow.MarkAllNotificationsRead(r.Context(), GetPrincipal(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int64{"updated": n})
}
