package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/podari/internal/apperr"
	"github.com/erazemk/podari/internal/imaging"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/workflow"
)

// ItemsHandler handles the item lifecycle endpoints.
type ItemsHandler struct {
	Workflow *workflow.Service
}

type reviewRequest struct {
	Decision string `json:"decision"`
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ItemFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
	}
	if f.Status != "" && !model.ValidItemStatus(f.Status) {
		jsonError(w, apperr.CodeValidation, "unknown status")
		return
	}
	if f.Category != "" {
		canonical, ok := model.CanonicalCategory(f.Category)
		if !ok {
			jsonError(w, apperr.CodeValidation, "unknown category")
			return
		}
		f.Category = canonical
	}
	if v := q.Get("donor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			jsonError(w, apperr.CodeValidation, "invalid donor_id")
			return
		}
		f.DonorID = id
	}

	items := []model.Item{}
	for item, err := range h.Workflow.ListItems(r.Context(), workflow.VisibleFilter(viewer(r), f)) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		items = append(items, item)
	}
	jsonResponse(w, http.StatusOK, items)
}

// Submit handles POST /api/items.
func (h *ItemsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var draft model.ItemDraft
	if err := decodeJSON(r, &draft); err != nil {
		jsonError(w, apperr.CodeValidation, "invalid request body")
		return
	}

	item, err := h.Workflow.Submit(r.Context(), GetPrincipal(r.Context()).UserID, draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid item id")
		return
	}

	item, err := h.Workflow.GetItem(r.Context(), viewer(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Review handles POST /api/items/{id}/review.
func (h *ItemsHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid item id")
		return
	}

	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, apperr.CodeValidation, "invalid request body")
		return
	}

	item, err := h.Workflow.Review(r.Context(), GetPrincipal(r.Context()).UserID, id, req.Decision)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Redeem handles POST /api/items/{id}/redeem.
func (h *ItemsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid item id")
		return
	}

	item, err := h.Workflow.Redeem(r.Context(), GetPrincipal(r.Context()).UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// UploadImage handles PUT /api/items/{id}/images.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid item id")
		return
	}

	// Leave room for the multipart envelope.
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, apperr.CodeValidation, "image is too large")
			return
		}
		jsonError(w, apperr.CodeValidation, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, apperr.CodeValidation, "image file required")
		return
	}
	defer file.Close()

	item, err := h.Workflow.AddImage(r.Context(), viewer(r), id, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// GetImage handles GET /api/items/{id}/images/{n}.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, apperr.CodeValidation, "invalid item id")
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 0 {
		jsonError(w, apperr.CodeValidation, "invalid image position")
		return
	}

	img, err := h.Workflow.Image(r.Context(), viewer(r), id, n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if img.URL != "" {
		http.Redirect(w, r, img.URL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", img.MIME)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(img.Data)
}
