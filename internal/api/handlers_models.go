package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thomaskoefod/cardreadr/internal/scoring"
)

const maxModelSize = 10 << 20

// ListModels handles GET /api/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	status, err := h.models.Status(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to list models", err)
		return
	}
	respondOK(w, r, status)
}

// UploadModel handles POST /api/models with a multipart "file" and optional "name".
func (h *Handler) UploadModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxModelSize)
	if err := r.ParseMultipartForm(maxModelSize); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_UPLOAD", "Expected a multipart upload", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "MISSING_FILE", "No model file provided", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_UPLOAD", "Failed to read model file", err)
		return
	}

	rec, err := h.models.Upload(r.Context(), r.FormValue("name"), header.Filename, data)
	if errors.Is(err, scoring.ErrInvalidModel) {
		respondError(w, r, http.StatusBadRequest, "INVALID_MODEL", err.Error(), nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "UPLOAD_FAILED", "Failed to store model", err)
		return
	}
	respondStatus(w, r, http.StatusCreated, rec)
}

// ActivateModel handles POST /api/models/{id}/activate
func (h *Handler) ActivateModel(w http.ResponseWriter, r *http.Request) {
	id, ok := modelID(w, r)
	if !ok {
		return
	}

	err := h.models.Activate(r.Context(), id)
	switch {
	case isNotFound(err):
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Model not found", nil)
	case errors.Is(err, scoring.ErrInvalidModel):
		respondError(w, r, http.StatusUnprocessableEntity, "INVALID_MODEL", err.Error(), nil)
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "ACTIVATE_FAILED", "Failed to activate model", err)
	default:
		respondOK(w, r, map[string]any{"active_model_id": id, "scorer": h.registry.Name()})
	}
}

// DeactivateModel handles POST /api/models/deactivate
func (h *Handler) DeactivateModel(w http.ResponseWriter, r *http.Request) {
	if err := h.models.Deactivate(r.Context()); err != nil {
		respondError(w, r, http.StatusInternalServerError, "DEACTIVATE_FAILED", "Failed to deactivate model", err)
		return
	}
	respondOK(w, r, map[string]string{"scorer": h.registry.Name()})
}

// DeleteModel handles DELETE /api/models/{id}
func (h *Handler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	id, ok := modelID(w, r)
	if !ok {
		return
	}

	err := h.models.Delete(r.Context(), id)
	switch {
	case isNotFound(err):
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Model not found", nil)
	case errors.Is(err, scoring.ErrActiveModel):
		respondError(w, r, http.StatusConflict, "MODEL_ACTIVE", "Deactivate the model before deleting it", nil)
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete model", err)
	default:
		respondOK(w, r, map[string]int64{"deleted": id})
	}
}

func modelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid model id", nil)
		return 0, false
	}
	return id, true
}
