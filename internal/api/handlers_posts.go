package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/internal/recommend"
)

// GetBatch handles GET /api/posts/batch?count=3&exclude=1,2,3
// An exhausted pool is a 200 with an empty posts list.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "INVALID_COUNT", "count must be an integer", nil)
			return
		}
		count = n
	}
	exclude := parseIDs(r.URL.Query().Get("exclude"))

	batch, err := h.dispatcher.GetBatch(r.Context(), exclude, count)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "SELECTION_FAILED", "Failed to select posts", err)
		return
	}
	respondOK(w, r, batch)
}

// GetNext handles GET /api/posts/next?exclude=1,2,3
func (h *Handler) GetNext(w http.ResponseWriter, r *http.Request) {
	exclude := parseIDs(r.URL.Query().Get("exclude"))

	entry, err := h.dispatcher.GetNext(r.Context(), exclude)
	if errors.Is(err, recommend.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "NO_POSTS", "No more posts available", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "SELECTION_FAILED", "Failed to select a post", err)
		return
	}
	respondOK(w, r, entry)
}

// EntryDetails handles GET /api/entry/{id}
func (h *Handler) EntryDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid entry id", nil)
		return
	}

	exists, err := h.db.EntryExists(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to load entry", err)
		return
	}
	if !exists {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Entry not found", nil)
		return
	}

	details, err := h.db.GetEntryDetails(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to load entry details", err)
		return
	}
	respondOK(w, r, details)
}

// Stats handles GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetStats(r.Context(), startOfDay(h.now()))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to load stats", err)
		return
	}
	stats.Scorer = h.registry.Name()
	respondOK(w, r, stats)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
