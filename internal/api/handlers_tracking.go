package api

import (
	"errors"
	"net/http"

	"github.com/thomaskoefod/cardreadr/internal/tracking"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

type voteRequest struct {
	EntryID int64       `json:"entry_id"`
	Vote    models.Vote `json:"vote"`
}

type openRequest struct {
	EntryID int64 `json:"entry_id"`
}

type timeRequest struct {
	EntryID int64 `json:"entry_id"`
	Seconds int   `json:"seconds"`
}

// Vote handles POST /api/vote
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	if !h.requireEntry(w, r, req.EntryID) {
		return
	}

	err := h.recorder.RecordVote(r.Context(), req.EntryID, req.Vote)
	if errors.Is(err, tracking.ErrInvalidVote) {
		respondError(w, r, http.StatusBadRequest, "INVALID_VOTE", "vote must be like, neutral or dislike", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to record vote", err)
		return
	}
	respondOK(w, r, models.VoteRecord{EntryID: req.EntryID, Vote: req.Vote, VotedAt: h.now().UTC()})
}

// Open handles POST /api/open
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	if !h.requireEntry(w, r, req.EntryID) {
		return
	}

	if err := h.recorder.RecordOpen(r.Context(), req.EntryID); err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to record open", err)
		return
	}
	respondOK(w, r, map[string]int64{"entry_id": req.EntryID})
}

// Time handles POST /api/time. Durations under a second are accepted and dropped.
func (h *Handler) Time(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	if !h.requireEntry(w, r, req.EntryID) {
		return
	}

	recorded, err := h.recorder.RecordTime(r.Context(), req.EntryID, req.Seconds)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to record time", err)
		return
	}
	respondOK(w, r, map[string]any{"entry_id": req.EntryID, "recorded": recorded})
}

// requireEntry writes a 400 or 404 and returns false unless id names a stored entry.
func (h *Handler) requireEntry(w http.ResponseWriter, r *http.Request, id int64) bool {
	if id <= 0 {
		respondError(w, r, http.StatusBadRequest, "MISSING_ENTRY_ID", "entry_id is required", nil)
		return false
	}
	exists, err := h.db.EntryExists(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DB_ERROR", "Failed to look up entry", err)
		return false
	}
	if !exists {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Entry not found", nil)
		return false
	}
	return true
}
