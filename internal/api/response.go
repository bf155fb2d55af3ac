package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/thomaskoefod/cardreadr/internal/logging"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Status    string    `json:"status"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, response *Response) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	respondStatus(w, r, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, r *http.Request, status int, data any) {
	respondJSON(w, status, &Response{
		Status:    "success",
		Data:      data,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// respondError writes an error envelope. err, when set, is logged but never sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	reqID := middleware.GetReqID(r.Context())
	if err != nil {
		ev := logging.Warn()
		if status >= http.StatusInternalServerError {
			ev = logging.Error()
		}
		ev.Err(err).Str("code", code).Str("request_id", reqID).Str("path", r.URL.Path).Msg("API error")
	}

	respondJSON(w, status, &Response{
		Status:    "error",
		Error:     &APIError{Code: code, Message: message},
		RequestID: reqID,
	})
}

// parseIDs reads a comma-separated id list. Tokens that are not positive
// integers are ignored.
func parseIDs(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, tok := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
