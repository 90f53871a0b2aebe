package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/entrhq/browsepilot/pkg/types"
)

const maxBodyBytes = 1 << 20

// Response is the envelope of every control-surface reply.
type Response struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Done    *bool  `json:"done,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondOK(w http.ResponseWriter, result any, done *bool) {
	respondJSON(w, http.StatusOK, Response{Success: true, Result: result, Done: done})
}

// respondError writes err with the status its kind maps to. result carries
// partial state for failed runs.
func respondError(w http.ResponseWriter, err error, result any) {
	respondJSON(w, StatusFor(err), Response{Success: false, Error: err.Error(), Result: result})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func notFound(format string, args ...any) error {
	return &httpError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return types.NewTaskError(types.ErrInvalidRequest, "decode", "request body required", nil)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &httpError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("request body too large (max %d bytes)", maxBodyBytes)}
		case errors.Is(err, io.EOF):
			return types.NewTaskError(types.ErrInvalidRequest, "decode", "request body required", nil)
		default:
			return types.NewTaskError(types.ErrInvalidRequest, "decode", "malformed request body", err)
		}
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
