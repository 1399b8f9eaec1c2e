package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/podushkina/taskflow/internal/task"
)

var validate = validator.New()

type ErrorResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Message: message})
}

// respondErr maps an error kind to its status and generic message. With
// verbose set the error text is added as detail.
func respondErr(w http.ResponseWriter, err error, verbose bool) {
	status, message := classify(err)
	resp := ErrorResponse{Message: message}
	if verbose {
		resp.Detail = err.Error()
	}
	respondJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, task.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, task.ErrInvalid), errors.Is(err, task.ErrInvalidCommand):
		return http.StatusBadRequest, "invalid"
	default:
		return http.StatusInternalServerError, "unexpected"
	}
}

// decodeStrict decodes a single JSON object into dst, rejecting unknown
// fields, then runs struct validation.
func decodeStrict(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", task.ErrInvalid, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after body", task.ErrInvalid)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalid, err)
	}
	return nil
}
