// Package httpx is the single place HTTP handlers translate service-layer
// errors to status codes, the "translate only at the edge" discipline
// applied consistently everywhere errors.Is checks a sentinel before
// falling back to 500.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dom/ingest-pipeline/internal/apperr"
)

func JSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// Error maps a service-layer error to the appropriate status code and
// writes a uniform {"error": "..."} body.
func Error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrAuthInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrAmbiguousIdentifier):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrChunkHashMismatch), errors.Is(err, apperr.ErrOverallHashMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrStaleState):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrConversionFailed):
		status = http.StatusInternalServerError
	}
	JSON(w, status, errorBody{Error: err.Error()})
}
