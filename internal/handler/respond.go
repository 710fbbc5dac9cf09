package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error maps domain errors to status codes. Unknown errors are logged and
// reported as 500 without detail.
func Error(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		validation *appErrors.ErrValidation
		status     *appErrors.ErrInvalidStatus
	)
	switch {
	case appErrors.IsNotFound(err):
		JSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &validation):
		JSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &status):
		JSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// IntParam reads a positive integer URL parameter.
func IntParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		return 0, appErrors.NewValidation(name, "must be a positive integer")
	}
	return v, nil
}
