package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/deficit"
	"github.com/sells-group/hexspot/internal/model"
	"github.com/sells-group/hexspot/internal/pipeline"
	"github.com/sells-group/hexspot/internal/store"
)

// ErrorResponse is the error body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errBadRequest marks client input that failed to decode or validate.
var errBadRequest = eris.New("bad request")

// engineErrors are the analysis failure kinds a caller can fix by changing
// the data or selection.
var engineErrors = []error{
	model.ErrEmptySelection,
	model.ErrDegenerateColumn,
	model.ErrDegenerateScore,
	model.ErrEmptyExtent,
	model.ErrResolutionMismatch,
	model.ErrMissingFeatureData,
	model.ErrEmptyNeighborhood,
	model.ErrUnknownFeature,
	model.ErrInvalidWeight,
	model.ErrInvalidCell,
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, pipeline.ErrInvalidRequest), errors.Is(err, deficit.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	for _, e := range engineErrors {
		if errors.Is(err, e) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Code: http.StatusText(status), Message: msg})
}

// writeError maps err to a status. Internal errors are logged and their
// detail withheld.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeMessage(w, status, "internal error")
		return
	}
	writeMessage(w, status, err.Error())
}
