package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError translates the storage and lifecycle sentinels into HTTP
// status codes: validation 400, unknown records 404, write races and
// duplicates 409, business-rule rejections 422.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateKey),
		errors.Is(err, storage.ErrVersionConflict),
		errors.Is(err, storage.ErrDistributionInFlight):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrInsufficientSupply),
		errors.Is(err, storage.ErrInsufficientSellable),
		errors.Is(err, storage.ErrInsufficientListing),
		errors.Is(err, storage.ErrListingClosed),
		errors.Is(err, storage.ErrTradingHalted),
		errors.Is(err, storage.ErrInvariantViolation),
		errors.Is(err, lifecycle.ErrIllegalTransition):
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
