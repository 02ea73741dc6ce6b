package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps the domain error taxonomy to RFC7807 responses.
// Validation failures are the caller's malformed input (400); rule failures
// are well-formed requests the ledger's invariants reject (422).
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case shared.IsValidation(err):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.IsRule(err):
		Problem(w, http.StatusUnprocessableEntity, "Rule Violation", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
