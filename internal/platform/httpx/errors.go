// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
)

// RespondError maps generic errors to HTTP responses using RFC7807. Handlers
// translate their domain errors first and fall back to this.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrLockTimeout):
		Problem(w, http.StatusConflict, "Conflict", "another request is updating the same records, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "the request took too long to complete")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
