// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/freightledger/ledger/internal/shared"
)

// Sentinel errors for transport concerns that are not ledger failures.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("malformed request")
)

// RespondError maps ledger errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if lerr, ok := shared.AsError(err); ok {
		status, title := statusFor(lerr.Kind)
		JSON(w, status, ProblemDetail{
			Type:   "urn:freight-ledger:" + string(lerr.Kind),
			Title:  title,
			Status: status,
			Detail: lerr.Message,
			Entity: lerr.Entity,
			ID:     lerr.ID,
			Rule:   lerr.Rule,
		})
		return
	}
	switch {
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func statusFor(kind shared.Kind) (int, string) {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest, "Validation Failed"
	case shared.KindNotFound:
		return http.StatusNotFound, "Not Found"
	case shared.KindConflict:
		return http.StatusConflict, "Conflict"
	case shared.KindInvalidTransition:
		return http.StatusConflict, "Invalid State Transition"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
