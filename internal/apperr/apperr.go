// Package apperr holds the error taxonomy shared by the enrollment engine and its
// mapping to HTTP status codes and stable error codes.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned when a draft, intent or schema does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTamper is returned when a sealed token fails verification.
	ErrTamper = errors.New("token signature mismatch")
	// ErrPlanNotFound is returned when no priceable plan exists for an entity.
	ErrPlanNotFound = errors.New("registration not yet configured")
	// ErrUnauthorized is returned when a verified principal is required but absent.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned for illegal state transitions such as a second finalize.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid input")
)

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrTamper):
		return "TAMPER"
	case errors.Is(err, ErrPlanNotFound):
		return "PLAN_NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInvalid):
		return "INVALID_INPUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "NOT_FOUND":
		return http.StatusNotFound
	case "TAMPER":
		return http.StatusBadRequest
	case "PLAN_NOT_FOUND":
		return http.StatusUnprocessableEntity
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "CONFLICT":
		return http.StatusConflict
	case "INVALID_INPUT":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns text that is safe to show to the end user.
func Message(err error) string {
	switch Code(err) {
	case "INTERNAL_ERROR":
		return "internal error"
	case "PLAN_NOT_FOUND":
		return ErrPlanNotFound.Error()
	case "TAMPER":
		return "payment link is invalid or expired"
	default:
		return err.Error()
	}
}
