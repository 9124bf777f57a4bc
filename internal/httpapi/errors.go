package httpapi

import (
	"errors"
	"net/http"

	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/record"
)

// HTTPError is an error with the status code and client-facing message
// to render for it.
type HTTPError struct {
	// Err is the underlying error, logged but never exposed.
	Err error

	Message   string
	ErrorCode string
	Code      int
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func newHTTPError(code int, errorCode, message string, err error) *HTTPError {
	return &HTTPError{Code: code, ErrorCode: errorCode, Message: message, Err: err}
}

func errBadRequest(message string, err error) *HTTPError {
	return newHTTPError(http.StatusBadRequest, "bad_request", message, err)
}

// toHTTPError maps engine errors to responses. Unknown errors become 500.
func toHTTPError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case errors.Is(err, record.ErrNotFound):
		return newHTTPError(http.StatusNotFound, "not_found", "send not found", err)
	case errors.Is(err, record.ErrNotCancellable):
		return newHTTPError(http.StatusConflict, "not_cancellable", "send can no longer be cancelled", err)
	case errors.Is(err, record.ErrInvalidRecipient), errors.Is(err, consent.ErrInvalidEmail):
		return newHTTPError(http.StatusUnprocessableEntity, "invalid_recipient", "recipient is not a valid email address", err)
	case errors.Is(err, record.ErrInvalidRequest):
		return newHTTPError(http.StatusUnprocessableEntity, "invalid_request", "request is missing required fields", err)
	case errors.Is(err, record.ErrInvalidFeedback):
		return newHTTPError(http.StatusUnprocessableEntity, "invalid_feedback", "feedback kind must be bounce or complaint", err)
	default:
		return newHTTPError(http.StatusInternalServerError, "internal", http.StatusText(http.StatusInternalServerError), err)
	}
}
