// Package apperrors holds the error taxonomy shared by the account core and
// its mapping onto HTTP responses.
package apperrors

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated is returned for missing, malformed or expired credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the identity lacks the required role or entitlement.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedPayload is returned when a verified webhook body cannot be parsed.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUpstreamUnavailable is returned when the payment gateway failed transiently.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound is returned when a referenced user or subscription is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for uniqueness violations and lost compare-and-set races.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput is returned for request values rejected by validation.
	ErrInvalidInput = errors.New("invalid input")
)

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Response converts the error into its JSON body.
func (e *HTTPError) Response() ErrorResponse {
	return ErrorResponse{Error: e.Message, Code: e.Code}
}

// New creates a new HTTP error.
func New(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// FromError maps domain errors to HTTP errors. Unknown errors become 500 so
// that webhook deliveries failing on storage are retried by the provider.
func FromError(err error) *HTTPError {
	var he *HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrUnauthenticated):
		return New(http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, ErrForbidden):
		return New(http.StatusForbidden, "forbidden", "insufficient permissions")
	case errors.Is(err, ErrInvalidSignature):
		return New(http.StatusBadRequest, "invalid_signature", "invalid signature")
	case errors.Is(err, ErrMalformedPayload):
		return New(http.StatusBadRequest, "malformed_payload", "malformed payload")
	case errors.Is(err, ErrInvalidInput):
		return New(http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, ErrNotFound):
		return New(http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, ErrConflict):
		return New(http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ErrUpstreamUnavailable):
		return New(http.StatusServiceUnavailable, "upstream_unavailable", "payment provider unavailable, retry later")
	default:
		return New(http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
