package v1

import "errors"

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeNoCredential   = "no_credential"
	CodeRateLimited    = "rate_limited"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// Common client errors, returned by Client when the server answers with
// the matching code.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("caller identity required")
	ErrNotFound       = errors.New("resource not found")
	ErrNoCredential   = errors.New("no credential for caller")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnavailable    = errors.New("service unavailable")
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Err maps the response code to a client error.
func (e ErrorResponse) Err() error {
	var base error
	switch e.Code {
	case CodeInvalidRequest:
		base = ErrInvalidRequest
	case CodeUnauthorized:
		base = ErrUnauthorized
	case CodeNotFound:
		base = ErrNotFound
	case CodeNoCredential:
		base = ErrNoCredential
	case CodeRateLimited:
		base = ErrRateLimited
	case CodeUnavailable:
		base = ErrUnavailable
	default:
		return errors.New(e.Message)
	}
	if e.Message == "" {
		return base
	}
	return &apiError{base: base, msg: e.Message}
}

type apiError struct {
	base error
	msg  string
}

func (e *apiError) Error() string { return e.msg }
func (e *apiError) Unwrap() error { return e.base }
