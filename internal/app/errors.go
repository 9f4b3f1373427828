package app

import "errors"

// Error kinds translated to HTTP statuses at the server boundary.
// Remote-service errors are collapsed to one of these here so that
// provider exception types never leak past the service layer.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrServiceFailure = errors.New("service failure")
)
