package apperrors

import "errors"

var (
	ErrNoScope        = errors.New("no database scope in context")
	ErrRemoteNotFound = errors.New("remote resource not found")
	ErrMalformedDoc   = errors.New("malformed remote document")
)
