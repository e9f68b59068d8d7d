package model

import "errors"

var (
	// ErrInvalidInput marks bad caller data. Not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable marks a collaborator that is unconfigured or unreachable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrUpstream marks a collaborator that responded with a failure.
	ErrUpstream = errors.New("upstream error")

	// ErrNotFound marks a missing record or one owned by another user.
	ErrNotFound = errors.New("not found")
)
