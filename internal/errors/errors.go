// Package errors provides error handling for the query layer.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marks that keep a classification through arbitrary wrapping
//
// Usage:
//
//	// Wrap with context
//	if err := db.Find(&jobs).Error; err != nil {
//	    return errors.Wrap(err, "failed to load jobs")
//	}
//
//	// Classify a driver failure without losing its message
//	return errors.MarkUpstream(err, "bulk fetch jobs")
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Common sentinel errors for use across the query layer.
// Wrap or Mark these to add context while preserving the classification.
var (
	// ErrNotFound indicates the requested entity does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrUnauthorized indicates the request lacks an authenticated subject
	ErrUnauthorized = New("unauthorized")

	// ErrForbidden indicates the subject is not allowed to perform the operation
	ErrForbidden = New("forbidden")

	// ErrUpstream indicates the data store or cache backend failed systemically
	ErrUpstream = New("upstream unavailable")
)

// MarkUpstream marks err as a systemic upstream failure. The returned error
// keeps err's message and stack and matches ErrUpstream under Is.
func MarkUpstream(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrUpstream)
}

// IsUpstream checks if an error is or wraps ErrUpstream
func IsUpstream(err error) bool {
	return err != nil && Is(err, ErrUpstream)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// NewForbiddenError creates a forbidden error with a formatted message
func NewForbiddenError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrForbidden)
}
