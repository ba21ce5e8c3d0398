// Package execution runs GraphQL operations against a resolver map. It owns
// the request lifecycle: every resolver call is wrapped so that a failure
// becomes a classified, path-tagged error record while sibling fields keep
// resolving.
package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"gorm.io/gorm"
)

// ErrorKind is the closed taxonomy of resolver failures.
type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindValidation
	KindNotFound
	KindPermissionDenied
	KindUpstreamFailure
)

type kindPolicy struct {
	code string
	// verbatim kinds show the caller the error message; the others show
	// generic instead.
	verbatim bool
	generic  string
	// logged kinds are written to the log with full detail.
	logged bool
}

var policies = map[ErrorKind]kindPolicy{
	KindValidation:       {code: "VALIDATION", verbatim: true},
	KindNotFound:         {code: "NOT_FOUND", verbatim: true},
	KindPermissionDenied: {code: "PERMISSION_DENIED", verbatim: true},
	KindUpstreamFailure: {
		code:    "UPSTREAM_FAILURE",
		generic: "A backing service is temporarily unavailable",
		logged:  true,
	},
	KindUnexpected: {
		code:    "UNEXPECTED",
		generic: "An unexpected error occurred",
		logged:  true,
	},
}

func (k ErrorKind) policy() kindPolicy {
	if p, ok := policies[k]; ok {
		return p
	}
	return policies[KindUnexpected]
}

// Code is the stable machine code sent to callers.
func (k ErrorKind) Code() string { return k.policy().code }

// Logged reports whether failures of this kind are logged.
func (k ErrorKind) Logged() bool { return k.policy().logged }

func (k ErrorKind) String() string { return k.Code() }

// Error is a resolver failure with an explicit kind and caller-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError returns an *Error carrying a stack trace.
func NewError(kind ErrorKind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Classify maps an error onto the taxonomy.
func Classify(err error) ErrorKind {
	var typed *Error
	var invalid validator.ValidationErrors
	switch {
	case err == nil:
		return KindUnexpected
	case errors.As(err, &typed):
		return typed.Kind
	case errors.As(err, &invalid):
		return KindValidation
	case errors.Is(err, errors.ErrInvalidRequest):
		return KindValidation
	case errors.IsAny(err, errors.ErrForbidden, errors.ErrUnauthorized):
		return KindPermissionDenied
	case errors.IsAny(err, errors.ErrNotFound, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.IsAny(err, errors.ErrUpstream, context.DeadlineExceeded, context.Canceled):
		return KindUpstreamFailure
	default:
		return KindUnexpected
	}
}

// CallerMessage is the message a caller outside GraphQL may be shown for err.
func CallerMessage(err error) string {
	return callerMessage(Classify(err), err)
}

// callerMessage is what the caller is allowed to see for err.
func callerMessage(kind ErrorKind, err error) string {
	p := kind.policy()
	if !p.verbatim {
		return p.generic
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Message
	}
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		return validationMessage(invalid)
	}
	return err.Error()
}

func validationMessage(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}
