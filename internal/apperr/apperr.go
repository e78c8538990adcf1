// Package apperr defines the error taxonomy shared by the control loop.
//
// Components return *Error values (possibly wrapped with fmt.Errorf %w);
// callers inspect them with the predicate functions rather than asserting
// on the type directly. CodeOf maps any error to the wire code reported by
// the engine facade.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Wire codes reported by the engine facade.
const (
	CodeMissingFields      = "MISSING_FIELDS"
	CodeMissingSourceAgent = "MISSING_SOURCE_AGENT"
	CodeBehaviorDisabled   = "BEHAVIOR_DISABLED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeExecutionFailed    = "EXECUTION_FAILED"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodePersistence        = "PERSISTENCE_ERROR"
	CodeInternal           = "INTERNAL"
)

// Error is a classified failure.
type Error struct {
	kind    Kind
	code    string
	op      string
	message string
	err     error
}

func (e *Error) Error() string {
	msg := e.message
	if msg == "" && e.err != nil {
		msg = e.err.Error()
	} else if e.err != nil {
		msg = msg + ": " + e.err.Error()
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %s", e.op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the wire code.
func (e *Error) Code() string { return e.code }

// Op returns a short description of the operation that failed.
func (e *Error) Op() string { return e.op }

// Validation reports missing or malformed input, rejected before any side effect.
func Validation(code, format string, args ...any) *Error {
	if code == "" {
		code = CodeInvalidInput
	}
	return &Error{kind: KindValidation, code: code, message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown agent, behavior, or link.
func NotFound(entity, id string) *Error {
	return &Error{kind: KindNotFound, code: CodeNotFound, message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Upstream wraps a provider failure.
func Upstream(op string, err error) *Error {
	return &Error{kind: KindUpstream, code: CodeUpstream, op: op, err: err}
}

// Persistence wraps a store read or write failure.
func Persistence(op string, err error) *Error {
	return &Error{kind: KindPersistence, code: CodePersistence, op: op, err: err}
}

// WithCode returns a copy of e carrying a more specific wire code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.code = code
	return &cp
}

// KindOf returns the classification of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// CodeOf returns the wire code for err; the empty string for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.code != "" {
		return e.code
	}
	return CodeInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsUpstream reports whether err is a provider failure.
func IsUpstream(err error) bool { return KindOf(err) == KindUpstream }

// IsPersistence reports whether err is a store failure.
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }
