// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package apperr

import (
	"errors"
	"strings"
)

// Kind classifies a failure for callers that need to decide how to render or
// retry it. Classification never depends on message text.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	Unauthenticated
	Forbidden
	Validation
	AlreadyVoted
	PartialSuccess
	Transport
	Connectivity
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Validation:
		return "validation_error"
	case AlreadyVoted:
		return "already_voted"
	case PartialSuccess:
		return "partial_success"
	case Transport:
		return "transport_error"
	case Connectivity:
		return "connectivity_warning"
	default:
		return "unknown"
	}
}

// Retryable reports whether resubmitting the same operation can succeed.
func (k Kind) Retryable() bool {
	return k == Transport || k == Connectivity
}

// Error is a classified failure. Msg is safe to show to end users; Err holds
// the underlying cause for logs.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error without an underlying cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// E returns a classified error wrapping err.
func E(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message carried by err, falling back to a
// generic text for unclassified errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "Unexpected error"
}
