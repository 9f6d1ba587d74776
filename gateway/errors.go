// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Kind is the structured classification of a storage failure.
type Kind int

const (
	KindTransport Kind = iota
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "transport"
	}
}

// pgUniqueViolation is the Postgres SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Error is returned by every store operation that fails. Code carries the
// driver's native error code when one is available.
type Error struct {
	Kind Kind
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s: %s (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a gateway not-found error.
func IsNotFound(err error) bool { return err != nil && kindOf(err) == KindNotFound }

// IsConflict reports whether err is a uniqueness violation.
func IsConflict(err error) bool { return err != nil && kindOf(err) == KindConflict }

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// classify wraps a driver error. Classification is by error code only.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		kind := KindTransport
		if pqErr.Code == pgUniqueViolation {
			kind = KindConflict
		}
		return &Error{Kind: kind, Op: op, Code: string(pqErr.Code), Err: err}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		kind := KindTransport
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			kind = KindConflict
		}
		return &Error{Kind: kind, Op: op, Code: fmt.Sprint(liteErr.Code()), Err: err}
	}

	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func notFound(op string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: sql.ErrNoRows}
}
