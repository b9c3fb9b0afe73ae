// Package failure holds the error taxonomy shared by the listing, fetch and
// reader layers. Every failure surfaced to a caller is a *Error carrying one
// Kind; the core never retries, so callers decide what to do per Kind.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// Network means the transport failed and no response was received.
	Network Kind = iota + 1
	// HTTPError means the server answered a range read with an error status.
	HTTPError
	// Auth is a 401/403 answer, kept apart so callers can prompt for credentials.
	Auth
	// ParseError means a listing body could not be decoded.
	ParseError
	// UnexpectedStatus means a listing got a status other than 207.
	UnexpectedStatus
	// Invalid means the caller passed a malformed request.
	Invalid
	// Cancelled means the caller aborted before completion.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case HTTPError:
		return "http"
	case Auth:
		return "auth"
	case ParseError:
		return "parse"
	case UnexpectedStatus:
		return "unexpected-status"
	case Invalid:
		return "invalid"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

type Error struct {
	Kind   Kind
	Status int
	Op     string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Invalidf builds an Invalid error for a malformed caller request.
func Invalidf(op, format string, args ...any) *Error {
	return &Error{Kind: Invalid, Op: op, Err: fmt.Errorf(format, args...)}
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// FromStatus classifies an error status from a range fetch.
func FromStatus(op, path string, status int) *Error {
	kind := HTTPError
	if isAuthStatus(status) {
		kind = Auth
	}
	return &Error{Kind: kind, Op: op, Path: path, Status: status, Err: errors.New(http.StatusText(status))}
}

// FromListingStatus classifies a non-207 answer to a directory listing.
func FromListingStatus(op, path string, status int) *Error {
	kind := UnexpectedStatus
	if isAuthStatus(status) {
		kind = Auth
	}
	return &Error{Kind: kind, Op: op, Path: path, Status: status, Err: errors.New(http.StatusText(status))}
}

// FromTransport classifies an error returned by the transport (no response
// or a broken body). Already classified errors pass through unchanged.
func FromTransport(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return New(Cancelled, op, path, err)
	}
	return New(Network, op, path, err)
}

// KindOf reports the Kind of err, or 0 if err is not a classified failure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}
