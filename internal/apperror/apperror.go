// Package apperror provides a coded, parent-chaining error type used across
// the server in place of ad-hoc error wrapping.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error the way the C source's error kinds (§7) do:
// a small fixed vocabulary the core switches on, rather than string matching.
type Code int

const (
	Unknown Code = iota
	ConfigError
	ListenError
	AcceptError
	RequestParseError
	NotFound
	NotModified
	HandlerError
	RelayError
	ResourceExhaustion
)

func (c Code) String() string {
	switch c {
	case ConfigError:
		return "config_error"
	case ListenError:
		return "listen_error"
	case AcceptError:
		return "accept_error"
	case RequestParseError:
		return "request_parse_error"
	case NotFound:
		return "not_found"
	case NotModified:
		return "not_modified"
	case HandlerError:
		return "handler_error"
	case RelayError:
		return "relay_error"
	case ResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "unknown"
	}
}

// Error is a coded error that may wrap a parent error, forming a chain that
// survives across package boundaries (session store → relay client → wire
// codec, for example) without collapsing into a flat string.
type Error struct {
	code   Code
	msg    string
	parent error
}

// New creates a coded error with the given message.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error chained to parent. If parent is nil, Wrap
// returns nil — this lets call sites write `return apperror.Wrap(..., err)`
// without a separate nil check.
func Wrap(code Code, msg string, parent error) *Error {
	if parent == nil {
		return nil
	}
	return &Error{code: code, msg: msg, parent: parent}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.code.String())
	if e.msg != "" {
		b.WriteString(": ")
		b.WriteString(e.msg)
	}
	if e.parent != nil {
		b.WriteString(" <- ")
		b.WriteString(e.parent.Error())
	}
	return b.String()
}

// Unwrap gives errors.Is/errors.As access to the parent chain.
func (e *Error) Unwrap() error {
	return e.parent
}

// Code returns the error's own code (not a parent's).
func (e *Error) Code() Code {
	return e.code
}

// HasCode reports whether e or any of its parents carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if errors.As(err, &e) && e.code == code {
			return true
		}
		var ok bool
		err, ok = unwrapOnce(err)
		if !ok {
			return false
		}
	}
	return false
}

func unwrapOnce(err error) (error, bool) {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil, false
	}
	return u.Unwrap(), true
}
