// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by every hioload-uio package. Failures are
// distinguishable by code so callers can decide what is worth retrying.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeDeviceNotFound
	ErrCodePermissionDenied
	ErrCodeAttributeUnavailable
	ErrCodeParse
	ErrCodeRegionNotFound
	ErrCodeMapFailed
	ErrCodeIO
	ErrCodeInterrupted
	ErrCodeClosed
	ErrCodeOutOfRange
	ErrCodeMisaligned
	ErrCodeRegionBusy
	ErrCodeBusy
	ErrCodeUnsupported
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                   "ok",
	ErrCodeDeviceNotFound:       "device not found",
	ErrCodePermissionDenied:     "permission denied",
	ErrCodeAttributeUnavailable: "attribute unavailable",
	ErrCodeParse:                "parse error",
	ErrCodeRegionNotFound:       "region not found",
	ErrCodeMapFailed:            "map failed",
	ErrCodeIO:                   "i/o error",
	ErrCodeInterrupted:          "interrupted",
	ErrCodeClosed:               "closed",
	ErrCodeOutOfRange:           "offset out of range",
	ErrCodeMisaligned:           "misaligned access",
	ErrCodeRegionBusy:           "region already mapped",
	ErrCodeBusy:                 "device busy",
	ErrCodeUnsupported:          "unsupported",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrDeviceNotFound       = &Error{Code: ErrCodeDeviceNotFound, Message: "device not found"}
	ErrPermissionDenied     = &Error{Code: ErrCodePermissionDenied, Message: "permission denied"}
	ErrAttributeUnavailable = &Error{Code: ErrCodeAttributeUnavailable, Message: "attribute unavailable"}
	ErrParse                = &Error{Code: ErrCodeParse, Message: "parse error"}
	ErrRegionNotFound       = &Error{Code: ErrCodeRegionNotFound, Message: "region not found"}
	ErrMapFailed            = &Error{Code: ErrCodeMapFailed, Message: "map failed"}
	ErrIO                   = &Error{Code: ErrCodeIO, Message: "i/o error"}
	ErrInterrupted          = &Error{Code: ErrCodeInterrupted, Message: "interrupted"}
	ErrClosed               = &Error{Code: ErrCodeClosed, Message: "closed"}
	ErrOutOfRange           = &Error{Code: ErrCodeOutOfRange, Message: "offset out of range"}
	ErrMisaligned           = &Error{Code: ErrCodeMisaligned, Message: "misaligned access"}
	ErrRegionBusy           = &Error{Code: ErrCodeRegionBusy, Message: "region already mapped"}
	ErrBusy                 = &Error{Code: ErrCodeBusy, Message: "device busy"}
	ErrUnsupported          = &Error{Code: ErrCodeUnsupported, Message: "unsupported"}
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error // underlying OS or parse error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) != 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error around cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeIO
}

// Retryable reports whether repeating the failed call may succeed.
// Only an interrupted wait qualifies; everything else is permanent for the
// device/region pair within a process run.
func Retryable(err error) bool {
	return CodeOf(err) == ErrCodeInterrupted
}
