package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrStringTooLong = errors.New("protocol: string too long")
	ErrNullHandle    = errors.New("protocol: null handle")
	ErrTableFull     = errors.New("protocol: handle table exhausted")
	ErrUnknownClass  = errors.New("protocol: unknown class")
	ErrUnknownEvent  = errors.New("protocol: unknown event code")
	ErrClassMismatch = errors.New("protocol: class mismatch")
	ErrNotWritable   = errors.New("protocol: output not open")
	ErrHandleInUse   = errors.New("protocol: handle in use")
)

// Code classifies a protocol error.
type Code uint8

const (
	CodeTruncated Code = iota + 1 // input ended inside a value
	CodeMalformed                 // value present but invalid
	CodeAllocation                // no handle could be allocated
	CodeCreate                    // the factory could not build an object or event
)

func (c Code) String() string {
	switch c {
	case CodeTruncated:
		return "truncated"
	case CodeMalformed:
		return "malformed"
	case CodeAllocation:
		return "allocation"
	case CodeCreate:
		return "create"
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Error is a protocol error: it fails the current call and leaves the
// decision about fatality to the caller.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("protocol %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error wrapping cause.
func Errorf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: cause}
}
