package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of engine failure.
type Code int

const (
	// Unknown is returned by CodeOf for errors that carry no code.
	Unknown Code = iota
	NoSourceFiles
	InvalidProject
	CompilationError
	NoEntryPointFound
	ExecutionTimeout
	SandboxUnavailable
	ProcessLaunchFailure
	InternalError
)

var codeNames = map[Code]string{
	Unknown:              "Unknown",
	NoSourceFiles:        "NoSourceFiles",
	InvalidProject:       "InvalidProject",
	CompilationError:     "CompilationError",
	NoEntryPointFound:    "NoEntryPointFound",
	ExecutionTimeout:     "ExecutionTimeout",
	SandboxUnavailable:   "SandboxUnavailable",
	ProcessLaunchFailure: "ProcessLaunchFailure",
	InternalError:        "InternalError",
}

// String returns the code name.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is an engine error with a code. Message holds the human readable text;
// for CompilationError it is the compiler diagnostics, verbatim.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code.String()
	}
}

// Unwrap returns the underlying error (for errors.Is and errors.As)
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// Wrapf attaches a code and a formatted message to err. A nil err yields nil.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the outermost code from err, or Unknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the message of the outermost coded error, or err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
