// Package failure defines the closed set of error kinds returned by the
// pixvault codec. Every error that leaves a public entry point is, or wraps,
// an *Error carrying one of these kinds.
package failure

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies a codec failure.
type Kind int

const (
	// IOError is a filesystem failure while reading sources or writing results.
	IOError Kind = iota
	// NotFound means the source path does not exist.
	NotFound
	// InvalidInput means the source or a parameter has the wrong shape.
	InvalidInput
	// CapacityExceeded means the payload or raster side is over the configured limit.
	CapacityExceeded
	// PasswordRequired means the raster is encrypted and no password was given.
	PasswordRequired
	// AuthenticationFailed means decryption did not verify (wrong password or tampering).
	AuthenticationFailed
	// InvalidImage means the raster could not be read or decoded.
	InvalidImage
	// CorruptPayload means the recovered payload is not a readable archive.
	CorruptPayload
	// Canceled means the caller's context was canceled mid-operation.
	Canceled
)

var kindNames = map[Kind]string{
	IOError:              "io error",
	NotFound:             "not found",
	InvalidInput:         "invalid input",
	CapacityExceeded:     "capacity exceeded",
	PasswordRequired:     "password required",
	AuthenticationFailed: "authentication failed",
	InvalidImage:         "invalid image",
	CorruptPayload:       "corrupt payload",
	Canceled:             "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the codec's error type.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "pack" or "open archive".
	Op string
	// Msg is a human-readable description safe to show to any caller.
	Msg string
	// Detail holds diagnostics (sizes, byte previews) for trusted callers only.
	Detail string
	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrIO                   = &Error{Kind: IOError}
	ErrNotFound             = &Error{Kind: NotFound}
	ErrInvalidInput         = &Error{Kind: InvalidInput}
	ErrCapacityExceeded     = &Error{Kind: CapacityExceeded}
	ErrPasswordRequired     = &Error{Kind: PasswordRequired}
	ErrAuthenticationFailed = &Error{Kind: AuthenticationFailed}
	ErrInvalidImage         = &Error{Kind: InvalidImage}
	ErrCorruptPayload       = &Error{Kind: CorruptPayload}
	ErrCanceled             = &Error{Kind: Canceled}
)

// New returns an error of the given kind.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithDetail attaches diagnostics and returns e.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) Error() string {
	s := e.Public()
	if e.Detail != "" {
		s += " [" + e.Detail + "]"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Public renders the error without Detail or the wrapped cause, for
// untrusted clients of a server deployment.
func (e *Error) Public() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain. Errors
// without one classify as NotFound for missing files and IOError otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, fs.ErrNotExist) {
		return NotFound
	}
	return IOError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
