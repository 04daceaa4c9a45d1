package pickle

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an Error.
type Kind string

const (
	KindPickling   Kind = "pickling"   // value or type cannot be represented
	KindUnpickling Kind = "unpickling" // malformed, truncated or unsupported stream
	KindType       Kind = "type"       // argument lacks the required capability
	KindValue      Kind = "value"      // argument outside of supported range
)

// Error is the error type returned by encoding and decoding entry points.
//
// Use errors.Is with ErrPickling, ErrUnpickling, ErrType or ErrValue to test
// for a category, and errors.As / errors.Is on the cause (e.g. OpcodeError or
// io.ErrUnexpectedEOF) for details.
type Error struct {
	Kind   Kind
	Op     string // operation, e.g. "encode", "load", "BINGET"
	Pos    int64  // stream offset for decode errors; -1 if unknown
	Detail string
	Cause  error
}

// Sentinels usable as errors.Is targets. They match any *Error of the same kind.
var (
	ErrPickling   = &Error{Kind: KindPickling, Pos: -1}
	ErrUnpickling = &Error{Kind: KindUnpickling, Pos: -1}
	ErrType       = &Error{Kind: KindType, Pos: -1}
	ErrValue      = &Error{Kind: KindValue, Pos: -1}
)

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString("pickle: ")
	b.WriteString(string(e.Kind))
	b.WriteString(" error")

	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Pos >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Pos)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, op string, cause error, format string, argv ...any) *Error {
	detail := format
	if len(argv) > 0 {
		detail = fmt.Sprintf(format, argv...)
	}
	return &Error{Kind: kind, Op: op, Pos: -1, Detail: detail, Cause: cause}
}

func picklingError(op string, format string, argv ...any) *Error {
	return newError(KindPickling, op, nil, format, argv...)
}

func typeError(op string, format string, argv ...any) *Error {
	return newError(KindType, op, nil, format, argv...)
}

func valueError(op string, format string, argv ...any) *Error {
	return newError(KindValue, op, nil, format, argv...)
}

// unpicklingError wraps err, unless it already is an *Error, into unpickling error at pos.
func unpicklingError(op string, pos int64, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Pos < 0 {
			e.Pos = pos
		}
		return e
	}
	return &Error{Kind: KindUnpickling, Op: op, Pos: pos, Cause: err}
}

// internal decode errors; they become causes of KindUnpickling errors.
var (
	errNotImplemented       = errors.New("unimplemented opcode")
	ErrInvalidPickleVersion = errors.New("invalid pickle version")
	errNoMarker             = errors.New("no marker in stack")
	errNoMarkUse            = errors.New("MARK object cannot be exposed")
	errStackUnderflow       = errors.New("stack underflow")
)

// OpcodeError is the cause of the error that Decode returns when it sees an
// unknown or unsupported pickle opcode.
type OpcodeError struct {
	Key byte
	Pos int
}

func (e OpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %d (%c) at position %d: %q", e.Key, e.Key, e.Pos, e.Key)
}
