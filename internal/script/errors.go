package script

import (
	"strings"

	"github.com/dshills/scriptbridge/internal/native"
)

// Kind categorizes a bridge error.
type Kind string

const (
	KindConversionFailure Kind = "conversion_failure"
	KindArityMismatch     Kind = "arity_mismatch"
	KindPropertyNotFound  Kind = "property_not_found"
	KindNativeException   Kind = "native_exception"
	KindEngineException   Kind = "engine_exception"
	KindWatchdogTimeout   Kind = "watchdog_timeout"
	KindUseAfterDetach    Kind = "use_after_detach"
	KindConstruction      Kind = "construction"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConversionFailure = &Error{Kind: KindConversionFailure}
	ErrArityMismatch     = &Error{Kind: KindArityMismatch}
	ErrPropertyNotFound  = &Error{Kind: KindPropertyNotFound}
	ErrNativeException   = &Error{Kind: KindNativeException}
	ErrEngineException   = &Error{Kind: KindEngineException}
	ErrWatchdogTimeout   = &Error{Kind: KindWatchdogTimeout}
	ErrUseAfterDetach    = &Error{Kind: KindUseAfterDetach}
	ErrConstruction      = &Error{Kind: KindConstruction}
)

// Error is the structured error returned across the bridge.
type Error struct {
	// Value carries the script exception converted to a native value, when
	// one was raised and converted.
	Value  native.Value
	Cause  error
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Convenience constructors for common error patterns

// Conversion returns a conversion failure.
func Conversion(op, detail string) *Error {
	return &Error{Kind: KindConversionFailure, Op: op, Detail: detail}
}

// Arity returns an argument count mismatch.
func Arity(op, detail string) *Error {
	return &Error{Kind: KindArityMismatch, Op: op, Detail: detail}
}

// Wrap wraps cause with a kind and operation.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}
