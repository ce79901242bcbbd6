package lua

import "errors"

// Errors for script context operations.
var (
	// ErrContextClosed is returned when operating on a closed context.
	ErrContextClosed = errors.New("script context is closed")

	// ErrContextBusy is returned when closing a context from inside a
	// running script.
	ErrContextBusy = errors.New("script context is running")

	// ErrUnknownLibrary is returned when an unknown standard library is
	// requested.
	ErrUnknownLibrary = errors.New("unknown lua library")
)

// Messages raised into scripts.
const (
	msgDeleted          = "native object has been deleted"
	msgNotCallable      = "Object can't be called as a function"
	msgStrictSet        = "The native object doesn't support setting property %s."
	msgReadonly         = "Failed to set native property %s (may be readonly)."
	msgReadonlyIndex    = "Failed to set native property [%d] (may be readonly)."
	msgPropertyToScript = "Failed to convert native property %s value(%s) to script value."
	msgPropertyToNative = "Failed to convert script property %s value(%s) to native."
	msgResultToScript   = "Failed to convert native function result(%s) to script value."
	msgArgToNative      = "Failed to convert argument %d(%s) of function(%s) to native."
	msgArity            = "Wrong number of arguments for function(%s): %d (expected: %d, at least: %d)"
	msgConstruct        = "Failed to construct native object of class %s"
	msgNotEnumerable    = "The native object is not enumerable."
)
