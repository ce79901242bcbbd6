// Package script defines the engine-neutral contract between a host
// application and an embedded script context: the operations a host may
// invoke and the structured errors they return.
//
// A context belongs to the goroutine that created it. Hosts that need to
// reach a context from other goroutines serialize through the binding's
// executor.
package script

import "github.com/dshills/scriptbridge/internal/native"

// Context is a live script context bound to a host object model.
type Context interface {
	// Execute runs source. label names the source in diagnostics and
	// startLine is the line number of its first line.
	Execute(source, label string, startLine int) error

	// Compile compiles source into a callable without running it.
	Compile(source, label string, startLine int) (native.Callable, error)

	// Evaluate evaluates expr with target's properties in scope. The empty
	// expression yields target itself.
	Evaluate(target native.Object, expr string) (native.Value, error)

	// SetGlobalObject makes obj's properties resolvable as script globals.
	SetGlobalObject(obj native.Object) error

	// RegisterClass registers a global constructor. ctor must return an
	// object.
	RegisterClass(name string, ctor native.Callable) error

	// AssignFromNative assigns value to property of the object found by
	// evaluating objectExpr against obj.
	AssignFromNative(obj native.Object, objectExpr, property string, value native.Value) error

	// CollectGarbage sweeps unreachable wrappers, or schedules a sweep if a
	// script is running.
	CollectGarbage()

	// CurrentFileAndLine reports the innermost script frame being executed.
	CurrentFileAndLine() (string, int)

	// OnScriptBlocked installs the hook asked whether a long-running
	// script may continue.
	OnScriptBlocked(hook func(label string, line int) bool)

	// Close detaches every wrapper and releases every native reference.
	Close() error
}
