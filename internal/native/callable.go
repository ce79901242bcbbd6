package native

import (
	"errors"
	"math"
)

// Variadic is the ArgCount of a callable accepting any number of arguments.
const Variadic = math.MaxInt

// Callable is a native function object with optional type metadata.
type Callable interface {
	// HasMetadata reports whether ReturnType, ArgCount, ArgTypes and
	// DefaultArgs describe the callable.
	HasMetadata() bool
	ReturnType() Kind
	// ArgCount returns the declared argument count, or Variadic.
	ArgCount() int
	// ArgTypes returns the declared argument kinds. For a variadic callable
	// the kinds apply to the leading arguments, terminated by KindVoid.
	ArgTypes() []Kind
	// DefaultArgs returns per-argument defaults; KindVoid marks an argument
	// without a default. May be nil.
	DefaultArgs() []Value
	// Call invokes the callable. receiver is nil for plain function calls.
	Call(receiver Object, args []Value) (Value, error)
}

// Releaser is implemented by values that hold resources on behalf of their
// owner and must be disposed of explicitly.
type Releaser interface {
	Release()
}

// FuncImpl is the Go implementation behind a Func callable.
type FuncImpl func(receiver Object, args []Value) (Value, error)

// Fn is a Callable backed by a Go function.
type Fn struct {
	impl     FuncImpl
	meta     bool
	ret      Kind
	argc     int
	args     []Kind
	defaults []Value
}

// FnOption configures an Fn.
type FnOption func(*Fn)

// Returns declares the return kind.
func Returns(k Kind) FnOption {
	return func(f *Fn) {
		f.meta = true
		f.ret = k
	}
}

// Args declares the argument kinds and sets ArgCount to their number.
func Args(kinds ...Kind) FnOption {
	return func(f *Fn) {
		f.meta = true
		f.args = kinds
		if f.argc != Variadic {
			f.argc = len(kinds)
		}
	}
}

// Defaults declares trailing default values. The slice is aligned with the
// declared arguments; use Void() for arguments without a default.
func Defaults(values ...Value) FnOption {
	return func(f *Fn) {
		f.meta = true
		f.defaults = values
	}
}

// VariadicArgs marks the callable as accepting any number of arguments.
func VariadicArgs() FnOption {
	return func(f *Fn) {
		f.meta = true
		f.argc = Variadic
	}
}

// NewFunc returns a callable running impl. Without options the callable
// carries no metadata and receives the arguments exactly as passed.
func NewFunc(impl FuncImpl, opts ...FnOption) *Fn {
	f := &Fn{impl: impl, ret: KindVoid}
	for _, opt := range opts {
		opt(f)
	}
	if f.defaults != nil && f.argc != Variadic && len(f.defaults) < f.argc {
		padded := make([]Value, f.argc)
		copy(padded[f.argc-len(f.defaults):], f.defaults)
		f.defaults = padded
	}
	return f
}

// HasMetadata implements Callable.
func (f *Fn) HasMetadata() bool { return f.meta }

// ReturnType implements Callable.
func (f *Fn) ReturnType() Kind { return f.ret }

// ArgCount implements Callable.
func (f *Fn) ArgCount() int { return f.argc }

// ArgTypes implements Callable.
func (f *Fn) ArgTypes() []Kind { return f.args }

// DefaultArgs implements Callable.
func (f *Fn) DefaultArgs() []Value { return f.defaults }

// Call implements Callable.
func (f *Fn) Call(receiver Object, args []Value) (Value, error) {
	if f.impl == nil {
		return Void(), errors.New("native: callable has no implementation")
	}
	return f.impl(receiver, args)
}

// MinArgs returns the smallest argument count c accepts: ArgCount minus the
// trailing run of arguments that declare a default.
func MinArgs(c Callable) int {
	argc := c.ArgCount()
	if argc == Variadic {
		return 0
	}
	defaults := c.DefaultArgs()
	least := argc
	for i := argc - 1; i >= 0 && i < len(defaults); i-- {
		if defaults[i].Kind() == KindVoid {
			break
		}
		least--
	}
	return least
}
