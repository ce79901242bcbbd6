package native

// PropertyKind classifies a named property of an Object.
type PropertyKind int

// Property kinds.
const (
	// PropertyNotExist means the object has no such property.
	PropertyNotExist PropertyKind = iota - 1
	// PropertyNormal always exists; its value may change. Engines may cache
	// the classification after the first lookup.
	PropertyNormal
	// PropertyConstant always exists and never changes; the prototype
	// returned by PropertyInfo is the value.
	PropertyConstant
	// PropertyDynamic may appear and disappear; never cached.
	PropertyDynamic
	// PropertyMethod is a method; the prototype holds its Callable.
	PropertyMethod
)

// String returns the kind name.
func (k PropertyKind) String() string {
	switch k {
	case PropertyNotExist:
		return "not-exist"
	case PropertyNormal:
		return "normal"
	case PropertyConstant:
		return "constant"
	case PropertyDynamic:
		return "dynamic"
	case PropertyMethod:
		return "method"
	}
	return "unknown"
}

// ReferenceChange values passed to reference-change listeners.
const (
	RefAdded   = 1
	RefRemoved = -1
	// RefDestroy means the object is about to be destroyed; every holder
	// must drop its reference immediately.
	RefDestroy = 0
)

// ReferenceListener is called before an object's reference count changes.
// refCount is the count before the change; change is RefAdded, RefRemoved
// or RefDestroy.
type ReferenceListener func(refCount, change int)

// Object is the capability surface a native, reference-counted object
// exposes to a script engine.
type Object interface {
	Ref()
	// Unref drops a reference. causedByScript is true when the release
	// originates from the script side (collection or context teardown).
	Unref(causedByScript bool)
	RefCount() int
	// OnReferenceChange subscribes fn and returns a function cancelling the
	// subscription.
	OnReferenceChange(fn ReferenceListener) (cancel func())

	// PropertyInfo classifies a named property and returns its prototype:
	// the value itself for constants, a callable value for methods, and a
	// value of the expected kind otherwise. The empty name denotes the
	// object's default method.
	PropertyInfo(name string) (PropertyKind, Value)
	GetProperty(name string) Value
	SetProperty(name string, v Value) bool
	GetPropertyByIndex(index int) Value
	SetPropertyByIndex(index int, v Value) bool
	// EnumerateProperties calls fn for each enumerable named property until
	// fn returns false. It returns false if enumeration stopped early.
	EnumerateProperties(fn func(name string, kind PropertyKind, v Value) bool) bool
	EnumerateElements(fn func(index int, v Value) bool) bool

	// PendingException returns the exception raised by the last operation,
	// clearing it when clear is true.
	PendingException(clear bool) Object
	// IsStrict reports whether assignment to unknown properties fails.
	IsStrict() bool
	IsEnumerable() bool
}

// Collection is an Object with ordered elements. Engines expose it as a
// native array of its elements.
type Collection interface {
	Object
	Count() int
	Item(index int) Value
}

// Named is implemented by objects that provide a class name for default
// stringification.
type Named interface {
	ClassName() string
}
