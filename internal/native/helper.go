package native

// Helper implements Object for native types that embed it. It provides
// reference counting with change notification, a registry of named
// properties, methods and constants, optional index and dynamic property
// handlers, and a pending-exception slot.
//
//	type Point struct {
//	    *native.Helper
//	    X, Y float64
//	}
//
//	func NewPoint(x, y float64) *Point {
//	    p := &Point{X: x, Y: y}
//	    p.Helper = native.NewHelper("Point")
//	    p.RegisterProperty("x", native.Proto(native.KindDouble),
//	        func() native.Value { return native.Double(p.X) },
//	        func(v native.Value) bool { p.X = v.Double(); return true })
//	    return p
//	}
//
// A new Helper is floating: its count is zero and it is not destroyed until
// a reference has been taken and released, or Destroy is called.
type Helper struct {
	className string
	refs      int

	listeners  map[int]ReferenceListener
	nextListen int

	props map[string]*property
	order []string

	count    func() int
	arrayGet func(index int) Value
	arraySet func(index int, v Value) bool
	dynGet   func(name string) Value
	dynSet   func(name string, v Value) bool

	pending    Object
	strict     bool
	enumerable bool

	onDestroy  func()
	destroying bool
	destroyed  bool
}

type property struct {
	kind  PropertyKind
	proto Value
	get   func() Value
	set   func(Value) bool
}

// NewHelper returns a floating Helper for an object of the given class.
// Helpers are strict and enumerable by default.
func NewHelper(className string) *Helper {
	return &Helper{
		className:  className,
		listeners:  make(map[int]ReferenceListener),
		props:      make(map[string]*property),
		strict:     true,
		enumerable: true,
	}
}

// ClassName implements Named.
func (h *Helper) ClassName() string { return h.className }

// Ref implements Object.
func (h *Helper) Ref() {
	h.notify(h.refs, RefAdded)
	h.refs++
}

// Unref implements Object. Dropping the last reference destroys the object.
func (h *Helper) Unref(causedByScript bool) {
	if h.refs <= 0 {
		return
	}
	h.notify(h.refs, RefRemoved)
	h.refs--
	if h.refs == 0 {
		h.destroy()
	}
}

// RefCount implements Object.
func (h *Helper) RefCount() int { return h.refs }

// OnReferenceChange implements Object.
func (h *Helper) OnReferenceChange(fn ReferenceListener) func() {
	id := h.nextListen
	h.nextListen++
	h.listeners[id] = fn
	return func() { delete(h.listeners, id) }
}

// Destroy destroys the object regardless of its reference count. Holders
// are told through RefDestroy and must drop their references.
func (h *Helper) Destroy() { h.destroy() }

// Destroyed reports whether the object has been destroyed.
func (h *Helper) Destroyed() bool { return h.destroyed }

// OnDestroy registers fn to run once when the object is destroyed.
func (h *Helper) OnDestroy(fn func()) { h.onDestroy = fn }

func (h *Helper) destroy() {
	if h.destroying {
		return
	}
	h.destroying = true
	h.notify(h.refs, RefDestroy)
	h.destroyed = true
	clear(h.listeners)
	if h.onDestroy != nil {
		h.onDestroy()
	}
}

func (h *Helper) notify(refCount, change int) {
	if len(h.listeners) == 0 {
		return
	}
	// Listeners may cancel themselves while being notified.
	fns := make([]ReferenceListener, 0, len(h.listeners))
	for i := 0; i < h.nextListen; i++ {
		if fn, ok := h.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	for _, fn := range fns {
		fn(refCount, change)
	}
}

// RegisterProperty registers a normal property. proto describes the value
// kind the setter expects; set may be nil for a read-only property.
func (h *Helper) RegisterProperty(name string, proto Value, get func() Value, set func(Value) bool) {
	h.add(name, &property{kind: PropertyNormal, proto: proto, get: get, set: set})
}

// RegisterMethod registers a method.
func (h *Helper) RegisterMethod(name string, c Callable) {
	h.add(name, &property{kind: PropertyMethod, proto: Func(c)})
}

// RegisterConstant registers a constant.
func (h *Helper) RegisterConstant(name string, v Value) {
	h.add(name, &property{kind: PropertyConstant, proto: v})
}

func (h *Helper) add(name string, p *property) {
	if _, ok := h.props[name]; !ok {
		h.order = append(h.order, name)
	}
	h.props[name] = p
}

// RemoveProperty unregisters a property.
func (h *Helper) RemoveProperty(name string) bool {
	if _, ok := h.props[name]; !ok {
		return false
	}
	delete(h.props, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return true
}

// SetArrayHandler installs index access. count may be nil when the elements
// cannot be enumerated; set may be nil for read-only elements.
func (h *Helper) SetArrayHandler(count func() int, get func(int) Value, set func(int, Value) bool) {
	h.count = count
	h.arrayGet = get
	h.arraySet = set
}

// SetDynamicPropertyHandler installs a fallback for unregistered names. get
// returns Void for names that do not exist.
func (h *Helper) SetDynamicPropertyHandler(get func(string) Value, set func(string, Value) bool) {
	h.dynGet = get
	h.dynSet = set
}

// SetStrict sets whether assignment to unknown properties fails.
func (h *Helper) SetStrict(strict bool) { h.strict = strict }

// SetEnumerable sets whether scripts may enumerate the object.
func (h *Helper) SetEnumerable(enumerable bool) { h.enumerable = enumerable }

// SetPendingException records an exception for the engine to raise after
// the current operation returns.
func (h *Helper) SetPendingException(exception Object) { h.pending = exception }

// PropertyInfo implements Object.
func (h *Helper) PropertyInfo(name string) (PropertyKind, Value) {
	if p, ok := h.props[name]; ok {
		return p.kind, p.proto
	}
	if h.dynGet != nil {
		v := h.dynGet(name)
		if v.Kind() != KindVoid {
			if v.Kind() == KindCallable {
				return PropertyDynamic, v
			}
			return PropertyDynamic, Proto(v.Kind())
		}
	}
	return PropertyNotExist, Void()
}

// GetProperty implements Object.
func (h *Helper) GetProperty(name string) Value {
	if p, ok := h.props[name]; ok {
		switch p.kind {
		case PropertyNormal:
			if p.get != nil {
				return p.get()
			}
			return Void()
		default:
			return p.proto
		}
	}
	if h.dynGet != nil {
		return h.dynGet(name)
	}
	return Void()
}

// SetProperty implements Object.
func (h *Helper) SetProperty(name string, v Value) bool {
	if p, ok := h.props[name]; ok {
		if p.kind == PropertyNormal && p.set != nil {
			return p.set(v)
		}
		return false
	}
	if h.dynSet != nil {
		return h.dynSet(name, v)
	}
	return false
}

// GetPropertyByIndex implements Object.
func (h *Helper) GetPropertyByIndex(index int) Value {
	if h.arrayGet == nil {
		return Void()
	}
	return h.arrayGet(index)
}

// SetPropertyByIndex implements Object.
func (h *Helper) SetPropertyByIndex(index int, v Value) bool {
	if h.arraySet == nil {
		return false
	}
	return h.arraySet(index, v)
}

// EnumerateProperties implements Object. Properties are visited in
// registration order.
func (h *Helper) EnumerateProperties(fn func(string, PropertyKind, Value) bool) bool {
	names := append([]string(nil), h.order...)
	for _, name := range names {
		p, ok := h.props[name]
		if !ok || name == "" {
			continue
		}
		v := p.proto
		if p.kind == PropertyNormal {
			v = h.GetProperty(name)
		}
		if !fn(name, p.kind, v) {
			return false
		}
	}
	return true
}

// EnumerateElements implements Object.
func (h *Helper) EnumerateElements(fn func(int, Value) bool) bool {
	if h.count == nil || h.arrayGet == nil {
		return true
	}
	n := h.count()
	for i := 0; i < n; i++ {
		if !fn(i, h.arrayGet(i)) {
			return false
		}
	}
	return true
}

// PendingException implements Object.
func (h *Helper) PendingException(clear bool) Object {
	e := h.pending
	if clear {
		h.pending = nil
	}
	return e
}

// IsStrict implements Object.
func (h *Helper) IsStrict() bool { return h.strict }

// IsEnumerable implements Object.
func (h *Helper) IsEnumerable() bool { return h.enumerable }

// ElementCount returns the number of elements, or -1 when unknown.
func (h *Helper) ElementCount() int {
	if h.count == nil {
		return -1
	}
	return h.count()
}
