package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptbridge/internal/native"
)

type wrapperState int

const (
	unattached wrapperState = iota
	attached
	detached
)

// liveness is shared with in-flight calls so they can tell whether their
// receiver was detached while the native code ran.
type liveness struct {
	dead bool
}

type cachedProperty struct {
	kind  native.PropertyKind
	proto native.Value
}

// nativeWrapper is the script-side proxy of a native object. There is at
// most one wrapper per object per context. The wrapper holds one native
// reference; its proxy is rooted while anything besides the wrapper holds
// the object, so a script object reachable only through native code is not
// collected.
type nativeWrapper struct {
	ctx   *Context
	obj   native.Object
	proxy *lua.LUserData
	state wrapperState

	cancel    func()
	protected bool
	alive     *liveness

	props   map[string]cachedProperty
	methods map[string]*lua.LFunction
	slots   map[*ScriptFunction]struct{}
	expando *lua.LTable
}

// wrap returns the proxy of obj, creating the wrapper on first use.
func (c *Context) wrap(obj native.Object) *lua.LUserData {
	if w, ok := c.wrappers[obj]; ok {
		return w.proxy
	}
	return c.newWrapper(obj).proxy
}

// newWrapper creates a wrapper; a nil obj yields an unattached shell that
// is attached later with adopt.
func (c *Context) newWrapper(obj native.Object) *nativeWrapper {
	w := &nativeWrapper{
		ctx:     c,
		alive:   &liveness{},
		props:   make(map[string]cachedProperty),
		methods: make(map[string]*lua.LFunction),
		slots:   make(map[*ScriptFunction]struct{}),
	}
	ud := c.L.NewUserData()
	ud.Value = w
	ud.Metatable = c.proxyMeta
	w.proxy = ud
	if obj != nil {
		w.attach(obj)
	}
	return w
}

// unwrap returns the wrapper behind ud if it is a proxy of this context.
func (c *Context) unwrap(ud *lua.LUserData) *nativeWrapper {
	if ud == nil {
		return nil
	}
	if w, ok := ud.Value.(*nativeWrapper); ok && w.ctx == c {
		return w
	}
	return nil
}

func (w *nativeWrapper) attach(obj native.Object) {
	w.obj = obj
	w.state = attached
	w.ctx.wrappers[obj] = w
	if obj.RefCount() > 0 {
		w.protect()
	}
	obj.Ref()
	w.cancel = obj.OnReferenceChange(w.onReferenceChange)
	w.ctx.log.Debug("wrapped native object")
}

// adopt attaches the shell w to obj. If obj already has a wrapper, the
// shell's callable slots move to it and that wrapper is returned.
func (w *nativeWrapper) adopt(obj native.Object) *nativeWrapper {
	existing, ok := w.ctx.wrappers[obj]
	if !ok {
		w.attach(obj)
		return w
	}
	for sf := range w.slots {
		delete(w.ctx.owned, ownedKey{owner: w, fn: sf.fn})
		key := ownedKey{owner: existing, fn: sf.fn}
		if _, dup := w.ctx.owned[key]; !dup {
			w.ctx.owned[key] = sf
		}
		sf.owner = existing
		existing.slots[sf] = struct{}{}
	}
	w.slots = make(map[*ScriptFunction]struct{})
	w.detach()
	return existing
}

func (w *nativeWrapper) onReferenceChange(refCount, change int) {
	switch {
	case change == native.RefDestroy:
		w.detach()
	case change == native.RefAdded && refCount == 1:
		w.protect()
	case change == native.RefRemoved && refCount == 2:
		w.unprotect()
	}
}

func (w *nativeWrapper) protect() {
	if !w.protected {
		w.protected = true
		w.ctx.root(w.proxy)
	}
}

func (w *nativeWrapper) unprotect() {
	if w.protected {
		w.protected = false
		w.ctx.unroot(w.proxy)
	}
}

// detach severs the wrapper from its object. Later script access through
// the proxy fails. The native reference is dropped last since it may
// destroy the object.
func (w *nativeWrapper) detach() {
	if w.state == detached {
		return
	}
	obj := w.obj
	w.state = detached
	w.alive.dead = true
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.unprotect()
	if obj != nil && w.ctx.wrappers[obj] == w {
		delete(w.ctx.wrappers, obj)
	}
	for sf := range w.slots {
		sf.detach()
	}
	w.slots = nil
	w.methods = nil
	w.props = nil
	w.expando = nil
	if obj != nil {
		obj.Unref(true)
	}
}

// info classifies a property, caching kinds that cannot change.
func (w *nativeWrapper) info(name string) (native.PropertyKind, native.Value) {
	if p, ok := w.props[name]; ok {
		return p.kind, p.proto
	}
	kind, proto := w.obj.PropertyInfo(name)
	switch kind {
	case native.PropertyNormal, native.PropertyConstant, native.PropertyMethod:
		w.props[name] = cachedProperty{kind: kind, proto: proto}
	}
	return kind, proto
}

// method returns the script function for a native method. The function
// holds the proxy as an upvalue so the collector sees the receiver.
func (w *nativeWrapper) method(name string, fn native.Callable) *lua.LFunction {
	if m, ok := w.methods[name]; ok {
		return m
	}
	c := w.ctx
	m := c.L.NewClosure(func(L *lua.LState) int {
		return c.callNative(L, w, name, fn)
	}, w.proxy)
	w.methods[name] = m
	return m
}

func (w *nativeWrapper) expandoTable() *lua.LTable {
	if w.expando == nil {
		w.expando = w.ctx.L.NewTable()
	}
	return w.expando
}

func (w *nativeWrapper) className() string {
	if n, ok := w.obj.(native.Named); ok && n.ClassName() != "" {
		return n.ClassName()
	}
	return "Object"
}

func (w *nativeWrapper) defaultString() string {
	if w.state != attached {
		return "[object deleted]"
	}
	return "[object " + w.className() + "]"
}

// elementCount returns the number of elements of an enumerable object.
func (w *nativeWrapper) elementCount() int {
	if !w.obj.IsEnumerable() {
		return 0
	}
	n := 0
	w.obj.EnumerateElements(func(int, native.Value) bool {
		n++
		return true
	})
	return n
}
