package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
)

type ownedKey struct {
	owner *nativeWrapper
	fn    *lua.LFunction
}

// ScriptFunction exposes a script function to native code.
//
// A root-owned function keeps its script function alive until Release. A
// function owned by a wrapper is interned per (wrapper, function) pair,
// counts the holds taken on it, and lives as long as the wrapper: when the
// wrapper is detached the function becomes inert and calls return the zero
// value of its return kind.
type ScriptFunction struct {
	ctx   *Context
	fn    *lua.LFunction
	meta  native.Callable
	owner *nativeWrapper

	holds    int
	detached bool
	borrowed bool
}

var (
	_ native.Callable = (*ScriptFunction)(nil)
	_ native.Releaser = (*ScriptFunction)(nil)
)

// capture returns the native callable for fn. meta supplies the signature
// the native side expects, if any.
func (c *Context) capture(owner *nativeWrapper, meta native.Callable, fn *lua.LFunction) *ScriptFunction {
	if owner == nil {
		sf := &ScriptFunction{ctx: c, fn: fn, meta: meta, holds: 1}
		c.root(fn)
		c.functions[sf] = struct{}{}
		return sf
	}
	key := ownedKey{owner: owner, fn: fn}
	if sf, ok := c.owned[key]; ok {
		sf.holds++
		return sf
	}
	sf := &ScriptFunction{ctx: c, fn: fn, meta: meta, owner: owner, holds: 1}
	c.owned[key] = sf
	owner.slots[sf] = struct{}{}
	return sf
}

// Function returns the underlying script function.
func (f *ScriptFunction) Function() *lua.LFunction { return f.fn }

// Owned reports whether the function's lifetime is tied to a wrapper.
func (f *ScriptFunction) Owned() bool { return f.owner != nil }

// Detached reports whether the function has been released or its owner
// detached.
func (f *ScriptFunction) Detached() bool { return f.detached }

// HasMetadata implements native.Callable.
func (f *ScriptFunction) HasMetadata() bool {
	return f.meta != nil && f.meta.HasMetadata()
}

// ReturnType implements native.Callable.
func (f *ScriptFunction) ReturnType() native.Kind {
	if f.HasMetadata() {
		return f.meta.ReturnType()
	}
	return native.KindVoid
}

// ArgCount implements native.Callable.
func (f *ScriptFunction) ArgCount() int {
	if f.HasMetadata() {
		return f.meta.ArgCount()
	}
	return native.Variadic
}

// ArgTypes implements native.Callable.
func (f *ScriptFunction) ArgTypes() []native.Kind {
	if f.HasMetadata() {
		return f.meta.ArgTypes()
	}
	return nil
}

// DefaultArgs implements native.Callable.
func (f *ScriptFunction) DefaultArgs() []native.Value {
	if f.HasMetadata() {
		return f.meta.DefaultArgs()
	}
	return nil
}

// Call implements native.Callable. A non-nil receiver is passed as the
// first argument. Script errors are returned as *script.Error.
func (f *ScriptFunction) Call(receiver native.Object, args []native.Value) (native.Value, error) {
	c := f.ctx
	if f.detached || c.closed {
		return native.Proto(f.ReturnType()), nil
	}

	c.enter()
	defer c.leave()

	L := c.L
	top := L.GetTop()
	defer L.SetTop(top)

	L.Push(f.fn)
	n := 0
	if receiver != nil {
		lv, err := c.objectToScript(receiver)
		if err != nil {
			return native.Void(), err
		}
		L.Push(lv)
		n++
	}
	for i, a := range args {
		lv, err := c.toScript(a)
		if err != nil {
			return native.Void(), script.Conversion("call", fmt.Sprintf("argument %d: %v", i, err))
		}
		L.Push(lv)
		n++
	}

	if err := L.PCall(n, 1, nil); err != nil {
		serr := c.scriptError("call", err)
		c.log.Warn("script function failed", zap.Error(serr))
		return native.Void(), serr
	}

	ret := L.Get(-1)
	if f.HasMetadata() {
		return c.toNative(nil, native.Proto(f.ReturnType()), ret)
	}
	return c.sniff(ret)
}

// Release implements native.Releaser. The last release of a root-owned
// function unroots it; for an owned function it drops the interned entry.
func (f *ScriptFunction) Release() {
	if f.detached || f.borrowed {
		return
	}
	f.holds--
	if f.holds > 0 {
		return
	}
	f.detach()
}

func (f *ScriptFunction) detach() {
	if f.detached || f.borrowed {
		return
	}
	f.detached = true
	c := f.ctx
	if f.owner == nil {
		c.unroot(f.fn)
		delete(c.functions, f)
		return
	}
	key := ownedKey{owner: f.owner, fn: f.fn}
	if c.owned[key] == f {
		delete(c.owned, key)
	}
	if f.owner.slots != nil {
		delete(f.owner.slots, f)
	}
}

// ScriptObject exposes a script table, or a userdata that is not a native
// proxy, to native code as a native.Object. Properties read and write the
// value through its metamethods; index i addresses key i+1. The value is
// rooted while native code holds a reference.
type ScriptObject struct {
	*native.Helper
	ctx    *Context
	target lua.LValue
	table  *lua.LTable
}

// scriptObject returns the interned ScriptObject for lv, a table or a
// userdata.
func (c *Context) scriptObject(lv lua.LValue) *ScriptObject {
	if so, ok := c.objects[lv]; ok {
		return so
	}
	so := &ScriptObject{Helper: native.NewHelper("Object"), ctx: c, target: lv}
	so.table, _ = lv.(*lua.LTable)
	so.SetStrict(false)
	so.OnReferenceChange(func(refCount, change int) {
		switch {
		case change == native.RefAdded && refCount == 0:
			c.root(lv)
		case change == native.RefRemoved && refCount == 1:
			c.unroot(lv)
		}
	})
	so.OnDestroy(func() {
		if c.objects[lv] == so {
			delete(c.objects, lv)
		}
	})
	c.objects[lv] = so
	return so
}

// Table returns the underlying table, nil for a userdata.
func (o *ScriptObject) Table() *lua.LTable { return o.table }

// Value returns the underlying script value.
func (o *ScriptObject) Value() lua.LValue { return o.target }

// String renders the value through its __tostring metamethod, or as
// "[object Object]" when it has none.
func (o *ScriptObject) String() string {
	c := o.ctx
	if !c.closed && c.L.GetMetaField(o.target, "__tostring") != lua.LNil {
		if s, err := c.tostring(o.target); err == nil {
			return s
		}
	}
	return "[object " + o.ClassName() + "]"
}

func (o *ScriptObject) raw(key lua.LValue) lua.LValue {
	c := o.ctx
	if c.closed {
		return lua.LNil
	}
	lv, err := c.pcall(func(L *lua.LState) lua.LValue {
		return L.GetTable(o.target, key)
	})
	if err != nil {
		c.log.Debug("script property read failed", zap.Error(err))
		return lua.LNil
	}
	return lv
}

// value converts a field of the table. Functions reported only for
// inspection are borrowed: they are not rooted and need no release.
func (o *ScriptObject) value(lv lua.LValue, borrow bool) native.Value {
	if fn, ok := lv.(*lua.LFunction); ok && borrow {
		return native.Func(&ScriptFunction{ctx: o.ctx, fn: fn, borrowed: true})
	}
	v, err := o.ctx.sniff(lv)
	if err != nil {
		return native.Void()
	}
	return v
}

func (o *ScriptObject) set(key lua.LValue, v native.Value) bool {
	c := o.ctx
	if c.closed {
		return false
	}
	lv, err := c.toScript(v)
	if err != nil {
		return false
	}
	_, err = c.pcall(func(L *lua.LState) lua.LValue {
		L.SetTable(o.target, key, lv)
		return lua.LNil
	})
	if err != nil {
		c.log.Debug("script property write failed", zap.Error(err))
		return false
	}
	return true
}

// PropertyInfo implements native.Object. Present fields are dynamic;
// function fields are methods.
func (o *ScriptObject) PropertyInfo(name string) (native.PropertyKind, native.Value) {
	lv := o.raw(lua.LString(name))
	switch lv.(type) {
	case *lua.LNilType:
		return native.PropertyNotExist, native.Void()
	case *lua.LFunction:
		return native.PropertyMethod, o.value(lv, true)
	}
	v := o.value(lv, true)
	return native.PropertyDynamic, native.Proto(v.Kind())
}

// GetProperty implements native.Object. A function value is root-owned
// and must be released by the caller.
func (o *ScriptObject) GetProperty(name string) native.Value {
	return o.value(o.raw(lua.LString(name)), false)
}

// SetProperty implements native.Object.
func (o *ScriptObject) SetProperty(name string, v native.Value) bool {
	return o.set(lua.LString(name), v)
}

// GetPropertyByIndex implements native.Object.
func (o *ScriptObject) GetPropertyByIndex(index int) native.Value {
	return o.value(o.raw(lua.LNumber(index+1)), false)
}

// SetPropertyByIndex implements native.Object.
func (o *ScriptObject) SetPropertyByIndex(index int, v native.Value) bool {
	return o.set(lua.LNumber(index+1), v)
}

// EnumerateProperties implements native.Object. String keys are reported
// in table order.
func (o *ScriptObject) EnumerateProperties(fn func(string, native.PropertyKind, native.Value) bool) bool {
	if o.ctx.closed || o.table == nil {
		return true
	}
	type entry struct {
		name string
		lv   lua.LValue
	}
	var entries []entry
	o.table.ForEach(func(k, v lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			entries = append(entries, entry{string(s), v})
		}
	})
	for _, e := range entries {
		v := o.value(e.lv, true)
		if v.IsVoid() {
			continue
		}
		kind := native.PropertyDynamic
		if v.Kind() == native.KindCallable {
			kind = native.PropertyMethod
		}
		if !fn(e.name, kind, v) {
			return false
		}
	}
	return true
}

// EnumerateElements implements native.Object.
func (o *ScriptObject) EnumerateElements(fn func(int, native.Value) bool) bool {
	if o.ctx.closed || o.table == nil {
		return true
	}
	n := o.table.Len()
	for i := 1; i <= n; i++ {
		if !fn(i-1, o.value(o.table.RawGetInt(i), true)) {
			return false
		}
	}
	return true
}
