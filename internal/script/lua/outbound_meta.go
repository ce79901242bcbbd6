package lua

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
)

// installProxyMeta creates the metatable shared by every proxy.
func (c *Context) installProxyMeta() {
	L := c.L
	c.proxyMeta = L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"__index":    c.proxyIndex,
		"__newindex": c.proxyNewIndex,
		"__call":     c.proxyCall,
		"__tostring": c.proxyToString,
		"__len":      c.proxyLen,
		"__eq":       c.proxyEq,
	})
	c.proxyMeta.RawSetString("__metatable", lua.LString("native"))
}

// checkProxy returns the live wrapper at stack index n.
func (c *Context) checkProxy(L *lua.LState, n int) *nativeWrapper {
	ud, ok := L.Get(n).(*lua.LUserData)
	if !ok {
		L.ArgError(n, "native object expected")
		return nil
	}
	w := c.unwrap(ud)
	if w == nil {
		L.ArgError(n, "native object expected")
		return nil
	}
	if w.state != attached {
		c.raise(L, &script.Error{Kind: script.KindUseAfterDetach, Op: "access", Detail: msgDeleted})
	}
	return w
}

func (c *Context) proxyIndex(L *lua.LState) int {
	w := c.checkProxy(L, 1)
	key := L.Get(2)
	if index, ok := elementIndex(key); ok {
		v := w.obj.GetPropertyByIndex(index)
		c.checkException(L, w)
		if !v.IsVoid() {
			L.Push(c.propertyToScript(L, fmt.Sprintf("[%d]", index), v))
			return 1
		}
	}
	L.Push(c.getProperty(L, w, lua.LVAsString(key)))
	return 1
}

func (c *Context) getProperty(L *lua.LState, w *nativeWrapper, name string) lua.LValue {
	kind, proto := w.info(name)
	switch kind {
	case native.PropertyConstant:
		return c.propertyToScript(L, name, proto)
	case native.PropertyMethod:
		return w.method(name, proto.Callable())
	case native.PropertyDynamic:
		v := w.obj.GetProperty(name)
		c.checkException(L, w)
		if v.IsVoid() {
			return c.missingProperty(L, w, name)
		}
		return c.propertyToScript(L, name, v)
	case native.PropertyNormal:
		v := w.obj.GetProperty(name)
		c.checkException(L, w)
		return c.propertyToScript(L, name, v)
	}
	return c.missingProperty(L, w, name)
}

func (c *Context) missingProperty(L *lua.LState, w *nativeWrapper, name string) lua.LValue {
	if w.expando != nil {
		if lv := w.expando.RawGetString(name); lv != lua.LNil {
			return lv
		}
	}
	if name == "toString" {
		return w.method(name, native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
			return native.String(w.defaultString()), nil
		}, native.Returns(native.KindString)))
	}
	return lua.LNil
}

func (c *Context) propertyToScript(L *lua.LState, name string, v native.Value) lua.LValue {
	lv, err := c.toScript(v)
	if err != nil {
		c.raise(L, script.Conversion("get", fmt.Sprintf(msgPropertyToScript, name, v)))
	}
	return lv
}

func (c *Context) proxyNewIndex(L *lua.LState) int {
	w := c.checkProxy(L, 1)
	key := L.Get(2)
	value := L.Get(3)

	name := lua.LVAsString(key)
	if index, ok := elementIndex(key); ok {
		if kind, _ := w.info(name); kind == native.PropertyNotExist {
			c.setIndex(L, w, index, value)
			return 0
		}
	}

	kind, proto := w.info(name)
	switch kind {
	case native.PropertyNotExist:
		if w.obj.IsStrict() {
			c.raise(L, &script.Error{Kind: script.KindPropertyNotFound, Op: "set", Detail: fmt.Sprintf(msgStrictSet, name)})
		}
		w.expandoTable().RawSetString(name, value)
	case native.PropertyConstant, native.PropertyMethod:
		c.raise(L, script.Conversion("set", fmt.Sprintf(msgReadonly, name)))
	default:
		v, err := c.toNative(w, proto, value)
		if err != nil {
			c.raise(L, script.Conversion("set", fmt.Sprintf(msgPropertyToNative, name, c.describe(value))))
		}
		if !w.obj.SetProperty(name, v) {
			v.Release()
			c.raise(L, script.Conversion("set", fmt.Sprintf(msgReadonly, name)))
		}
		c.checkException(L, w)
	}
	return 0
}

func (c *Context) setIndex(L *lua.LState, w *nativeWrapper, index int, value lua.LValue) {
	v, err := c.sniff(value)
	if err != nil {
		c.raise(L, script.Conversion("set", fmt.Sprintf(msgPropertyToNative, fmt.Sprintf("[%d]", index), c.describe(value))))
	}
	if w.obj.SetPropertyByIndex(index, v) {
		c.checkException(L, w)
		return
	}
	v.Release()
	if w.obj.IsStrict() {
		c.raise(L, script.Conversion("set", fmt.Sprintf(msgReadonlyIndex, index)))
	}
	w.expandoTable().RawSetString(strconv.Itoa(index), value)
}

func (c *Context) proxyCall(L *lua.LState) int {
	w := c.checkProxy(L, 1)
	kind, proto := w.info("")
	if kind != native.PropertyMethod || proto.Callable() == nil {
		c.raise(L, &script.Error{Kind: script.KindPropertyNotFound, Op: "call", Detail: msgNotCallable})
	}
	return c.callNative(L, w, "", proto.Callable())
}

func (c *Context) proxyToString(L *lua.LState) int {
	ud, _ := L.Get(1).(*lua.LUserData)
	w := c.unwrap(ud)
	if w == nil || w.state != attached {
		L.Push(lua.LString("[object deleted]"))
		return 1
	}
	if kind, proto := w.info("toString"); kind == native.PropertyMethod && proto.Callable() != nil {
		top := L.GetTop()
		if c.callNative(L, w, "toString", proto.Callable()) == 1 {
			if _, ok := L.Get(-1).(lua.LString); ok {
				return 1
			}
		}
		L.SetTop(top)
	}
	L.Push(lua.LString(w.defaultString()))
	return 1
}

// elementIndex reports whether key addresses an element: a number with no
// fractional part that fits an int.
func elementIndex(key lua.LValue) (int, bool) {
	n, ok := key.(lua.LNumber)
	if !ok {
		return 0, false
	}
	f := float64(n)
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func (c *Context) proxyLen(L *lua.LState) int {
	w := c.checkProxy(L, 1)
	L.Push(lua.LNumber(w.elementCount()))
	return 1
}

func (c *Context) proxyEq(L *lua.LState) int {
	a, _ := L.Get(1).(*lua.LUserData)
	b, _ := L.Get(2).(*lua.LUserData)
	wa, wb := c.unwrap(a), c.unwrap(b)
	L.Push(lua.LBool(wa != nil && wb != nil && wa.obj == wb.obj))
	return 1
}

// callNative calls fn with the arguments on L's stack and pushes the
// converted result. w is the receiver's wrapper, nil for free functions.
// A leading argument equal to the receiver's proxy is the method-call self
// and is not passed on.
//
// The callee owns the converted arguments.
func (c *Context) callNative(L *lua.LState, w *nativeWrapper, name string, fn native.Callable) int {
	first := 1
	var receiver native.Object
	var alive *liveness
	if w != nil {
		if w.state != attached {
			c.raise(L, &script.Error{Kind: script.KindUseAfterDetach, Op: "call", Detail: msgDeleted})
		}
		if L.GetTop() >= 1 && L.Get(1) == w.proxy {
			first = 2
		}
		receiver = w.obj
		alive = w.alive
	}

	args, serr := c.argsToNative(L, w, name, fn, first)
	if serr != nil {
		c.raise(L, serr)
	}

	result, err := fn.Call(receiver, args)
	if alive != nil && alive.dead {
		result.Release()
		c.raise(L, &script.Error{Kind: script.KindUseAfterDetach, Op: "call", Detail: msgDeleted})
	}
	if err != nil {
		var se *script.Error
		if errors.As(err, &se) && !se.Value.IsVoid() {
			// A script exception passing back through native code keeps
			// its value.
			if lv, cerr := c.toScript(se.Value); cerr == nil {
				c.raiseValue(L, se, lv)
			}
		}
		c.raise(L, &script.Error{Kind: script.KindNativeException, Op: "call", Detail: err.Error(), Cause: err})
	}
	if w != nil {
		c.checkException(L, w)
	}

	if fn.HasMetadata() && fn.ReturnType() == native.KindVoid {
		return 0
	}
	lv, cerr := c.toScript(result)
	if cerr != nil {
		c.raise(L, script.Conversion("call", fmt.Sprintf(msgResultToScript, result)))
	}
	L.Push(lv)
	return 1
}

// checkException raises the exception the last native operation left
// pending on w's object.
func (c *Context) checkException(L *lua.LState, w *nativeWrapper) {
	exc := w.obj.PendingException(true)
	if exc == nil {
		return
	}
	lv, err := c.objectToScript(exc)
	if err != nil {
		lv = lua.LString(fmt.Sprint(exc))
	}
	c.raiseValue(L, &script.Error{
		Kind:   script.KindNativeException,
		Op:     "call",
		Detail: "native exception",
		Value:  native.Obj(exc),
	}, lv)
}

// iterators returns the bridge.properties and bridge.elements functions,
// which iterate a native object's enumerable properties and elements.
func (c *Context) iterators() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"properties": func(L *lua.LState) int {
			w := c.checkProxy(L, 1)
			if !w.obj.IsEnumerable() {
				c.raise(L, script.Conversion("enumerate", msgNotEnumerable))
			}
			var names []string
			var values []native.Value
			w.obj.EnumerateProperties(func(name string, kind native.PropertyKind, v native.Value) bool {
				if kind != native.PropertyMethod {
					names = append(names, name)
					values = append(values, v)
				}
				return true
			})
			i := 0
			L.Push(L.NewFunction(func(L *lua.LState) int {
				if i >= len(names) {
					return 0
				}
				name, v := names[i], values[i]
				i++
				L.Push(lua.LString(name))
				L.Push(c.propertyToScript(L, name, v))
				return 2
			}))
			return 1
		},
		"elements": func(L *lua.LState) int {
			w := c.checkProxy(L, 1)
			if !w.obj.IsEnumerable() {
				c.raise(L, script.Conversion("enumerate", msgNotEnumerable))
			}
			var indexes []int
			var values []native.Value
			w.obj.EnumerateElements(func(index int, v native.Value) bool {
				indexes = append(indexes, index)
				values = append(values, v)
				return true
			})
			i := 0
			L.Push(L.NewFunction(func(L *lua.LState) int {
				if i >= len(indexes) {
					return 0
				}
				index, v := indexes[i], values[i]
				i++
				L.Push(lua.LNumber(index))
				L.Push(c.propertyToScript(L, fmt.Sprintf("[%d]", index), v))
				return 2
			}))
			return 1
		},
	}
}
