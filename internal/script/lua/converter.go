package lua

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
)

// In conversions a Go nil LValue stands for an absent value (an omitted
// argument), while lua.LNil is an explicit nil. The two differ for strings:
// an absent string is "" and an explicit nil is the null string.

// ToScript converts a native value to a script value.
func (c *Context) ToScript(v native.Value) (lua.LValue, error) {
	return c.toScript(v)
}

// ToNative converts lv to the kind of prototype. Callables captured by the
// conversion are root-owned.
func (c *Context) ToNative(lv lua.LValue, prototype native.Value) (native.Value, error) {
	return c.toNative(nil, prototype, lv)
}

// Sniff converts lv to the native kind matching its script type.
func (c *Context) Sniff(lv lua.LValue) (native.Value, error) {
	return c.sniff(lv)
}

func (c *Context) toScript(v native.Value) (lua.LValue, error) {
	switch v.Kind() {
	case native.KindVoid:
		return lua.LNil, nil
	case native.KindBool:
		return lua.LBool(v.Bool()), nil
	case native.KindInt64:
		return lua.LNumber(v.Int()), nil
	case native.KindDouble:
		return lua.LNumber(v.Double()), nil
	case native.KindString, native.KindWideString:
		if v.IsNull() {
			return lua.LNil, nil
		}
		return lua.LString(v.Str()), nil
	case native.KindBinary:
		if v.IsNull() {
			return lua.LNil, nil
		}
		return lua.LString(v.Bytes()), nil
	case native.KindDate:
		return c.newDate(v.Millis()), nil
	case native.KindCallable:
		return c.callableToScript(v.Callable()), nil
	case native.KindObject:
		return c.objectToScript(v.Object())
	case native.KindJSON:
		return c.decodeJSON(v.JSONText())
	}
	return lua.LNil, script.Conversion("toScript", fmt.Sprintf("cannot convert %s value to a script value", v.Kind()))
}

func (c *Context) callableToScript(fn native.Callable) lua.LValue {
	if fn == nil {
		return lua.LNil
	}
	if sf, ok := fn.(*ScriptFunction); ok && sf.ctx == c && !sf.detached {
		return sf.fn
	}
	return c.L.NewFunction(func(L *lua.LState) int {
		return c.callNative(L, nil, "function", fn)
	})
}

func (c *Context) objectToScript(obj native.Object) (lua.LValue, error) {
	if obj == nil {
		return lua.LNil, nil
	}
	if so, ok := obj.(*ScriptObject); ok && so.ctx == c && !so.Destroyed() {
		return so.target, nil
	}
	if col, ok := obj.(native.Collection); ok {
		return c.collectionToScript(col), nil
	}
	return c.wrap(obj), nil
}

// collectionToScript copies a collection into a new array table that also
// answers the collection protocol: count, length, item(i) with a zero-based
// index, and toArray() returning the table itself.
func (c *Context) collectionToScript(col native.Collection) lua.LValue {
	// Floating collections are destroyed once copied.
	col.Ref()
	defer col.Unref(false)

	n := col.Count()
	t := c.L.CreateTable(n, 4)
	for i := 0; i < n; i++ {
		lv, err := c.toScript(col.Item(i))
		if err != nil {
			continue
		}
		t.RawSetInt(i+1, lv)
	}

	t.RawSetString("count", lua.LNumber(n))
	t.RawSetString("length", lua.LNumber(n))
	t.RawSetString("item", c.L.NewClosure(func(L *lua.LState) int {
		first := 1
		if L.Get(1) == t {
			first = 2
		}
		idx := int(lua.LVAsNumber(L.Get(first)))
		L.Push(t.RawGetInt(idx + 1))
		return 1
	}, t))
	t.RawSetString("toArray", c.L.NewClosure(func(L *lua.LState) int {
		L.Push(t)
		return 1
	}, t))
	return t
}

func (c *Context) toNative(owner *nativeWrapper, proto native.Value, lv lua.LValue) (native.Value, error) {
	switch proto.Kind() {
	case native.KindVoid:
		return native.Void(), nil
	case native.KindBool:
		return native.Bool(toBool(lv)), nil
	case native.KindInt64:
		return toInt(lv)
	case native.KindDouble:
		return toDouble(lv)
	case native.KindString:
		return c.toString(lv, false)
	case native.KindWideString:
		return c.toString(lv, true)
	case native.KindBinary:
		return toBinary(lv)
	case native.KindDate:
		return toDate(lv)
	case native.KindCallable:
		return c.toCallable(owner, proto.Callable(), lv)
	case native.KindObject:
		return c.toObject(lv)
	case native.KindJSON:
		text, err := c.encodeJSON(lv)
		if err != nil {
			return native.Void(), err
		}
		return native.JSON(text), nil
	case native.KindAny:
		return c.sniff(lv)
	}
	return native.Void(), c.conversionError(lv, proto.Kind())
}

func (c *Context) conversionError(lv lua.LValue, k native.Kind) error {
	return script.Conversion("toNative", fmt.Sprintf("cannot convert %s to %s", c.describe(lv), k))
}

func isNil(lv lua.LValue) bool {
	return lv == nil || lv == lua.LNil
}

func toBool(lv lua.LValue) bool {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return false
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		return f != 0 && !math.IsNaN(f)
	case lua.LString:
		s := string(v)
		return s != "" && !strings.EqualFold(s, "false")
	}
	return true
}

// parseNumber parses a numeric string the way tonumber does.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(i), true
	}
	return 0, false
}

// maxInt64 is 2^63, the first float64 above the int64 range.
const maxInt64 = float64(1 << 63)

func toInt(lv lua.LValue) (native.Value, error) {
	var f float64
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return native.Int(0), nil
	case lua.LBool:
		if v {
			return native.Int(1), nil
		}
		return native.Int(0), nil
	case lua.LNumber:
		f = float64(v)
	case lua.LString:
		n, ok := parseNumber(string(v))
		if !ok {
			return native.Void(), script.Conversion("toNative", fmt.Sprintf("%q is not a number", quoteForMessage(string(v))))
		}
		f = n
	default:
		return native.Void(), script.Conversion("toNative", fmt.Sprintf("cannot convert %s to int64", lv.Type()))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return native.Void(), script.Conversion("toNative", "NaN or infinity is not a valid int64")
	}
	f = math.Round(f)
	if f >= maxInt64 || f < -maxInt64 {
		return native.Void(), script.Conversion("toNative", fmt.Sprintf("%g is out of the int64 range", f))
	}
	return native.Int(int64(f)), nil
}

func toDouble(lv lua.LValue) (native.Value, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return native.Double(0), nil
	case lua.LBool:
		if v {
			return native.Double(1), nil
		}
		return native.Double(0), nil
	case lua.LNumber:
		return native.Double(float64(v)), nil
	case lua.LString:
		if f, ok := parseNumber(string(v)); ok {
			return native.Double(f), nil
		}
		return native.Double(math.NaN()), nil
	}
	return native.Void(), script.Conversion("toNative", fmt.Sprintf("cannot convert %s to double", lv.Type()))
}

func (c *Context) toString(lv lua.LValue, wide bool) (native.Value, error) {
	var s string
	switch v := lv.(type) {
	case nil:
		s = ""
	case *lua.LNilType:
		if wide {
			return native.NullWideString(), nil
		}
		return native.NullString(), nil
	case lua.LString:
		s = canonical(string(v))
	case lua.LNumber, lua.LBool:
		s = v.String()
	default:
		str, err := c.tostring(lv)
		if err != nil {
			return native.Void(), script.Wrap(script.KindConversionFailure, "toNative", err)
		}
		s = canonical(str)
	}
	if wide {
		return native.WideString(native.EncodeWide(s)), nil
	}
	return native.String(s), nil
}

// tostring applies the script's tostring to lv, running __tostring.
func (c *Context) tostring(lv lua.LValue) (string, error) {
	out, err := c.pcall(func(L *lua.LState) lua.LValue {
		return lua.LString(L.ToStringMeta(lv).String())
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func toBinary(lv lua.LValue) (native.Value, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return native.Binary(nil), nil
	case lua.LString:
		return native.Binary([]byte(v)), nil
	}
	return native.Void(), script.Conversion("toNative", fmt.Sprintf("cannot convert %s to binary", lv.Type()))
}

func toDate(lv lua.LValue) (native.Value, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return native.Date(0), nil
	case *lua.LUserData:
		if d, ok := v.Value.(*dateValue); ok {
			return native.Date(d.ms), nil
		}
	case lua.LNumber, lua.LString, lua.LBool:
		// Values that are not numbers convert to the epoch.
		n, _ := toInt(lv)
		return native.Date(n.Int()), nil
	}
	return native.Void(), script.Conversion("toNative", fmt.Sprintf("cannot convert %s to date", lv.Type()))
}

func (c *Context) toCallable(owner *nativeWrapper, meta native.Callable, lv lua.LValue) (native.Value, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return native.Func(nil), nil
	case lua.LNumber:
		if v == 0 {
			return native.Func(nil), nil
		}
	case lua.LString:
		label, line := c.CurrentFileAndLine()
		fn, err := c.load(string(v), label, line)
		if err != nil {
			return native.Void(), script.Wrap(script.KindConversionFailure, "compile", err)
		}
		return native.Func(c.capture(owner, meta, fn)), nil
	case *lua.LFunction:
		return native.Func(c.capture(owner, meta, v)), nil
	}
	return native.Void(), c.conversionError(lv, native.KindCallable)
}

func (c *Context) toObject(lv lua.LValue) (native.Value, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return native.Obj(nil), nil
	case lua.LNumber:
		if v == 0 {
			return native.Obj(nil), nil
		}
	case *lua.LUserData:
		if w := c.unwrap(v); w != nil {
			if w.state != attached {
				return native.Void(), &script.Error{Kind: script.KindUseAfterDetach, Op: "toNative", Detail: msgDeleted}
			}
			return native.Obj(w.obj), nil
		}
		return native.Obj(c.scriptObject(v)), nil
	case *lua.LTable:
		return native.Obj(c.scriptObject(v)), nil
	}
	return native.Void(), c.conversionError(lv, native.KindObject)
}

func (c *Context) sniff(lv lua.LValue) (native.Value, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return native.Void(), nil
	case lua.LBool:
		return native.Bool(bool(v)), nil
	case lua.LNumber:
		f := float64(v)
		if math.IsNaN(f) {
			return native.Void(), script.Conversion("sniff", "NaN has no native representation")
		}
		if !math.IsInf(f, 0) && f == float64(int64(f)) {
			return native.Int(int64(f)), nil
		}
		return native.Double(f), nil
	case lua.LString:
		return native.String(canonical(string(v))), nil
	case *lua.LFunction:
		return native.Func(c.capture(nil, nil, v)), nil
	case *lua.LTable:
		return native.Obj(c.scriptObject(v)), nil
	case *lua.LUserData:
		// A script Date is mutable, so it stays a script object unless the
		// destination asks for a date.
		return c.toObject(v)
	}
	return native.Void(), c.conversionError(lv, native.KindAny)
}

// argsToNative converts the arguments of a native call starting at stack
// index first. Missing trailing arguments take their declared defaults, as
// does an explicit nil passed for an argument with a default. On failure
// every value converted so far is released.
func (c *Context) argsToNative(L *lua.LState, owner *nativeWrapper, name string, fn native.Callable, first int) ([]native.Value, *script.Error) {
	argc := L.GetTop() - first + 1
	if argc < 0 {
		argc = 0
	}
	arg := func(i int) lua.LValue { return L.Get(first + i) }

	fail := func(params []native.Value, i int) *script.Error {
		release(params)
		return script.Conversion("call", fmt.Sprintf(msgArgToNative, i, c.describe(arg(i)), name))
	}

	if !fn.HasMetadata() {
		params := make([]native.Value, argc)
		for i := 0; i < argc; i++ {
			v, err := c.sniff(arg(i))
			if err != nil {
				return nil, fail(params[:i], i)
			}
			params[i] = v
		}
		return params, nil
	}

	types := fn.ArgTypes()
	if fn.ArgCount() == native.Variadic {
		params := make([]native.Value, argc)
		next := 0
		for i := 0; i < argc; i++ {
			var v native.Value
			var err error
			if next < len(types) && types[next] != native.KindVoid {
				v, err = c.toNative(owner, native.Proto(types[next]), arg(i))
				next++
			} else {
				v, err = c.sniff(arg(i))
			}
			if err != nil {
				return nil, fail(params[:i], i)
			}
			params[i] = v
		}
		return params, nil
	}

	expected := fn.ArgCount()
	defaults := fn.DefaultArgs()
	if argc != expected {
		least := native.MinArgs(fn)
		if argc > expected || argc < least {
			return nil, script.Arity("call", fmt.Sprintf(msgArity, name, argc, expected, least))
		}
	}

	hasDefault := func(i int) bool {
		return i < len(defaults) && defaults[i].Kind() != native.KindVoid
	}

	params := make([]native.Value, expected)
	for i := argc; i < expected; i++ {
		if hasDefault(i) {
			params[i] = defaults[i]
		}
	}
	for i := 0; i < argc; i++ {
		lv := arg(i)
		if hasDefault(i) && lv == lua.LNil {
			params[i] = defaults[i]
			continue
		}
		var v native.Value
		var err error
		if i < len(types) {
			v, err = c.toNative(owner, native.Proto(types[i]), lv)
		} else {
			v, err = c.sniff(lv)
		}
		if err != nil {
			return nil, fail(params[:i], i)
		}
		params[i] = v
	}
	return params, nil
}

func release(values []native.Value) {
	for _, v := range values {
		v.Release()
	}
}

// describe prints lv for diagnostics.
func (c *Context) describe(lv lua.LValue) string {
	switch v := lv.(type) {
	case nil:
		return "undefined"
	case lua.LString:
		return quoteForMessage(canonical(string(v)))
	case *lua.LTable:
		if text, err := c.encodeJSON(v); err == nil {
			return quoteForMessage(text)
		}
	case *lua.LUserData:
		if w := c.unwrap(v); w != nil {
			return w.defaultString()
		}
	}
	return lv.String()
}
