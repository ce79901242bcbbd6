package lua

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/match"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
)

// datePattern matches the string form dates take in JSON text.
const datePattern = "/Date(*)/"

// EncodeJSON serializes lv to JSON text.
//
// Cyclic references encode as null, functions are skipped, NaN and
// infinities encode as 0 and dates encode as "\/Date(ms)\/". Tables with
// only the keys 1..n encode as arrays.
func (c *Context) EncodeJSON(lv lua.LValue) (string, error) {
	return c.encodeJSON(lv)
}

// DecodeJSON parses JSON text into script values. Strings of the form
// "/Date(ms)/" decode as dates and empty text decodes as nil.
func (c *Context) DecodeJSON(text string) (lua.LValue, error) {
	return c.decodeJSON(text)
}

type jsonEncoder struct {
	c        *Context
	visiting map[lua.LValue]bool
}

func (c *Context) encodeJSON(lv lua.LValue) (string, error) {
	enc := &jsonEncoder{c: c, visiting: make(map[lua.LValue]bool)}
	raw, ok, err := enc.encode(lv)
	if err != nil {
		return "", err
	}
	if !ok {
		return "null", nil
	}
	return raw, nil
}

// encode returns the JSON text for lv and whether lv produces a value at
// all.
func (e *jsonEncoder) encode(lv lua.LValue) (string, bool, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return "null", true, nil
	case lua.LBool:
		return strconv.FormatBool(bool(v)), true, nil
	case lua.LNumber:
		return formatNumber(float64(v)), true, nil
	case lua.LString:
		return quote(canonical(string(v))), true, nil
	case *lua.LTable:
		if e.visiting[v] {
			return "null", true, nil
		}
		e.visiting[v] = true
		defer delete(e.visiting, v)
		if n, ok := arrayLength(v); ok {
			return e.array(n, v.RawGetInt)
		}
		return e.table(v)
	case *lua.LUserData:
		if d, ok := v.Value.(*dateValue); ok {
			return fmt.Sprintf(`"\/Date(%d)\/"`, d.ms), true, nil
		}
		w := e.c.unwrap(v)
		if w == nil || w.state != attached {
			return "", false, nil
		}
		if e.visiting[v] {
			return "null", true, nil
		}
		e.visiting[v] = true
		defer delete(e.visiting, v)
		return e.object(w.obj)
	}
	// Functions and threads have no JSON form.
	return "", false, nil
}

func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// arrayLength reports whether t encodes as an array: a non-empty sequence
// 1..n whose other keys hold functions or the count and length fields of a
// converted collection.
func arrayLength(t *lua.LTable) (int, bool) {
	n := t.Len()
	if n == 0 {
		return 0, false
	}
	array := true
	t.ForEach(func(k, v lua.LValue) {
		switch key := k.(type) {
		case lua.LNumber:
			i := float64(key)
			if i < 1 || i > float64(n) || i != math.Trunc(i) {
				array = false
			}
		case lua.LString:
			if _, isFn := v.(*lua.LFunction); isFn {
				return
			}
			if (key == "count" || key == "length") && v == lua.LNumber(n) {
				return
			}
			array = false
		default:
			array = false
		}
	})
	return n, array
}

func (e *jsonEncoder) array(n int, item func(int) lua.LValue) (string, bool, error) {
	out := "[]"
	for i := 1; i <= n; i++ {
		raw, ok, err := e.encode(item(i))
		if err != nil {
			return "", false, err
		}
		if !ok {
			raw = "null"
		}
		if out, err = sjson.SetRaw(out, "-1", raw); err != nil {
			return "", false, script.Wrap(script.KindConversionFailure, "json", err)
		}
	}
	return out, true, nil
}

func (e *jsonEncoder) table(t *lua.LTable) (string, bool, error) {
	values := make(map[string]lua.LValue)
	t.ForEach(func(k, v lua.LValue) {
		switch k.(type) {
		case lua.LString, lua.LNumber:
			values[k.String()] = v
		}
	})
	return e.members(values)
}

func (e *jsonEncoder) object(obj native.Object) (string, bool, error) {
	var elements []native.Value
	if obj.IsEnumerable() {
		obj.EnumerateElements(func(_ int, v native.Value) bool {
			elements = append(elements, v)
			return true
		})
	}
	if len(elements) > 0 {
		return e.array(len(elements), func(i int) lua.LValue {
			lv, err := e.c.toScript(elements[i-1])
			if err != nil {
				return lua.LNil
			}
			return lv
		})
	}

	values := make(map[string]lua.LValue)
	var convErr error
	obj.EnumerateProperties(func(name string, kind native.PropertyKind, v native.Value) bool {
		if kind == native.PropertyMethod {
			return true
		}
		lv, err := e.c.toScript(v)
		if err != nil {
			convErr = err
			return false
		}
		values[name] = lv
		return true
	})
	if convErr != nil {
		return "", false, convErr
	}
	return e.members(values)
}

func (e *jsonEncoder) members(values map[string]lua.LValue) (string, bool, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, k := range keys {
		raw, ok, err := e.encode(values[k])
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(quote(k))
		b.WriteByte(':')
		b.WriteString(raw)
	}
	b.WriteByte('}')
	return b.String(), true, nil
}

func (c *Context) decodeJSON(text string) (lua.LValue, error) {
	if strings.TrimSpace(text) == "" {
		return lua.LNil, nil
	}
	if !gjson.Valid(text) {
		return lua.LNil, script.Conversion("json", fmt.Sprintf("invalid JSON text %q", quoteForMessage(text)))
	}
	return c.decodeResult(gjson.Parse(text)), nil
}

func (c *Context) decodeResult(r gjson.Result) lua.LValue {
	switch r.Type {
	case gjson.Null:
		return lua.LNil
	case gjson.False:
		return lua.LFalse
	case gjson.True:
		return lua.LTrue
	case gjson.Number:
		return lua.LNumber(r.Num)
	case gjson.String:
		if match.Match(r.Str, datePattern) {
			inner := r.Str[len("/Date(") : len(r.Str)-len(")/")]
			if ms, err := strconv.ParseInt(inner, 10, 64); err == nil {
				return c.newDate(ms)
			}
		}
		return lua.LString(r.Str)
	}

	if r.IsArray() {
		t := c.L.NewTable()
		i := 1
		r.ForEach(func(_, v gjson.Result) bool {
			t.RawSetInt(i, c.decodeResult(v))
			i++
			return true
		})
		return t
	}
	t := c.L.NewTable()
	r.ForEach(func(k, v gjson.Result) bool {
		t.RawSetString(k.String(), c.decodeResult(v))
		return true
	})
	return t
}
