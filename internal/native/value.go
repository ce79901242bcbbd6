// Package native defines the host side of the script bridge: the tagged
// value exchanged across the bridge, native callables with optional type
// metadata, and the capability surface a reference-counted native object
// exposes to a script engine.
package native

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/pretty"
	"golang.org/x/text/encoding/unicode"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	KindVoid Kind = iota
	KindBool
	KindInt64
	KindDouble
	KindString
	KindWideString
	KindBinary
	KindDate
	KindCallable
	KindObject
	KindJSON
	KindAny
)

var kindNames = [...]string{
	KindVoid:       "void",
	KindBool:       "bool",
	KindInt64:      "int64",
	KindDouble:     "double",
	KindString:     "string",
	KindWideString: "wstring",
	KindBinary:     "binary",
	KindDate:       "date",
	KindCallable:   "callable",
	KindObject:     "object",
	KindJSON:       "json",
	KindAny:        "any",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable tagged value. The zero Value is Void.
//
// A Value that embeds a Callable or Object transfers ownership of it to
// whoever holds the Value. Callables that need explicit disposal implement
// Releaser; use Release to dispose of a Value that will not be handed on.
type Value struct {
	kind Kind
	null bool
	b    bool
	i    int64
	f    float64
	s    string
	ws   []uint16
	bin  []byte
	fn   Callable
	obj  Object
	any  any
}

// Void returns the void value.
func Void() Value { return Value{} }

// Bool returns a bool value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an int64 value.
func Int(i int64) Value { return Value{kind: KindInt64, i: i} }

// Double returns a double value.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// String returns a narrow (UTF-8) string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// NullString returns the null narrow string.
func NullString() Value { return Value{kind: KindString, null: true} }

// WideString returns a wide string value holding UTF-16 code units.
func WideString(units []uint16) Value {
	if units == nil {
		units = []uint16{}
	}
	return Value{kind: KindWideString, ws: units}
}

// NullWideString returns the null wide string.
func NullWideString() Value { return Value{kind: KindWideString, null: true} }

// Binary returns an opaque binary value. A nil slice is the null binary.
func Binary(b []byte) Value { return Value{kind: KindBinary, bin: b, null: b == nil} }

// Date returns a date value from milliseconds since the Unix epoch.
func Date(millis int64) Value { return Value{kind: KindDate, i: millis} }

// DateFromTime returns a date value for t.
func DateFromTime(t time.Time) Value { return Date(t.UnixMilli()) }

// Func returns a callable value. A nil callable is the null callable.
func Func(c Callable) Value { return Value{kind: KindCallable, fn: c, null: c == nil} }

// Obj returns a native object value. A nil object is the null object.
func Obj(o Object) Value { return Value{kind: KindObject, obj: o, null: o == nil} }

// JSON returns a value holding JSON text.
func JSON(text string) Value { return Value{kind: KindJSON, s: text} }

// Any returns a value holding an opaque Go value.
func Any(v any) Value { return Value{kind: KindAny, any: v, null: v == nil} }

// Proto returns the zero value of kind k, for use as a conversion prototype.
func Proto(k Kind) Value {
	switch k {
	case KindString:
		return String("")
	case KindWideString:
		return WideString(nil)
	case KindCallable:
		return Func(nil)
	case KindObject:
		return Obj(nil)
	case KindBinary:
		return Value{kind: KindBinary}
	case KindAny:
		return Any(nil)
	default:
		return Value{kind: k}
	}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsVoid reports whether v is void.
func (v Value) IsVoid() bool { return v.kind == KindVoid }

// IsNull reports whether v is a null string, wide string, binary,
// callable, object or any value.
func (v Value) IsNull() bool { return v.null }

// Bool returns the bool held by v, or false.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Int returns v as an int64. Doubles round half away from zero and
// saturate outside the int64 range.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInt64, KindDate:
		return v.i
	case KindDouble:
		switch f := math.Round(v.f); {
		case math.IsNaN(f):
			return 0
		case f >= 1<<63:
			return math.MaxInt64
		case f < -(1 << 63):
			return math.MinInt64
		default:
			return int64(f)
		}
	case KindBool:
		if v.b {
			return 1
		}
	}
	return 0
}

// Double returns v as a float64.
func (v Value) Double() float64 {
	switch v.kind {
	case KindDouble:
		return v.f
	case KindInt64, KindDate:
		return float64(v.i)
	case KindBool:
		if v.b {
			return 1
		}
	}
	return 0
}

// Str returns the narrow string held by v. Wide strings are narrowed to
// UTF-8.
func (v Value) Str() string {
	switch v.kind {
	case KindString, KindJSON:
		return v.s
	case KindWideString:
		return DecodeWide(v.ws)
	case KindBinary:
		return string(v.bin)
	}
	return ""
}

// Wide returns the UTF-16 code units held by v. Narrow strings are widened.
func (v Value) Wide() []uint16 {
	switch v.kind {
	case KindWideString:
		return v.ws
	case KindString:
		if v.null {
			return nil
		}
		return EncodeWide(v.s)
	}
	return nil
}

// Bytes returns the binary payload of v.
func (v Value) Bytes() []byte {
	switch v.kind {
	case KindBinary:
		return v.bin
	case KindString:
		return []byte(v.s)
	}
	return nil
}

// Millis returns the epoch milliseconds of a date value.
func (v Value) Millis() int64 {
	if v.kind == KindDate {
		return v.i
	}
	return 0
}

// Time returns a date value as a time.Time.
func (v Value) Time() time.Time { return time.UnixMilli(v.Millis()) }

// Callable returns the callable held by v, or nil.
func (v Value) Callable() Callable { return v.fn }

// Object returns the native object held by v, or nil.
func (v Value) Object() Object { return v.obj }

// JSONText returns the JSON text held by v.
func (v Value) JSONText() string {
	if v.kind == KindJSON {
		return v.s
	}
	return ""
}

// Interface returns the opaque Go value held by an Any value.
func (v Value) Interface() any { return v.any }

// Release disposes of the callable embedded in v, if it needs disposal.
func (v Value) Release() {
	if r, ok := v.fn.(Releaser); ok {
		r.Release()
	}
}

// Equal reports whether v and o hold the same kind and payload. Callables
// and objects compare by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.null != o.null {
		return false
	}
	switch v.kind {
	case KindVoid:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt64, KindDate:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString, KindJSON:
		return v.s == o.s
	case KindWideString:
		if len(v.ws) != len(o.ws) {
			return false
		}
		for i := range v.ws {
			if v.ws[i] != o.ws[i] {
				return false
			}
		}
		return true
	case KindBinary:
		return string(v.bin) == string(o.bin)
	case KindCallable:
		return v.fn == o.fn
	case KindObject:
		return v.obj == o.obj
	case KindAny:
		return v.any == o.any
	}
	return false
}

// String returns a printable representation of v.
func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString, KindWideString:
		if v.null {
			return "(null)"
		}
		return strconv.Quote(v.Str())
	case KindBinary:
		return fmt.Sprintf("binary(%d)", len(v.bin))
	case KindDate:
		return "date(" + v.Time().UTC().Format(time.RFC3339Nano) + ")"
	case KindCallable:
		if v.null {
			return "callable(null)"
		}
		return fmt.Sprintf("callable(%p)", v.fn)
	case KindObject:
		if v.null {
			return "object(null)"
		}
		return fmt.Sprintf("object(%p)", v.obj)
	case KindJSON:
		return "json(" + string(pretty.Ugly([]byte(v.s))) + ")"
	case KindAny:
		return fmt.Sprintf("any(%v)", v.any)
	}
	return v.kind.String()
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeWide converts UTF-8 text to UTF-16 code units.
func EncodeWide(s string) []uint16 {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Invalid UTF-8: keep every byte as its own code unit.
		units := make([]uint16, len(s))
		for i := 0; i < len(s); i++ {
			units[i] = uint16(s[i])
		}
		return units
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return units
}

// DecodeWide converts UTF-16 code units to UTF-8 text. Unpaired surrogates
// become U+FFFD.
func DecodeWide(units []uint16) string {
	b := make([]byte, 2*len(units))
	for i, u := range units {
		b[2*i] = byte(u)
		b[2*i+1] = byte(u >> 8)
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}
