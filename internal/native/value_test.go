package native

import (
	"math"
	"testing"
	"time"
)

func TestValueKinds(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind Kind
		null bool
	}{
		{"void", Void(), KindVoid, false},
		{"zero value", Value{}, KindVoid, false},
		{"bool", Bool(true), KindBool, false},
		{"int", Int(7), KindInt64, false},
		{"double", Double(1.5), KindDouble, false},
		{"string", String("x"), KindString, false},
		{"null string", NullString(), KindString, true},
		{"wide", WideString(nil), KindWideString, false},
		{"null wide", NullWideString(), KindWideString, true},
		{"binary", Binary([]byte{1}), KindBinary, false},
		{"null binary", Binary(nil), KindBinary, true},
		{"date", Date(0), KindDate, false},
		{"null callable", Func(nil), KindCallable, true},
		{"null object", Obj(nil), KindObject, true},
		{"json", JSON("{}"), KindJSON, false},
		{"any", Any(3), KindAny, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", tt.v.Kind(), tt.kind)
			}
			if tt.v.IsNull() != tt.null {
				t.Errorf("IsNull() = %v, want %v", tt.v.IsNull(), tt.null)
			}
		})
	}
}

func TestValueIntRounding(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{2.5, 3},
		{-2.5, -3},
		{2.4, 2},
		{-0.4, 0},
		{math.NaN(), 0},
		{1e20, math.MaxInt64},
		{-1e20, math.MinInt64},
		{math.Inf(1), math.MaxInt64},
	}

	for _, tt := range tests {
		if got := Double(tt.in).Int(); got != tt.want {
			t.Errorf("Double(%v).Int() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValueWideString(t *testing.T) {
	for _, s := range []string{"", "hello", "héllo", "日本語", "emoji \U0001F600"} {
		t.Run(s, func(t *testing.T) {
			units := EncodeWide(s)
			if got := DecodeWide(units); got != s {
				t.Errorf("DecodeWide(EncodeWide(%q)) = %q", s, got)
			}
		})
	}

	units := EncodeWide("\U0001F600")
	if len(units) != 2 {
		t.Errorf("surrogate pair encoded as %d units, want 2", len(units))
	}
	if got := WideString(units).Str(); got != "\U0001F600" {
		t.Errorf("WideString.Str() = %q", got)
	}
}

func TestValueEqual(t *testing.T) {
	fn := NewFunc(nil)

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"void", Void(), Void(), true},
		{"ints", Int(1), Int(1), true},
		{"int vs double", Int(1), Double(1), false},
		{"nan", Double(math.NaN()), Double(math.NaN()), true},
		{"null vs empty", NullString(), String(""), false},
		{"wide", WideString(EncodeWide("ab")), WideString(EncodeWide("ab")), true},
		{"callable identity", Func(fn), Func(fn), true},
		{"callable different", Func(fn), Func(NewFunc(nil)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueDate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	v := DateFromTime(now)
	if v.Millis() != now.UnixMilli() {
		t.Errorf("Millis() = %d, want %d", v.Millis(), now.UnixMilli())
	}
	if !v.Time().Equal(now) {
		t.Errorf("Time() = %v, want %v", v.Time(), now)
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Void(), "void"},
		{Int(3), "3"},
		{String("a"), `"a"`},
		{NullString(), "(null)"},
		{JSON("{ \"a\" : 1 }"), `json({"a":1})`},
	}

	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

type releaseCounter struct {
	*Fn
	released int
}

func (r *releaseCounter) Release() { r.released++ }

func TestValueRelease(t *testing.T) {
	rc := &releaseCounter{Fn: NewFunc(nil)}
	Func(rc).Release()
	if rc.released != 1 {
		t.Errorf("released = %d, want 1", rc.released)
	}

	// Values without a releasable callable are a no-op.
	Int(1).Release()
	Func(nil).Release()
}
