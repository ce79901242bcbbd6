package lua

import (
	"testing"
	"time"

	"github.com/dshills/scriptbridge/internal/native"
)

func TestDate(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestContext(t, WithClock(func() time.Time { return fixed }))

	tests := []struct {
		expr string
		want native.Value
	}{
		{"Date(1500):getTime()", native.Int(1500)},
		{"Date.new(1500):getTime()", native.Int(1500)},
		{"Date():getTime()", native.Int(fixed.UnixMilli())},
		{"Date.now()", native.Int(fixed.UnixMilli())},
		{"Date('2024-01-02T03:04:05Z'):getTime()", native.Int(1704164645000)},
		{"Date(Date(7)):getTime()", native.Int(7)},
		{"tostring(Date(0))", native.String("1970-01-01T00:00:00Z")},
		{"Date(1):toISOString()", native.String("1970-01-01T00:00:00.001Z")},
		{"Date(5) == Date(5)", native.Bool(true)},
		{"Date(5) == Date(6)", native.Bool(false)},
		{"Date(5) < Date(6)", native.Bool(true)},
		{"Date(6) <= Date(6)", native.Bool(true)},
		{"getmetatable(Date(0))", native.String("Date")},
		{"local d = Date(1) d:setTime(99) return d:getTime()", native.Int(99)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := mustEval(t, c, tt.expr); !got.Equal(tt.want) {
				t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestDateConversions(t *testing.T) {
	c := newTestContext(t)

	// Without a date prototype a script Date stays a script object.
	got := mustEval(t, c, "Date(1234)")
	so, ok := got.Object().(*ScriptObject)
	if got.Kind() != native.KindObject || !ok {
		t.Fatalf("Date(1234) = %v, want a script object", got)
	}
	if so.String() != "1970-01-01T00:00:01.234Z" {
		t.Errorf("String() = %q", so.String())
	}
	if kind, _ := so.PropertyInfo("getTime"); kind != native.PropertyMethod {
		t.Errorf("PropertyInfo(getTime) = %v, want method", kind)
	}
	back, err := c.ToScript(got)
	if err != nil {
		t.Fatal(err)
	}
	if back != so.Value() {
		t.Error("script object did not convert back to its Date")
	}
	if d, err := c.ToNative(back, native.Proto(native.KindDate)); err != nil || d.Millis() != 1234 {
		t.Errorf("ToNative(date proto) = %v, %v, want 1234 ms", d, err)
	}

	// The native copy does not follow later script mutation.
	mustExec(t, c, "shared = Date(10)")
	snap, err := c.ToNative(c.State().GetGlobal("shared"), native.Proto(native.KindDate))
	if err != nil {
		t.Fatal(err)
	}
	mustExec(t, c, "shared:setTime(20)")
	if snap.Millis() != 10 {
		t.Errorf("date copy = %d ms, want 10", snap.Millis())
	}

	lv, err := c.ToScript(native.DateFromTime(time.UnixMilli(42)))
	if err != nil {
		t.Fatal(err)
	}
	got, err = c.ToNative(lv, native.Proto(native.KindDate))
	if err != nil {
		t.Fatal(err)
	}
	if got.Millis() != 42 {
		t.Errorf("round trip = %d ms, want 42", got.Millis())
	}
}

func TestDateErrors(t *testing.T) {
	c := newTestContext(t)

	tests := []string{
		"Date('yesterday')",
		"Date({})",
		"Date.getTime(1)",
	}
	for _, source := range tests {
		t.Run(source, func(t *testing.T) {
			if err := c.Execute(source, "t.lua", 1); err == nil {
				t.Errorf("Execute(%q) succeeded, want an error", source)
			}
		})
	}
}
