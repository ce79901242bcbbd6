package lua

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptbridge/internal/script"
)

func TestEncodeJSON(t *testing.T) {
	c, _ := withHost(t)

	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"object", "return { b = 1, a = 'x', f = function() end }", `{"a":"x","b":1}`},
		{"array", "return { 1, 2.5, 'three', true }", `[1,2.5,"three",true]`},
		{"nested", "return { list = { 1, 2 }, empty = {} }", `{"empty":{},"list":[1,2]}`},
		{"mixed keys", "return { 1, 2, x = 3 }", `{"1":1,"2":2,"x":3}`},
		{"nan", "return { v = 0/0 }", `{"v":0}`},
		{"infinity", "return { v = 1/0 }", `{"v":0}`},
		{"date", "return { d = Date(5) }", `{"d":"\/Date(5)\/"}`},
		{"string", "return 'a\"b'", `"a\"b"`},
		{"nil", "return nil", `null`},
		{"function", "return function() end", `null`},
		{"collection", "return list", `[1,2,3]`},
		{"native elements", "return bag", `[10,20]`},
		{"native properties", "return calc", `{"fixed":1,"name":"calc","onChange":null,"pi":3.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := c.load(tt.source, "json.lua", 1)
			if err != nil {
				t.Fatal(err)
			}
			L := c.State()
			L.Push(fn)
			if err := L.PCall(0, 1, nil); err != nil {
				t.Fatal(err)
			}
			lv := L.Get(-1)
			L.Pop(1)

			got, err := c.EncodeJSON(lv)
			if err != nil {
				t.Fatalf("EncodeJSON() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeJSONCycle(t *testing.T) {
	c := newTestContext(t)

	got := mustEval(t, c, `
		local t = { name = 'loop' }
		t.self = t
		return bridge.toJSON(t)
	`)
	if got.Str() != `{"name":"loop","self":null}` {
		t.Errorf("toJSON(cycle) = %s", got.Str())
	}
	if !gjson.Valid(got.Str()) {
		t.Error("cyclic encoding is not valid JSON")
	}
}

func TestDecodeJSON(t *testing.T) {
	c := newTestContext(t)

	got := mustEval(t, c, `
		local t = bridge.fromJSON('{"a":[1,2,3],"s":"x","n":null,"b":true,"d":"\\/Date(4)\\/"}')
		assert(t.s == 'x')
		assert(t.n == nil)
		assert(t.b == true)
		assert(#t.a == 3)
		return t.a[2] + t.d:getTime()
	`)
	if got.Int() != 6 {
		t.Errorf("decoded sum = %v, want 6", got)
	}
}

func TestDecodeJSONEdges(t *testing.T) {
	c := newTestContext(t)

	lv, err := c.DecodeJSON("   ")
	if err != nil {
		t.Fatalf("DecodeJSON(blank) error = %v", err)
	}
	if lv != lua.LNil {
		t.Errorf("DecodeJSON(blank) = %v, want nil", lv)
	}

	if _, err := c.DecodeJSON("{not json"); !errors.Is(err, script.ErrConversionFailure) {
		t.Errorf("DecodeJSON(invalid) error = %v, want conversion failure", err)
	}

	err = c.Execute("bridge.fromJSON('[1,')", "t.lua", 1)
	if !errors.Is(err, script.ErrConversionFailure) {
		t.Errorf("fromJSON(invalid) error = %v, want conversion failure", err)
	}

	lv, err = c.DecodeJSON(`"/Date(nope)/"`)
	if err != nil {
		t.Fatal(err)
	}
	if lv != lua.LString("/Date(nope)/") {
		t.Errorf("DecodeJSON(bad date) = %v, want the string", lv)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := newTestContext(t)

	got := mustEval(t, c, `
		local text = bridge.toJSON({ x = { 1, 2 }, y = 'z' })
		local back = bridge.fromJSON(text)
		return bridge.toJSON(back) == text
	`)
	if !got.Bool() {
		t.Error("JSON round trip changed the text")
	}
}
