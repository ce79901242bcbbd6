package lua

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
)

func scriptObjectOf(t *testing.T, c *Context, expr string) *ScriptObject {
	t.Helper()
	v := mustEval(t, c, expr)
	so, ok := v.Object().(*ScriptObject)
	if !ok {
		t.Fatalf("%s = %v, want a script object", expr, v)
	}
	return so
}

func TestScriptObjectProperties(t *testing.T) {
	c := newTestContext(t)
	mustExec(t, c, "obj = { name = 'x', n = 3, greet = function() return 'hi' end }")
	so := scriptObjectOf(t, c, "obj")

	tests := []struct {
		name string
		kind native.PropertyKind
	}{
		{"name", native.PropertyDynamic},
		{"n", native.PropertyDynamic},
		{"greet", native.PropertyMethod},
		{"missing", native.PropertyNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if kind, _ := so.PropertyInfo(tt.name); kind != tt.kind {
				t.Errorf("PropertyInfo(%q) = %v, want %v", tt.name, kind, tt.kind)
			}
		})
	}
	if len(c.functions) != 0 {
		t.Errorf("inspecting properties rooted %d functions", len(c.functions))
	}

	if got := so.GetProperty("name"); got.Str() != "x" {
		t.Errorf("GetProperty(name) = %v", got)
	}
	if !so.SetProperty("n", native.Int(9)) {
		t.Fatal("SetProperty(n) failed")
	}
	if got := mustEval(t, c, "obj.n"); got.Int() != 9 {
		t.Errorf("obj.n = %v, want 9", got)
	}

	greet := so.GetProperty("greet")
	v, err := greet.Callable().Call(nil, nil)
	if err != nil || v.Str() != "hi" {
		t.Errorf("greet() = %v, %v", v, err)
	}
	greet.Release()
	if so.IsStrict() {
		t.Error("script objects should not be strict")
	}
}

func TestScriptObjectMetamethods(t *testing.T) {
	c := newTestContext(t)
	mustExec(t, c, `
		obj = setmetatable({}, { __index = function(_, k) return k .. '!' end })
	`)
	so := scriptObjectOf(t, c, "obj")
	if got := so.GetProperty("hey"); got.Str() != "hey!" {
		t.Errorf("GetProperty(hey) = %v, want hey!", got)
	}
}

func TestScriptObjectElements(t *testing.T) {
	c := newTestContext(t)
	mustExec(t, c, "arr = { 10, 20, 30, label = 'a' }")
	so := scriptObjectOf(t, c, "arr")

	if got := so.GetPropertyByIndex(0); got.Int() != 10 {
		t.Errorf("GetPropertyByIndex(0) = %v, want 10", got)
	}
	if !so.SetPropertyByIndex(3, native.Int(40)) {
		t.Fatal("SetPropertyByIndex(3) failed")
	}

	var sum int64
	var indexes []int
	so.EnumerateElements(func(i int, v native.Value) bool {
		indexes = append(indexes, i)
		sum += v.Int()
		return true
	})
	if sum != 100 || len(indexes) != 4 || indexes[0] != 0 {
		t.Errorf("elements sum = %d, indexes = %v", sum, indexes)
	}

	var names []string
	so.EnumerateProperties(func(name string, _ native.PropertyKind, _ native.Value) bool {
		names = append(names, name)
		return true
	})
	if len(names) != 1 || names[0] != "label" {
		t.Errorf("properties = %v, want [label]", names)
	}
}

func TestScriptObjectRooting(t *testing.T) {
	c := newTestContext(t)

	table := c.State().NewTable()
	so := c.scriptObject(table)
	if _, ok := c.roots[table]; ok {
		t.Fatal("unreferenced script object should not be rooted")
	}

	so.Ref()
	if _, ok := c.roots[table]; !ok {
		t.Fatal("referenced script object should be rooted")
	}
	c.CollectGarbage()
	if c.objects[table] != so {
		t.Error("referenced script object should survive collection")
	}

	so.Ref()
	so.Unref(false)
	if _, ok := c.roots[table]; !ok {
		t.Error("script object should stay rooted while referenced")
	}

	so.Unref(false)
	if _, ok := c.roots[table]; ok {
		t.Error("script object should be unrooted after the last reference")
	}
	if _, ok := c.objects[table]; ok {
		t.Error("destroyed script object should be forgotten")
	}
}

func TestScriptObjectForgottenWhenUnreachable(t *testing.T) {
	c := newTestContext(t)

	table := c.State().NewTable()
	c.scriptObject(table)
	c.CollectGarbage()
	if _, ok := c.objects[table]; ok {
		t.Error("unreachable script object should be forgotten")
	}
}

func TestCompile(t *testing.T) {
	c := newTestContext(t)

	fn, err := c.Compile("counter = (counter or 0) + 1 return counter", "compiled.lua", 1)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	for want := int64(1); want <= 3; want++ {
		v, err := fn.Call(nil, nil)
		if err != nil {
			t.Fatalf("Call() error = %v", err)
		}
		if v.Int() != want {
			t.Errorf("Call() = %v, want %d", v, want)
		}
	}

	sf := fn.(*ScriptFunction)
	c.CollectGarbage()
	if sf.Detached() {
		t.Fatal("compiled function detached before release")
	}
	sf.Release()
	if !sf.Detached() {
		t.Error("released function should be detached")
	}
	if v, err := fn.Call(nil, nil); err != nil || !v.IsVoid() {
		t.Errorf("released Call() = %v, %v, want void", v, err)
	}

	if _, err := c.Compile("return (", "bad.lua", 1); !errors.Is(err, script.ErrEngineException) {
		t.Errorf("Compile(bad) error = %v, want engine exception", err)
	}
}

func TestScriptFunctionCall(t *testing.T) {
	c, h := withHost(t)

	mustExec(t, c, `
		function describe(self, suffix) return self.name .. suffix end
		function explode() error('bang') end
		function pair() return 1, 2 end
	`)

	describe, err := c.Sniff(c.State().GetGlobal("describe"))
	if err != nil {
		t.Fatal(err)
	}
	defer describe.Release()
	v, err := describe.Callable().Call(h.calc, []native.Value{native.String("?")})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if v.Str() != "calc?" {
		t.Errorf("describe() = %v, want calc?", v)
	}

	explode, err := c.Sniff(c.State().GetGlobal("explode"))
	if err != nil {
		t.Fatal(err)
	}
	defer explode.Release()
	_, err = explode.Callable().Call(nil, nil)
	if !errors.Is(err, script.ErrEngineException) {
		t.Errorf("explode() error = %v, want engine exception", err)
	}

	pair, err := c.Sniff(c.State().GetGlobal("pair"))
	if err != nil {
		t.Fatal(err)
	}
	defer pair.Release()
	if v, err := pair.Callable().Call(nil, nil); err != nil || v.Int() != 1 {
		t.Errorf("pair() = %v, %v, want the first result", v, err)
	}
}

func TestScriptFunctionMetadata(t *testing.T) {
	c := newTestContext(t)

	meta := native.NewFunc(nil, native.Returns(native.KindString), native.Args(native.KindInt64))
	mustExec(t, c, "function num() return 12 end")

	v, err := c.ToNative(c.State().GetGlobal("num"), native.Func(meta))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	fn := v.Callable()
	if !fn.HasMetadata() || fn.ReturnType() != native.KindString || fn.ArgCount() != 1 {
		t.Errorf("metadata = %v %s %d", fn.HasMetadata(), fn.ReturnType(), fn.ArgCount())
	}
	got, err := fn.Call(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(native.String("12")) {
		t.Errorf("num() = %v, want the string 12", got)
	}
}

func TestScriptErrorPassesThroughNative(t *testing.T) {
	c, _ := withHost(t)

	mustExec(t, c, `
		calc.onChange = function() error({ code = 7 }) end
	`)
	got := mustEval(t, c, `
		local ok, e = pcall(function() calc:fire() end)
		return (not ok) and e.code
	`)
	if got.Int() != 7 {
		t.Errorf("error value = %v, want the table raised by the callback", got)
	}
}

func TestBorrowedFunctionsNeedNoRelease(t *testing.T) {
	c := newTestContext(t)
	mustExec(t, c, "obj = { f = function() end }")
	so := scriptObjectOf(t, c, "obj")

	so.EnumerateProperties(func(_ string, kind native.PropertyKind, v native.Value) bool {
		if kind != native.PropertyMethod {
			t.Errorf("kind = %v, want method", kind)
		}
		v.Release()
		return true
	})
	if len(c.functions) != 0 || len(c.roots) != 0 {
		t.Errorf("enumeration left %d functions and %d roots", len(c.functions), len(c.roots))
	}
	if _, ok := so.Table().RawGetString("f").(*lua.LFunction); !ok {
		t.Error("table lost its function")
	}
}
