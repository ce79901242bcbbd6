package lua

import (
	"errors"
	"strings"
	"testing"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
)

func TestProxyIdentity(t *testing.T) {
	c, _ := withHost(t)

	tests := []string{
		"rawequal(calc, calc)",
		"calc == calc",
		"calc ~= bag",
		"rawequal(calc.add, calc.add)",
		"getmetatable(calc) == 'native'",
		"type(calc) == 'userdata'",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if got := mustEval(t, c, expr); !got.Bool() {
				t.Errorf("%s = %v, want true", expr, got)
			}
		})
	}
}

func TestProxyProperties(t *testing.T) {
	c, _ := withHost(t)

	tests := []struct {
		expr string
		want native.Value
	}{
		{"calc:add(2, 3)", native.Int(5)},
		{"calc.add(2, 3)", native.Int(5)},
		{"calc:add(2)", native.Int(5)},
		{"calc:add(2, nil)", native.Int(5)},
		{"calc:add(2.5, 1)", native.Int(4)},
		{"calc:add('4', 1)", native.Int(5)},
		{"calc.pi", native.Double(3.5)},
		{"calc.name", native.String("calc")},
		{"calc.fixed", native.Int(1)},
		{"calc.missing == nil", native.Bool(true)},
		{"tostring(calc)", native.String("[object Calculator]")},
		{"calc:toString()", native.String("[object Calculator]")},
		{"calc:echo('a', 2)", native.String("a")},
		{"#bag", native.Int(2)},
		{"bag[0]", native.Int(10)},
		{"bag[1]", native.Int(20)},
		{"bag[1.0]", native.Int(20)},
		{"bag[1.5] == nil", native.Bool(true)},
		{"bag.size", native.Int(2)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := mustEval(t, c, tt.expr); !got.Equal(tt.want) {
				t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestProxySetProperty(t *testing.T) {
	c, h := withHost(t)

	mustExec(t, c, "calc.name = 'renamed'")
	if h.calc.name != "renamed" {
		t.Errorf("name = %q, want renamed", h.calc.name)
	}

	mustExec(t, c, "calc.name = 42")
	if h.calc.name != "42" {
		t.Errorf("name = %q, want 42", h.calc.name)
	}
}

func TestProxyErrors(t *testing.T) {
	c, _ := withHost(t)

	tests := []struct {
		source  string
		kind    *script.Error
		message string
	}{
		{"calc.pi = 1", script.ErrConversionFailure, "Failed to set native property pi (may be readonly)."},
		{"calc.fixed = 2", script.ErrConversionFailure, "Failed to set native property fixed (may be readonly)."},
		{"calc.add = 1", script.ErrConversionFailure, "Failed to set native property add (may be readonly)."},
		{"calc.nope = 1", script.ErrPropertyNotFound, "The native object doesn't support setting property nope."},
		{"calc:fail()", script.ErrNativeException, "kaput"},
		{"calc:add(1, 2, 3)", script.ErrArityMismatch, "Wrong number of arguments for function(add): 3 (expected: 2, at least: 1)"},
		{"calc:add()", script.ErrArityMismatch, "0 (expected: 2, at least: 1)"},
		{"calc:add('x', 1)", script.ErrConversionFailure, "of function(add) to native."},
		{"calc()", script.ErrPropertyNotFound, "Object can't be called as a function"},
		{"calc.fixed = {}", script.ErrConversionFailure, "Failed to convert script property fixed"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			err := c.Execute(tt.source, "t.lua", 1)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Execute() error = %v, want kind %s", err, tt.kind.Kind)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not contain %q", err, tt.message)
			}
		})
	}
}

func TestProxyErrorsAreCatchable(t *testing.T) {
	c, _ := withHost(t)

	got := mustEval(t, c, `
		local ok, err = pcall(function() calc.pi = 1 end)
		return (not ok) and string.find(err, 'readonly', 1, true) ~= nil
	`)
	if !got.Bool() {
		t.Error("pcall should catch a readonly error")
	}
	mustExec(t, c, "x = calc:add(1, 1)")
}

func TestExpando(t *testing.T) {
	c, h := withHost(t)

	mustExec(t, c, `
		bag.color = 'red'
		bag[1] = 15
		bag[5] = 'x'
	`)
	if got := mustEval(t, c, "bag.color"); got.Str() != "red" {
		t.Errorf("bag.color = %v, want red", got)
	}
	if got := h.bag.items[1].Int(); got != 15 {
		t.Errorf("items[1] = %d, want 15", got)
	}
	if got := mustEval(t, c, "bag[5]"); got.Str() != "x" {
		t.Errorf("bag[5] = %v, want x", got)
	}
	if got := len(h.bag.items); got != 2 {
		t.Errorf("len(items) = %d, want 2", got)
	}
}

func TestBridgeIterators(t *testing.T) {
	c, _ := withHost(t)

	sum := mustEval(t, c, `
		local s = 0
		for i, v in bridge.elements(bag) do s = s + v end
		return s
	`)
	if sum.Int() != 30 {
		t.Errorf("sum of elements = %v, want 30", sum)
	}

	names := mustEval(t, c, `
		local out = ''
		for name in bridge.properties(calc) do out = out .. name .. ',' end
		return out
	`)
	if names.Str() != "name,onChange,fixed,pi," {
		t.Errorf("properties = %q", names.Str())
	}
}

func TestPendingException(t *testing.T) {
	c, h := withHost(t)
	h.calc.exception = h.bag

	err := c.Execute("calc:throw()", "t.lua", 1)
	if !errors.Is(err, script.ErrNativeException) {
		t.Fatalf("Execute() error = %v, want native exception", err)
	}
	var se *script.Error
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not a *script.Error", err)
	}
	if se.Value.Object() != h.bag {
		t.Errorf("Value = %v, want the pending exception object", se.Value)
	}

	mustExec(t, c, `
		local ok, e = pcall(calc.throw)
		assert(not ok)
		assert(tostring(e) == '[object Bag]')
		assert(rawequal(e, bag))
	`)
}

func TestCallbackProperty(t *testing.T) {
	c, h := withHost(t)

	mustExec(t, c, `
		f = function(x) return x * 2 end
		calc.onChange = f
	`)
	first, ok := h.calc.callback.(*ScriptFunction)
	if !ok {
		t.Fatalf("callback is %T, want *ScriptFunction", h.calc.callback)
	}
	if !first.Owned() {
		t.Error("callback should be owned by the calculator's wrapper")
	}

	mustExec(t, c, "calc.onChange = f")
	if h.calc.callback != first {
		t.Error("assigning the same function twice should yield the same callable")
	}
	if got := mustEval(t, c, "rawequal(calc.onChange, f)"); !got.Bool() {
		t.Error("reading the callback back should yield the script function")
	}
	if got := mustEval(t, c, "calc:fire(5)"); got.Int() != 10 {
		t.Errorf("fire(5) = %v, want 10", got)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !first.Detached() {
		t.Error("callback should detach when the context closes")
	}
	v, err := h.calc.callback.Call(nil, []native.Value{native.Int(1)})
	if err != nil || !v.IsVoid() {
		t.Errorf("detached callback returned %v, %v", v, err)
	}
}

func TestCallbackSurvivesWhileOwnerLives(t *testing.T) {
	c, h := withHost(t)

	mustExec(t, c, "calc.onChange = function(x) return x + 1 end")
	c.CollectGarbage()
	if got := mustEval(t, c, "calc:fire(1)"); got.Int() != 2 {
		t.Errorf("fire(1) = %v, want 2", got)
	}
	sf := h.calc.callback.(*ScriptFunction)
	if sf.Detached() {
		t.Error("callback detached while its owner is alive")
	}
}

func TestUseAfterDestroy(t *testing.T) {
	c, h := withHost(t)

	mustExec(t, c, "keep = calc")
	h.calc.Destroy()

	tests := []string{
		"return keep.name",
		"keep.name = 'x'",
		"return #keep",
	}
	for _, source := range tests {
		t.Run(source, func(t *testing.T) {
			err := c.Execute(source, "t.lua", 1)
			if !errors.Is(err, script.ErrUseAfterDetach) {
				t.Errorf("Execute() error = %v, want use after detach", err)
			}
		})
	}

	if got := mustEval(t, c, "tostring(keep)"); got.Str() != "[object deleted]" {
		t.Errorf("tostring(keep) = %v", got)
	}
}

func TestDestroyDuringCall(t *testing.T) {
	c, h := withHost(t)

	h.calc.RegisterMethod("selfDestruct", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		h.calc.Destroy()
		return native.Int(1), nil
	}, native.Returns(native.KindInt64), native.Args()))

	err := c.Execute("calc:selfDestruct()", "t.lua", 1)
	if !errors.Is(err, script.ErrUseAfterDetach) {
		t.Errorf("Execute() error = %v, want use after detach", err)
	}
}

func TestCollections(t *testing.T) {
	c, _ := withHost(t)

	tests := []struct {
		expr string
		want native.Value
	}{
		{"#list", native.Int(3)},
		{"list.count", native.Int(3)},
		{"list.length", native.Int(3)},
		{"list:item(0)", native.Int(1)},
		{"list.item(2)", native.Int(3)},
		{"list[1]", native.Int(1)},
		{"type(list)", native.String("table")},
		{"local l = list return rawequal(l:toArray(), l)", native.Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := mustEval(t, c, tt.expr); !got.Equal(tt.want) {
				t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestFractionalKeysAreNamed(t *testing.T) {
	c, h := withHost(t)

	mustExec(t, c, "bag[0.5] = 7")
	if got := h.bag.items[0]; !got.Equal(native.Int(10)) {
		t.Errorf("items[0] = %v, want 10", got)
	}
	if got := mustEval(t, c, "bag[0.5]"); !got.Equal(native.Int(7)) {
		t.Errorf("bag[0.5] = %v, want the expando 7", got)
	}
}

// sulky leaves a pending exception behind its dynamic and indexed getters.
type sulky struct {
	*native.Helper
}

func newSulky(exception native.Object) *sulky {
	s := &sulky{Helper: native.NewHelper("Sulky")}
	s.SetDynamicPropertyHandler(func(name string) native.Value {
		if name != "mood" {
			return native.Void()
		}
		s.SetPendingException(exception)
		return native.String("bad")
	}, nil)
	s.SetArrayHandler(nil, func(i int) native.Value {
		s.SetPendingException(exception)
		return native.Int(int64(i))
	}, nil)
	s.RegisterProperty("name", native.Proto(native.KindString),
		func() native.Value { return native.String("sulky") }, nil)
	return s
}

func TestPendingExceptionAfterPropertyAccess(t *testing.T) {
	c := newTestContext(t)
	exception := newBag()
	lv, err := c.ToScript(native.Obj(newSulky(exception)))
	if err != nil {
		t.Fatal(err)
	}
	c.State().SetGlobal("sulky", lv)

	for _, source := range []string{"x = sulky.mood", "x = sulky[0]"} {
		t.Run(source, func(t *testing.T) {
			err := c.Execute(source, "t.lua", 1)
			if !errors.Is(err, script.ErrNativeException) {
				t.Fatalf("Execute() error = %v, want native exception", err)
			}
			var se *script.Error
			if !errors.As(err, &se) || se.Value.Object() != native.Object(exception) {
				t.Errorf("error value = %v, want the pending exception", err)
			}

			// The exception was consumed by the access that raised it.
			mustExec(t, c, "y = sulky.name")
		})
	}
}

func TestNativeToString(t *testing.T) {
	c, h := withHost(t)

	mode := ""
	h.calc.exception = h.bag
	h.calc.RegisterMethod("toString", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		switch mode {
		case "throw":
			h.calc.SetPendingException(h.calc.exception)
		case "destroy":
			h.calc.Destroy()
		}
		return native.String("calc!"), nil
	}, native.Returns(native.KindString), native.Args()))

	if got := mustEval(t, c, "tostring(calc)"); got.Str() != "calc!" {
		t.Errorf("tostring(calc) = %v, want calc!", got)
	}

	mode = "throw"
	if err := c.Execute("x = tostring(calc)", "t.lua", 1); !errors.Is(err, script.ErrNativeException) {
		t.Errorf("tostring with a pending exception error = %v, want native exception", err)
	}

	mode = "destroy"
	if err := c.Execute("x = tostring(calc)", "t.lua", 1); !errors.Is(err, script.ErrUseAfterDetach) {
		t.Errorf("self-destroying tostring error = %v, want use after detach", err)
	}
}
