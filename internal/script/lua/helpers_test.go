package lua

import (
	"errors"
	"strconv"
	"testing"

	"github.com/dshills/scriptbridge/internal/native"
)

func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	c, err := New(append([]Option{WithNudge(-1)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustEval(t *testing.T, c *Context, expr string) native.Value {
	t.Helper()
	v, err := c.Evaluate(nil, expr)
	if err != nil {
		t.Fatalf("Evaluate(%q) error = %v", expr, err)
	}
	return v
}

func mustExec(t *testing.T, c *Context, source string) {
	t.Helper()
	if err := c.Execute(source, "test.lua", 1); err != nil {
		t.Fatalf("Execute(%q) error = %v", source, err)
	}
}

// calculator is a strict native object exercising every property kind.
type calculator struct {
	*native.Helper
	name      string
	callback  native.Callable
	destroyed int
	lastArgs  []native.Value
	exception native.Object
}

func newCalculator() *calculator {
	c := &calculator{name: "calc"}
	c.Helper = native.NewHelper("Calculator")
	c.RegisterProperty("name", native.Proto(native.KindString),
		func() native.Value { return native.String(c.name) },
		func(v native.Value) bool { c.name = v.Str(); return true })
	c.RegisterProperty("onChange", native.Proto(native.KindCallable),
		func() native.Value { return native.Func(c.callback) },
		func(v native.Value) bool { c.callback = v.Callable(); return true })
	c.RegisterProperty("fixed", native.Proto(native.KindInt64),
		func() native.Value { return native.Int(1) },
		nil)
	c.RegisterConstant("pi", native.Double(3.5))
	c.RegisterMethod("add", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		return native.Int(args[0].Int() + args[1].Int()), nil
	},
		native.Returns(native.KindInt64),
		native.Args(native.KindInt64, native.KindInt64),
		native.Defaults(native.Int(3))))
	c.RegisterMethod("echo", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		c.lastArgs = args
		if len(args) == 0 {
			return native.Void(), nil
		}
		return args[0], nil
	}))
	c.RegisterMethod("fail", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		return native.Void(), errors.New("kaput")
	}, native.Returns(native.KindVoid), native.Args()))
	c.RegisterMethod("throw", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		c.SetPendingException(c.exception)
		return native.Void(), nil
	}, native.Returns(native.KindVoid), native.Args()))
	c.RegisterMethod("fire", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		if c.callback == nil {
			return native.Void(), nil
		}
		return c.callback.Call(nil, args)
	}))
	c.OnDestroy(func() { c.destroyed++ })
	return c
}

// bag is a non-strict object with elements.
type bag struct {
	*native.Helper
	items []native.Value
}

func newBag(items ...native.Value) *bag {
	b := &bag{items: items}
	b.Helper = native.NewHelper("Bag")
	b.SetStrict(false)
	b.SetArrayHandler(
		func() int { return len(b.items) },
		func(i int) native.Value {
			if i < 0 || i >= len(b.items) {
				return native.Void()
			}
			return b.items[i]
		},
		func(i int, v native.Value) bool {
			if i < 0 || i >= len(b.items) {
				return false
			}
			b.items[i] = v
			return true
		})
	b.RegisterProperty("size", native.Proto(native.KindInt64),
		func() native.Value { return native.Int(int64(len(b.items))) }, nil)
	return b
}

// host is installed as the global object in tests.
type host struct {
	*native.Helper
	calc *calculator
	bag  *bag
}

func newHost(c *Context) *host {
	h := &host{calc: newCalculator(), bag: newBag(native.Int(10), native.Int(20))}
	h.Helper = native.NewHelper("Host")
	// The host owns its children.
	h.calc.Ref()
	h.bag.Ref()
	h.RegisterProperty("calc", native.Proto(native.KindObject),
		func() native.Value { return native.Obj(h.calc) }, nil)
	h.RegisterProperty("bag", native.Proto(native.KindObject),
		func() native.Value { return native.Obj(h.bag) }, nil)
	h.RegisterProperty("list", native.Proto(native.KindObject),
		func() native.Value {
			return native.Obj(native.NewArray(native.Int(1), native.Int(2), native.Int(3)))
		}, nil)
	h.RegisterMethod("where", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		label, line := c.CurrentFileAndLine()
		return native.String(label + ":" + strconv.Itoa(line)), nil
	}, native.Returns(native.KindString), native.Args()))
	return h
}

func withHost(t *testing.T, opts ...Option) (*Context, *host) {
	t.Helper()
	c := newTestContext(t, opts...)
	h := newHost(c)
	if err := c.SetGlobalObject(h); err != nil {
		t.Fatalf("SetGlobalObject() error = %v", err)
	}
	return c, h
}
