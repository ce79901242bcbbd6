package host

import (
	"strings"

	"github.com/dshills/scriptbridge/internal/native"
)

// List is a growable list of values. Scripts index it from one; native
// code from zero. Objects stored in a list are referenced by it and
// callables are released when removed.
type List struct {
	*native.Helper
	items []native.Value
}

// NewList creates a list holding items.
func NewList(items ...native.Value) *List {
	l := &List{}
	l.Helper = native.NewHelper("List")
	l.SetStrict(false)
	for _, v := range items {
		l.Push(v)
	}

	l.SetArrayHandler(l.Len, l.At, l.Put)
	l.RegisterProperty("length", native.Proto(native.KindInt64),
		func() native.Value { return native.Int(int64(l.Len())) }, nil)
	l.RegisterMethod("push", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		for _, v := range args {
			l.Push(v)
		}
		return native.Int(int64(l.Len())), nil
	}, native.Returns(native.KindInt64), native.VariadicArgs()))
	l.RegisterMethod("remove", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		i := int(args[0].Int())
		if i == 0 {
			i = l.Len()
		}
		return native.Bool(l.Remove(i - 1)), nil
	},
		native.Returns(native.KindBool),
		native.Args(native.KindInt64),
		native.Defaults(native.Int(0))))
	l.RegisterMethod("join", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		parts := make([]string, len(l.items))
		for i, v := range l.items {
			parts[i] = Format(v)
		}
		return native.String(strings.Join(parts, args[0].Str())), nil
	},
		native.Returns(native.KindString),
		native.Args(native.KindString),
		native.Defaults(native.String(","))))
	l.OnDestroy(func() {
		for _, v := range l.items {
			drop(v)
		}
		l.items = nil
	})
	return l
}

// Len returns the number of items.
func (l *List) Len() int { return len(l.items) }

// At returns item i, or void when i is out of range.
func (l *List) At(i int) native.Value {
	if i < 0 || i >= len(l.items) {
		return native.Void()
	}
	return l.items[i]
}

// Put replaces item i. Putting at Len appends.
func (l *List) Put(i int, v native.Value) bool {
	switch {
	case i == len(l.items):
		l.Push(v)
		return true
	case i < 0 || i > len(l.items):
		return false
	}
	retain(v)
	drop(l.items[i])
	l.items[i] = v
	return true
}

// Push appends v.
func (l *List) Push(v native.Value) {
	retain(v)
	l.items = append(l.items, v)
}

// Remove deletes item i and reports whether it existed.
func (l *List) Remove(i int) bool {
	if i < 0 || i >= len(l.items) {
		return false
	}
	v := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	drop(v)
	return true
}

func retain(v native.Value) {
	if obj := v.Object(); obj != nil {
		obj.Ref()
	}
}

func drop(v native.Value) {
	if obj := v.Object(); obj != nil {
		obj.Unref(false)
	}
	v.Release()
}

// ListConstructor returns the constructor behind the List class. Its
// arguments become the initial items.
func ListConstructor() native.Callable {
	return native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		return native.Obj(NewList(args...)), nil
	}, native.Returns(native.KindObject), native.VariadicArgs())
}
