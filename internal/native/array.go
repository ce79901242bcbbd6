package native

// Array is a read-only Collection over a fixed list of values. It takes
// ownership of the values it holds and releases them when destroyed.
type Array struct {
	*Helper
	items []Value
}

// NewArray returns a floating Array holding items.
func NewArray(items ...Value) *Array {
	a := &Array{Helper: NewHelper("Array"), items: items}
	a.SetArrayHandler(a.Count, a.Item, nil)
	a.RegisterProperty("count", Proto(KindInt64), func() Value { return Int(int64(a.Count())) }, nil)
	a.RegisterMethod("item", NewFunc(func(_ Object, args []Value) (Value, error) {
		return a.Item(int(args[0].Int())), nil
	}, Returns(KindAny), Args(KindInt64)))
	a.OnDestroy(func() {
		for _, v := range a.items {
			v.Release()
		}
		a.items = nil
	})
	return a
}

// Count implements Collection.
func (a *Array) Count() int { return len(a.items) }

// Item implements Collection. Out-of-range indexes yield Void.
func (a *Array) Item(index int) Value {
	if index < 0 || index >= len(a.items) {
		return Void()
	}
	return a.items[index]
}
