package host

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dshills/scriptbridge/internal/native"
)

// Point is a mutable 2D point.
type Point struct {
	*native.Helper
	X, Y float64
}

// NewPoint creates a point.
func NewPoint(x, y float64) *Point {
	p := &Point{X: x, Y: y}
	p.Helper = native.NewHelper("Point")
	p.RegisterProperty("x", native.Proto(native.KindDouble),
		func() native.Value { return native.Double(p.X) },
		func(v native.Value) bool { p.X = v.Double(); return true })
	p.RegisterProperty("y", native.Proto(native.KindDouble),
		func() native.Value { return native.Double(p.Y) },
		func(v native.Value) bool { p.Y = v.Double(); return true })
	p.RegisterMethod("length", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		return native.Double(math.Hypot(p.X, p.Y)), nil
	}, native.Returns(native.KindDouble), native.Args()))
	p.RegisterMethod("add", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		other, ok := args[0].Object().(*Point)
		if !ok {
			return native.Void(), fmt.Errorf("add expects a Point, got %s", Format(args[0]))
		}
		return native.Obj(NewPoint(p.X+other.X, p.Y+other.Y)), nil
	}, native.Returns(native.KindObject), native.Args(native.KindObject)))
	p.RegisterMethod("toString", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		return native.String(p.String()), nil
	}, native.Returns(native.KindString), native.Args()))
	return p
}

// String returns "Point(x, y)".
func (p *Point) String() string {
	return "Point(" + strconv.FormatFloat(p.X, 'g', -1, 64) + ", " + strconv.FormatFloat(p.Y, 'g', -1, 64) + ")"
}

// PointConstructor returns the constructor behind the Point class.
// Both coordinates default to zero.
func PointConstructor() native.Callable {
	return native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		return native.Obj(NewPoint(args[0].Double(), args[1].Double())), nil
	},
		native.Returns(native.KindObject),
		native.Args(native.KindDouble, native.KindDouble),
		native.Defaults(native.Double(0), native.Double(0)))
}
