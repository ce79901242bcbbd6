package host

import (
	"io"
	"time"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
)

// Host is the global object of a script context.
type Host struct {
	*native.Helper
	Console *Console
	now     func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithClock replaces the clock behind now().
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		h.now = now
	}
}

// New creates a host writing console output to out.
func New(out io.Writer, version string, opts ...Option) *Host {
	h := &Host{
		Console: NewConsole(out),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.Helper = native.NewHelper("Host")
	h.Console.Ref()
	h.OnDestroy(func() { h.Console.Unref(false) })

	h.RegisterProperty("console", native.Proto(native.KindObject),
		func() native.Value { return native.Obj(h.Console) }, nil)
	h.RegisterConstant("version", native.String(version))
	h.RegisterMethod("now", native.NewFunc(func(native.Object, []native.Value) (native.Value, error) {
		return native.DateFromTime(h.now()), nil
	}, native.Returns(native.KindDate), native.Args()))
	return h
}

// Install makes h the global object of c and registers the Point and List
// classes.
func (h *Host) Install(c script.Context) error {
	if err := c.SetGlobalObject(h); err != nil {
		return err
	}
	if err := c.RegisterClass("Point", PointConstructor()); err != nil {
		return err
	}
	return c.RegisterClass("List", ListConstructor())
}
