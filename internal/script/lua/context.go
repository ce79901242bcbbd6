package lua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/scriptbridge/internal/native"
	"github.com/dshills/scriptbridge/internal/script"
	"github.com/dshills/scriptbridge/internal/script/watchdog"
)

// Context is a script context backed by a gopher-lua state.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe and neither is a
// Context. All operations must be called from the goroutine that owns the
// context; other goroutines go through an Executor.
type Context struct {
	L   *lua.LState
	id  string
	log *zap.Logger
	now func() time.Time

	wrappers  map[native.Object]*nativeWrapper
	owned     map[ownedKey]*ScriptFunction
	functions map[*ScriptFunction]struct{}
	objects   map[lua.LValue]*ScriptObject
	roots     map[lua.LValue]int

	proxyMeta *lua.LTable
	dateMeta  *lua.LTable

	watchdog *watchdog.Watchdog
	op       *opContext
	nudger   *watchdog.Nudger

	depth     int
	gcPending bool

	// raised records the bridge error most recently raised into the script
	// so the error surfacing at the top level can be classified.
	raised          *script.Error
	raisedValue     lua.LValue
	convertingError bool

	closed bool
}

var _ script.Context = (*Context)(nil)

type settings struct {
	logger        *zap.Logger
	libraries     []string
	ceiling       time.Duration
	checkInterval int
	nudge         time.Duration
	callStackSize int
	registrySize  int
	hook          watchdog.Hook
	now           func() time.Time
}

// Option configures a Context.
type Option func(*settings)

// WithLogger sets the logger. The context adds its id to every entry.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithLibraries selects the standard libraries to open. The base library
// is always opened.
func WithLibraries(names ...string) Option {
	return func(s *settings) {
		s.libraries = names
	}
}

// WithCeiling sets how long a script may run before the blocked-script
// hook is consulted.
func WithCeiling(d time.Duration) Option {
	return func(s *settings) {
		s.ceiling = d
	}
}

// WithCheckInterval sets how many VM instructions run between watchdog
// ticks.
func WithCheckInterval(n int) Option {
	return func(s *settings) {
		s.checkInterval = n
	}
}

// WithNudge sets the interval of the background nudger. Zero selects half
// the ceiling; a negative interval disables the nudger.
func WithNudge(d time.Duration) Option {
	return func(s *settings) {
		s.nudge = d
	}
}

// WithCallStackSize sets the maximum call depth of the state.
func WithCallStackSize(n int) Option {
	return func(s *settings) {
		s.callStackSize = n
	}
}

// WithRegistrySize sets the initial register count of the state.
func WithRegistrySize(n int) Option {
	return func(s *settings) {
		s.registrySize = n
	}
}

// WithBlockedHook installs the blocked-script hook.
func WithBlockedHook(h watchdog.Hook) Option {
	return func(s *settings) {
		s.hook = h
	}
}

// WithClock replaces the clock used by the watchdog and Date.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// New creates a script context.
func New(opts ...Option) (*Context, error) {
	s := settings{
		ceiling:       watchdog.DefaultCeiling,
		checkInterval: DefaultCheckInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = Logger()
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: s.callStackSize,
		RegistrySize:  s.registrySize,
	})
	if err := openLibraries(L, s.libraries); err != nil {
		L.Close()
		return nil, err
	}
	removeUnsafe(L)

	c := &Context{
		L:         L,
		id:        uuid.NewString(),
		now:       s.now,
		wrappers:  make(map[native.Object]*nativeWrapper),
		owned:     make(map[ownedKey]*ScriptFunction),
		functions: make(map[*ScriptFunction]struct{}),
		objects:   make(map[lua.LValue]*ScriptObject),
		roots:     make(map[lua.LValue]int),
	}
	c.log = s.logger.With(zap.String("context", c.id))

	c.watchdog = watchdog.New(s.ceiling, watchdog.WithClock(s.now), watchdog.WithHook(s.hook))
	c.op = newOpContext(c.watchdog, s.checkInterval, c.CurrentFileAndLine)
	c.op.now = s.now
	if s.nudge >= 0 {
		c.nudger = watchdog.StartNudger(context.Background(), c.watchdog, s.nudge)
		c.op.nudger = c.nudger
	}
	L.SetContext(c.op)

	c.installProxyMeta()
	c.installDate()
	c.installGlobals()

	c.log.Debug("script context created",
		zap.Duration("ceiling", c.watchdog.Ceiling()),
		zap.Int("check_interval", c.op.every))
	return c, nil
}

// ID returns the context's unique id.
func (c *Context) ID() string { return c.id }

// State returns the underlying gopher-lua state.
//
// WARNING: Direct access bypasses the bridge's bookkeeping. Values stored
// through it are not rooted.
func (c *Context) State() *lua.LState { return c.L }

// Watchdog returns the context's execution watchdog.
func (c *Context) Watchdog() *watchdog.Watchdog { return c.watchdog }

// IsClosed reports whether Close has been called.
func (c *Context) IsClosed() bool { return c.closed }

func (c *Context) installGlobals() {
	L := c.L
	L.SetGlobal("CollectGarbage", L.NewFunction(func(L *lua.LState) int {
		c.CollectGarbage()
		return 0
	}))

	bridge := L.SetFuncs(L.NewTable(), c.iterators())
	bridge.RawSetString("toJSON", L.NewFunction(func(L *lua.LState) int {
		text, err := c.encodeJSON(L.Get(1))
		if err != nil {
			c.raise(L, script.Wrap(script.KindConversionFailure, "json", err))
		}
		L.Push(lua.LString(text))
		return 1
	}))
	bridge.RawSetString("fromJSON", L.NewFunction(func(L *lua.LState) int {
		lv, err := c.decodeJSON(L.CheckString(1))
		if err != nil {
			c.raise(L, script.Wrap(script.KindConversionFailure, "json", err))
		}
		L.Push(lv)
		return 1
	}))
	L.SetGlobal("bridge", bridge)
}

// load compiles source. Lines are numbered from startLine.
func (c *Context) load(source, label string, startLine int) (*lua.LFunction, error) {
	if label == "" {
		label = "script"
	}
	if startLine > 1 {
		source = strings.Repeat("\n", startLine-1) + source
	}
	return c.L.Load(strings.NewReader(canonical(source)), label)
}

func (c *Context) compileError(op string, err error) *script.Error {
	return &script.Error{Kind: script.KindEngineException, Op: op, Detail: err.Error(), Cause: err}
}

// Execute implements script.Context.
func (c *Context) Execute(source, label string, startLine int) error {
	if c.closed {
		return ErrContextClosed
	}
	fn, err := c.load(source, label, startLine)
	if err != nil {
		return c.compileError("compile", err)
	}

	c.enter()
	defer c.leave()

	L := c.L
	top := L.GetTop()
	defer L.SetTop(top)

	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		serr := c.scriptError("execute", err)
		c.log.Error("script execution failed", zap.String("label", label), zap.Error(serr))
		return serr
	}
	return nil
}

// Compile implements script.Context. The returned function is root-owned;
// release it when done.
func (c *Context) Compile(source, label string, startLine int) (native.Callable, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	fn, err := c.load(source, label, startLine)
	if err != nil {
		return nil, c.compileError("compile", err)
	}
	return c.capture(nil, nil, fn), nil
}

// Evaluate implements script.Context. Names resolve against target's
// properties first and the globals second. A nil target evaluates against
// the globals. An unwrapped target is wrapped first, as AssignFromNative
// does.
func (c *Context) Evaluate(target native.Object, expr string) (native.Value, error) {
	if c.closed {
		return native.Void(), ErrContextClosed
	}
	if strings.TrimSpace(expr) == "" {
		return native.Obj(target), nil
	}

	L := c.L
	env := L.G.Global
	if target != nil {
		c.wrap(target)
		env = c.scope(c.wrappers[target])
	}

	fn, err := c.load("return ("+expr+")", "eval", 1)
	if err != nil {
		if fn, err = c.load(expr, "eval", 1); err != nil {
			return native.Void(), c.compileError("evaluate", err)
		}
	}
	fn.Env = env

	c.enter()
	defer c.leave()

	top := L.GetTop()
	defer L.SetTop(top)

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return native.Void(), c.scriptError("evaluate", err)
	}
	return c.sniff(L.Get(-1))
}

// scope returns an environment resolving names on w first.
func (c *Context) scope(w *nativeWrapper) *lua.LTable {
	L := c.L
	env := L.NewTable()
	meta := L.NewTable()
	meta.RawSetString("__index", L.NewClosure(func(L *lua.LState) int {
		key := L.Get(2)
		v := L.GetTable(w.proxy, key)
		if v == lua.LNil {
			v = L.GetTable(L.G.Global, key)
		}
		L.Push(v)
		return 1
	}, w.proxy))
	meta.RawSetString("__newindex", L.NewClosure(func(L *lua.LState) int {
		L.SetTable(w.proxy, L.Get(2), L.Get(3))
		return 0
	}, w.proxy))
	L.SetMetatable(env, meta)
	return env
}

// SetGlobalObject implements script.Context. Global reads fall through to
// obj's properties. Global writes go to obj when it has the property and
// to the globals table otherwise. A nil obj removes the global object.
func (c *Context) SetGlobalObject(obj native.Object) error {
	if c.closed {
		return ErrContextClosed
	}
	L := c.L
	globals := L.G.Global
	if obj == nil {
		globals.Metatable = lua.LNil
		return nil
	}

	proxy := c.wrap(obj)
	w := c.wrappers[obj]

	meta := L.NewTable()
	meta.RawSetString("__index", L.NewClosure(func(L *lua.LState) int {
		if w.state != attached {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(L.GetTable(proxy, L.Get(2)))
		return 1
	}, proxy))
	meta.RawSetString("__newindex", L.NewClosure(func(L *lua.LState) int {
		t := L.CheckTable(1)
		key, value := L.Get(2), L.Get(3)
		if w.state == attached {
			if kind, _ := w.info(lua.LVAsString(key)); kind != native.PropertyNotExist {
				L.SetTable(proxy, key, value)
				return 0
			}
		}
		t.RawSet(key, value)
		return 0
	}, proxy))
	globals.Metatable = meta

	c.log.Debug("global object set", zap.String("class", w.className()))
	return nil
}

// RegisterClass implements script.Context. The class is callable,
// Name(...), and also offers Name.new(...).
func (c *Context) RegisterClass(name string, ctor native.Callable) error {
	if c.closed {
		return ErrContextClosed
	}
	if ctor == nil {
		return &script.Error{Kind: script.KindConstruction, Op: "register", Detail: "nil constructor for class " + name}
	}
	if ctor.HasMetadata() && ctor.ReturnType() != native.KindObject {
		return &script.Error{
			Kind:   script.KindConstruction,
			Op:     "register",
			Detail: fmt.Sprintf("constructor of class %s returns %s, not an object", name, ctor.ReturnType()),
		}
	}

	L := c.L
	class := L.NewTable()
	class.RawSetString("new", L.NewFunction(func(L *lua.LState) int {
		first := 1
		if L.Get(1) == class {
			first = 2
		}
		return c.construct(L, name, ctor, first)
	}))
	meta := L.NewTable()
	meta.RawSetString("__call", L.NewFunction(func(L *lua.LState) int {
		return c.construct(L, name, ctor, 2)
	}))
	L.SetMetatable(class, meta)
	L.SetGlobal(name, class)
	return nil
}

// construct runs a class constructor. Callable arguments are owned by a
// protected shell wrapper that is attached to the new object afterwards.
func (c *Context) construct(L *lua.LState, name string, ctor native.Callable, first int) int {
	shell := c.newWrapper(nil)
	shell.protect()

	fail := func(cause error) {
		shell.detach()
		c.raise(L, &script.Error{Kind: script.KindConstruction, Op: "construct", Detail: fmt.Sprintf(msgConstruct, name), Cause: cause})
	}

	args, serr := c.argsToNative(L, shell, name, ctor, first)
	if serr != nil {
		shell.detach()
		c.raise(L, serr)
	}
	result, err := ctor.Call(nil, args)
	if err != nil {
		fail(err)
	}
	obj := result.Object()
	if result.Kind() != native.KindObject || obj == nil {
		result.Release()
		fail(nil)
	}

	shell.unprotect()
	w := shell.adopt(obj)
	c.checkException(L, w)
	L.Push(w.proxy)
	return 1
}

// AssignFromNative implements script.Context. obj is wrapped if needed and
// objectExpr is evaluated against it; the empty expression selects obj.
func (c *Context) AssignFromNative(obj native.Object, objectExpr, property string, value native.Value) error {
	if c.closed {
		return ErrContextClosed
	}
	target, err := c.Evaluate(obj, objectExpr)
	if err != nil {
		return err
	}

	var holder lua.LValue
	switch {
	case target.Kind() == native.KindObject && target.Object() != nil:
		if holder, err = c.objectToScript(target.Object()); err != nil {
			return err
		}
	case obj == nil && objectExpr == "":
		holder = c.L.G.Global
	default:
		return &script.Error{
			Kind:   script.KindPropertyNotFound,
			Op:     "assign",
			Detail: fmt.Sprintf("%q does not name an object", quoteForMessage(objectExpr)),
		}
	}

	lv, err := c.toScript(value)
	if err != nil {
		return err
	}

	c.enter()
	defer c.leave()
	if _, err := c.pcall(func(L *lua.LState) lua.LValue {
		L.SetField(holder, property, lv)
		return lua.LNil
	}); err != nil {
		return c.scriptError("assign", err)
	}
	return nil
}

// CollectGarbage implements script.Context.
func (c *Context) CollectGarbage() {
	if c.closed {
		return
	}
	if c.depth > 0 {
		c.gcPending = true
		return
	}
	c.collect()
}

// CurrentFileAndLine implements script.Context. It returns "" and 0 when
// no script is running.
func (c *Context) CurrentFileAndLine() (string, int) {
	if c.closed {
		return "", 0
	}
	for level := 0; ; level++ {
		dbg, ok := c.L.GetStack(level)
		if !ok {
			break
		}
		if _, err := c.L.GetInfo("Sl", dbg, lua.LNil); err != nil {
			continue
		}
		if dbg.CurrentLine <= 0 {
			continue
		}
		return dbg.Source, dbg.CurrentLine
	}
	return "", 0
}

// OnScriptBlocked implements script.Context.
func (c *Context) OnScriptBlocked(hook func(label string, line int) bool) {
	c.watchdog.SetHook(hook)
}

// Close implements script.Context. Every wrapper is detached, releasing
// its native reference, and every script function becomes inert.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	if c.depth > 0 {
		return ErrContextBusy
	}
	c.nudger.Stop()

	wrappers := make([]*nativeWrapper, 0, len(c.wrappers))
	for _, w := range c.wrappers {
		wrappers = append(wrappers, w)
	}
	for _, w := range wrappers {
		w.detach()
	}
	for sf := range c.functions {
		sf.detach()
	}
	c.objects = make(map[lua.LValue]*ScriptObject)
	c.roots = make(map[lua.LValue]int)

	c.closed = true
	c.L.Close()
	c.log.Debug("script context closed", zap.Int("wrappers", len(wrappers)))
	return nil
}

func (c *Context) enter() {
	if c.depth == 0 {
		c.watchdog.Begin()
		c.raised = nil
		c.raisedValue = nil
	}
	c.depth++
}

func (c *Context) leave() {
	c.depth--
	if c.depth > 0 {
		return
	}
	c.watchdog.End()
	if c.gcPending {
		c.gcPending = false
		c.collect()
	}
}

func (c *Context) root(lv lua.LValue) {
	c.roots[lv]++
}

func (c *Context) unroot(lv lua.LValue) {
	if n := c.roots[lv]; n > 1 {
		c.roots[lv] = n - 1
		return
	}
	delete(c.roots, lv)
}

// pcall runs fn on the state under a protected call.
func (c *Context) pcall(fn func(L *lua.LState) lua.LValue) (lua.LValue, error) {
	L := c.L
	top := L.GetTop()
	defer L.SetTop(top)

	var out lua.LValue = lua.LNil
	err := L.GPCall(func(L *lua.LState) int {
		out = fn(L)
		return 0
	}, lua.LNil)
	return out, err
}

// raise raises e's detail as a script error. It does not return.
func (c *Context) raise(L *lua.LState, e *script.Error) {
	c.raised = e
	c.raisedValue = nil
	L.RaiseError("%s", e.Detail)
}

// raiseValue raises lv as a script error on behalf of e. It does not
// return.
func (c *Context) raiseValue(L *lua.LState, e *script.Error, lv lua.LValue) {
	c.raised = e
	c.raisedValue = lv
	L.Error(lv, 1)
}

// matchesRaised reports whether obj, an error surfacing from a protected
// call, is the one last raised by the bridge.
func (c *Context) matchesRaised(obj lua.LValue) bool {
	if c.raised == nil {
		return false
	}
	if c.raisedValue != nil {
		if obj == c.raisedValue {
			return true
		}
		if s, ok := c.raisedValue.(lua.LString); ok {
			return strings.HasSuffix(obj.String(), string(s))
		}
		return false
	}
	s, ok := obj.(lua.LString)
	return ok && strings.HasSuffix(string(s), c.raised.Detail)
}

// scriptError classifies an error returned by a protected call.
func (c *Context) scriptError(op string, err error) *script.Error {
	if c.watchdog.Aborted() {
		return &script.Error{Kind: script.KindWatchdogTimeout, Op: op, Detail: "script ran too long", Cause: watchdog.ErrTimeout}
	}

	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &script.Error{Kind: script.KindEngineException, Op: op, Detail: err.Error(), Cause: err}
	}

	obj := apiErr.Object
	if c.matchesRaised(obj) {
		out := *c.raised
		out.Op = op
		if out.Value.IsVoid() && c.raisedValue != nil {
			out.Value = c.errorValue(obj)
		}
		c.raised = nil
		c.raisedValue = nil
		return &out
	}

	return &script.Error{
		Kind:   script.KindEngineException,
		Op:     op,
		Detail: obj.String(),
		Cause:  err,
		Value:  c.errorValue(obj),
	}
}

// errorValue converts a raised script value for the host.
func (c *Context) errorValue(obj lua.LValue) native.Value {
	if c.convertingError || obj == nil {
		return native.Void()
	}
	if _, isFn := obj.(*lua.LFunction); isFn {
		return native.Void()
	}
	c.convertingError = true
	defer func() { c.convertingError = false }()

	v, err := c.sniff(obj)
	if err != nil {
		return native.Void()
	}
	return v
}
