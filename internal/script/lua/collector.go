package lua

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// collect detaches wrappers and forgets script objects that scripts can no
// longer reach. gopher-lua leaves memory to the Go collector, so
// reachability is computed here by tracing from the globals, the registry,
// the stack and the rooted values. Must only run while no script executes.
func (c *Context) collect() {
	reachable := c.mark()

	detachedCount := 0
	for _, w := range c.snapshotWrappers() {
		if w.protected {
			continue
		}
		if _, ok := reachable[w.proxy]; ok {
			continue
		}
		w.detach()
		detachedCount++
	}

	forgotten := 0
	for t, so := range c.objects {
		if so.RefCount() > 0 {
			continue
		}
		if _, ok := reachable[t]; ok {
			continue
		}
		delete(c.objects, t)
		forgotten++
	}

	c.log.Debug("collected garbage",
		zap.Int("wrappers_detached", detachedCount),
		zap.Int("objects_forgotten", forgotten),
		zap.Int("wrappers_live", len(c.wrappers)))
}

func (c *Context) snapshotWrappers() []*nativeWrapper {
	out := make([]*nativeWrapper, 0, len(c.wrappers))
	for _, w := range c.wrappers {
		out = append(out, w)
	}
	return out
}

// mark returns the set of tables, functions and userdata reachable from
// the roots.
func (c *Context) mark() map[lua.LValue]struct{} {
	seen := make(map[lua.LValue]struct{})
	var pending []lua.LValue

	visit := func(lv lua.LValue) {
		switch v := lv.(type) {
		case *lua.LTable:
			if v == nil {
				return
			}
		case *lua.LFunction:
			if v == nil {
				return
			}
		case *lua.LUserData:
			if v == nil {
				return
			}
		default:
			return
		}
		if _, ok := seen[lv]; ok {
			return
		}
		seen[lv] = struct{}{}
		pending = append(pending, lv)
	}

	L := c.L
	visit(L.G.Global)
	visit(L.G.Registry)
	visit(L.Env)
	visit(c.proxyMeta)
	visit(c.dateMeta)
	for i := 1; i <= L.GetTop(); i++ {
		visit(L.Get(i))
	}
	for lv := range c.roots {
		visit(lv)
	}

	for len(pending) > 0 {
		lv := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		switch v := lv.(type) {
		case *lua.LTable:
			v.ForEach(func(k, val lua.LValue) {
				visit(k)
				visit(val)
			})
			visit(v.Metatable)
		case *lua.LFunction:
			visit(v.Env)
			for _, uv := range v.Upvalues {
				if uv != nil {
					visit(uv.Value())
				}
			}
		case *lua.LUserData:
			visit(v.Metatable)
			visit(v.Env)
			if w := c.unwrap(v); w != nil {
				for _, m := range w.methods {
					visit(m)
				}
				for sf := range w.slots {
					visit(sf.fn)
				}
				visit(w.expando)
			}
		}
	}
	return seen
}
