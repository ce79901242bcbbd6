// Package lua binds native objects to gopher-lua scripts.
//
// This package provides:
//   - A script Context implementing script.Context
//   - Value conversion between native values and Lua values
//   - Proxies exposing native objects to scripts
//   - Native views of script functions and tables
//   - A watchdog consulted while scripts run
//   - An Executor serializing access from other goroutines
//
// # Context
//
//	ctx, err := lua.New(
//	    lua.WithCeiling(5 * time.Second),
//	    lua.WithLibraries("base", "table", "string", "math"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	if err := ctx.SetGlobalObject(host); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ctx.Execute(source, "main.lua", 1); err != nil {
//	    log.Fatal(err)
//	}
//
// # Proxies
//
// A native object reaches a script as a userdata proxy. There is one proxy
// per object per context, so identity is preserved across conversions.
// Property reads and writes, method calls and calls of the proxy itself go
// to the native object. A proxy is detached when its object is destroyed,
// when the collector finds it unreachable, or when the context closes;
// using a detached proxy raises an error.
//
// Methods are called with either syntax:
//
//	obj:add(2, 3)
//	obj.add(2, 3)
//
// # Lifetime
//
// gopher-lua has no finalizers, so the context traces reachability itself.
// CollectGarbage, or the CollectGarbage() global, detaches every proxy not
// reachable from the globals, the registry, the stack or a native holder.
// A proxy whose object is referenced by native code is never collected.
//
// # Conversions
//
// Lua nil is null. An omitted argument is undefined, which differs from
// null only for strings: undefined converts to "" and null to the null
// string. Integers are rounded half away from zero; NaN does not convert
// to an integer. Collections become 1-based tables that also answer
// count, length, item(i) and toArray(). Dates are Date userdata.
//
// # Globals
//
//   - CollectGarbage() runs or schedules a collection
//   - Date(...) constructs dates
//   - bridge.properties(obj), bridge.elements(obj) iterate native objects
//   - bridge.toJSON(v), bridge.fromJSON(s) convert JSON text
package lua
