package lua

import (
	"fmt"
	"slices"

	lua "github.com/yuin/gopher-lua"
)

// DefaultLibraries are the standard libraries opened when none are
// configured.
var DefaultLibraries = []string{"base", "table", "string", "math"}

// libraries lists the standard libraries a context may open.
//
// These are intentionally NOT available:
//   - coroutine (threads fork the state's context and escape the watchdog)
//   - io, debug (file system access, can bypass the bridge)
//   - package (can load arbitrary modules)
var libraries = map[string]lua.LGFunction{
	"base":   lua.OpenBase,
	"table":  lua.OpenTable,
	"string": lua.OpenString,
	"math":   lua.OpenMath,
	"os":     lua.OpenOs,
}

// openLibraries opens the named standard libraries. The base library is
// always opened.
func openLibraries(L *lua.LState, names []string) error {
	if len(names) == 0 {
		names = DefaultLibraries
	}

	lua.OpenBase(L)
	for _, name := range names {
		open, ok := libraries[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLibrary, name)
		}
		if name == "base" {
			continue
		}
		open(L)
	}
	if slices.Contains(names, "os") {
		restrictOS(L)
	}
	return nil
}

// removeUnsafe removes functions that load code from outside the bridge.
func removeUnsafe(L *lua.LState) {
	unsafe := []string{
		"dofile",     // Load and execute file
		"loadfile",   // Load file as function
		"load",       // Load chunk from a reader function
		"loadstring", // Load string as function
		"require",    // Load module
		"module",     // Define module
		"newproxy",   // Userdata outside the bridge
	}
	for _, name := range unsafe {
		L.SetGlobal(name, lua.LNil)
	}
}

// restrictOS keeps only the side-effect free parts of the os library.
func restrictOS(L *lua.LState) {
	mod, ok := L.GetGlobal("os").(*lua.LTable)
	if !ok {
		return
	}
	safe := map[string]bool{"clock": true, "date": true, "difftime": true, "time": true}
	var drop []string
	mod.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok && !safe[string(ks)] {
			drop = append(drop, string(ks))
		}
	})
	for _, name := range drop {
		mod.RawSetString(name, lua.LNil)
	}
}
