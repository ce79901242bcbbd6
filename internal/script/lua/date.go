package lua

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// dateValue backs a script Date: milliseconds since the Unix epoch.
type dateValue struct {
	ms int64
}

func (d *dateValue) time() time.Time { return time.UnixMilli(d.ms).UTC() }

func (c *Context) newDate(ms int64) *lua.LUserData {
	ud := c.L.NewUserData()
	ud.Value = &dateValue{ms: ms}
	ud.Metatable = c.dateMeta
	return ud
}

func checkDate(L *lua.LState, n int) *dateValue {
	ud := L.CheckUserData(n)
	d, ok := ud.Value.(*dateValue)
	if !ok {
		L.ArgError(n, "Date expected")
	}
	return d
}

// installDate registers the Date class:
//
//	Date()          current time
//	Date(ms)        milliseconds since the epoch
//	Date("...")     RFC 3339 text
//	Date.now()      current time in milliseconds
func (c *Context) installDate() {
	L := c.L

	methods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"getTime": func(L *lua.LState) int {
			L.Push(lua.LNumber(checkDate(L, 1).ms))
			return 1
		},
		"setTime": func(L *lua.LState) int {
			d := checkDate(L, 1)
			d.ms = int64(L.CheckNumber(2))
			return 0
		},
		"toISOString": func(L *lua.LState) int {
			L.Push(lua.LString(checkDate(L, 1).time().Format(time.RFC3339Nano)))
			return 1
		},
	})

	c.dateMeta = L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString(checkDate(L, 1).time().Format(time.RFC3339Nano)))
			return 1
		},
		"__eq": func(L *lua.LState) int {
			L.Push(lua.LBool(checkDate(L, 1).ms == checkDate(L, 2).ms))
			return 1
		},
		"__lt": func(L *lua.LState) int {
			L.Push(lua.LBool(checkDate(L, 1).ms < checkDate(L, 2).ms))
			return 1
		},
		"__le": func(L *lua.LState) int {
			L.Push(lua.LBool(checkDate(L, 1).ms <= checkDate(L, 2).ms))
			return 1
		},
	})
	c.dateMeta.RawSetString("__index", methods)
	c.dateMeta.RawSetString("__metatable", lua.LString("Date"))

	construct := func(L *lua.LState, first int) int {
		var ms int64
		switch v := L.Get(first).(type) {
		case *lua.LNilType:
			ms = c.now().UnixMilli()
		case lua.LNumber:
			ms = int64(v)
		case lua.LString:
			t, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				L.ArgError(first, "invalid date text")
			}
			ms = t.UnixMilli()
		case *lua.LUserData:
			ms = checkDate(L, first).ms
		default:
			L.ArgError(first, "number, string or Date expected")
		}
		L.Push(c.newDate(ms))
		return 1
	}

	class := L.NewTable()
	class.RawSetString("new", L.NewFunction(func(L *lua.LState) int {
		return construct(L, 1)
	}))
	class.RawSetString("now", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(c.now().UnixMilli()))
		return 1
	}))
	classMeta := L.NewTable()
	classMeta.RawSetString("__call", L.NewFunction(func(L *lua.LState) int {
		return construct(L, 2)
	}))
	L.SetMetatable(class, classMeta)
	L.SetGlobal("Date", class)
}
