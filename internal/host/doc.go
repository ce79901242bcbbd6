// Package host provides the demonstration object model scriptbridge
// exposes to scripts.
//
// Installing a Host on a script context makes its members global:
//
//	console.log("hello", 42)        -- writes "hello 42"
//	console.json({ a = 1 })         -- writes pretty JSON
//	local p = Point(3, 4)           -- native Point, p:length() == 5
//	local l = List(1, 2) l:push(3)  -- native List, #l == 3
//	print(version, now():getTime())
package host
