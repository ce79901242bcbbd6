package lua

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// canonical returns s as valid UTF-8. Lua strings are byte strings; text
// that is not valid UTF-8 is taken to be ISO-8859-1.
func canonical(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return string([]rune(s))
	}
	return out
}

// quoteForMessage shortens a value printed in an error message.
func quoteForMessage(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
