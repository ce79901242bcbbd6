package host

import (
	"strconv"
	"time"

	"github.com/tidwall/pretty"

	"github.com/dshills/scriptbridge/internal/native"
)

// Format renders a value the way console.log prints it.
func Format(v native.Value) string {
	switch v.Kind() {
	case native.KindVoid:
		return "nil"
	case native.KindString, native.KindWideString:
		if v.IsNull() {
			return "nil"
		}
		return v.Str()
	case native.KindDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case native.KindDate:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case native.KindJSON:
		return string(pretty.Ugly([]byte(v.JSONText())))
	case native.KindCallable:
		if v.IsNull() {
			return "nil"
		}
		return "function"
	case native.KindObject:
		obj := v.Object()
		if obj == nil {
			return "nil"
		}
		if s, ok := obj.(interface{ String() string }); ok {
			return s.String()
		}
		if n, ok := obj.(native.Named); ok && n.ClassName() != "" {
			return "[object " + n.ClassName() + "]"
		}
		return "[object]"
	}
	return v.String()
}
