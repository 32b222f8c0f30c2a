package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// ConvertToStarlark converts a plain Go value to a Starlark value
func ConvertToStarlark(val any) starlark.Value {
	switch v := val.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case string:
		return starlark.String(v)
	case int:
		return starlark.MakeInt(v)
	case int64:
		return starlark.MakeInt64(v)
	case float64:
		return starlark.Float(v)
	case bool:
		return starlark.Bool(v)
	case []string:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			items[i] = starlark.String(item)
		}
		return starlark.NewList(items)
	case []any:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			items[i] = ConvertToStarlark(item)
		}
		return starlark.NewList(items)
	case map[string]any:
		dict := starlark.NewDict(len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_ = dict.SetKey(starlark.String(k), ConvertToStarlark(v[k]))
		}
		return dict
	default:
		// For unknown types, convert to string
		return starlark.String(fmt.Sprint(val))
	}
}

// ConvertFromStarlark converts a Starlark value to a plain Go value
func ConvertFromStarlark(val starlark.Value) any {
	if val == nil || val == starlark.None {
		return nil
	}

	switch v := val.(type) {
	case starlark.String:
		return string(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		// For very large integers, convert to string
		return v.String()
	case starlark.Float:
		return float64(v)
	case starlark.Bool:
		return bool(v)
	case *starlark.List:
		items := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			items[i] = ConvertFromStarlark(v.Index(i))
		}
		return items
	case starlark.Tuple:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = ConvertFromStarlark(item)
		}
		return items
	case *starlark.Dict:
		dict := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			if keyStr, ok := item[0].(starlark.String); ok {
				dict[string(keyStr)] = ConvertFromStarlark(item[1])
			} else {
				dict[item[0].String()] = ConvertFromStarlark(item[1])
			}
		}
		return dict
	default:
		return val.String()
	}
}

// toString returns the contents of a Starlark string, or its repr otherwise
func toString(v starlark.Value) string {
	if s, ok := v.(starlark.String); ok {
		return string(s)
	}
	return v.String()
}
