package starlark

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Host is the compiler state a macro script can reach. Context values live
// for one compilation.
type Host interface {
	ContextValue(key string) (any, bool)
	SetContextValue(key string, value any)
	Print(msg string)
	Warn(msg string)
}

// CreateBuiltinsWithContext creates the predeclared functions available to
// macro scripts
func CreateBuiltinsWithContext(host Host) starlark.StringDict {
	return starlark.StringDict{
		"get_context": starlark.NewBuiltin("get_context", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var def starlark.Value = starlark.None
			if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &def); err != nil {
				return nil, err
			}
			if v, ok := host.ContextValue(key); ok {
				return ConvertToStarlark(v), nil
			}
			return def, nil
		}),

		"set_context": starlark.NewBuiltin("set_context", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) != 2 {
				return starlark.None, fmt.Errorf("set_context requires exactly 2 arguments: key, value")
			}
			host.SetContextValue(toString(args[0]), ConvertFromStarlark(args[1]))
			return starlark.None, nil
		}),

		"warn": starlark.NewBuiltin("warn", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) != 1 {
				return starlark.None, fmt.Errorf("warn requires exactly 1 argument: message")
			}
			host.Warn(toString(args[0]))
			return starlark.None, nil
		}),
	}
}
