package registry

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/starlark"
)

// ExpandFunc is the function a macro script must define. It receives one
// dict with the keys name, body, args and positional.
const ExpandFunc = "expand"

// NewStarlarkHandler builds a handler from a Starlark script. src follows
// starlark.ExecFile: nil reads filename from disk. The script is executed
// once up front so syntax errors and a missing expand function surface at
// registration.
func NewStarlarkHandler(filename string, src any) (Handler, error) {
	if src == nil {
		text, err := readScript(filename)
		if err != nil {
			return nil, err
		}
		src = text
	}
	check := starlark.NewEvaluatorWithHost(filename, &callHost{call: &Call{Context: MacroContext{}}})
	globals, err := check.ExecFile(filename, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMacro, err)
	}
	if _, ok := globals[ExpandFunc]; !ok {
		return nil, fmt.Errorf("%w: %s does not define %s()", ErrInvalidMacro, filename, ExpandFunc)
	}

	return func(call *Call) (string, error) {
		eval := starlark.NewEvaluatorWithHost(call.Name, &callHost{call: call})
		if _, err := eval.ExecFile(filename, src); err != nil {
			return "", err
		}
		out, err := eval.Call(ExpandFunc, map[string]any{
			"name":       call.Name,
			"body":       call.Body,
			"args":       plainArgs(call.Args),
			"positional": call.Positional(),
		})
		if err != nil {
			return "", err
		}
		s, ok := out.(string)
		if !ok {
			return "", fmt.Errorf("%w: %s returned %T", ErrMacroResult, call.Name, out)
		}
		return s, nil
	}, nil
}

// plainArgs replaces ast.NoParameter, which scripts cannot see, with nil.
func plainArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == ast.NoParameter {
			v = nil
		}
		out[k] = v
	}
	return out
}

func readScript(filename string) (string, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMacro, err)
	}
	return string(b), nil
}

type callHost struct {
	call *Call
}

func (h *callHost) logger() *slog.Logger {
	if h.call.Logger != nil {
		return h.call.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (h *callHost) ContextValue(key string) (any, bool) {
	v, ok := h.call.Context[key]
	return v, ok
}

func (h *callHost) SetContextValue(key string, value any) {
	h.call.Context[key] = value
}

func (h *callHost) Print(msg string) {
	h.logger().Info(msg, "macro", h.call.Name)
}

func (h *callHost) Warn(msg string) {
	h.logger().Warn(msg, "macro", h.call.Name)
}
