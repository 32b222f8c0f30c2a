package starlark

import (
	"fmt"
	"maps"

	"go.starlark.net/starlark"
)

// Evaluator runs Starlark code against a set of predeclared builtins and
// globals. It is not safe for concurrent use.
type Evaluator struct {
	thread   *starlark.Thread
	builtins starlark.StringDict
	globals  starlark.StringDict
}

// NewEvaluator creates an evaluator without host access
func NewEvaluator() *Evaluator {
	return &Evaluator{
		thread:   &starlark.Thread{Name: "tmplc"},
		builtins: starlark.StringDict{},
		globals:  make(starlark.StringDict),
	}
}

// NewEvaluatorWithHost creates an evaluator whose scripts can reach the
// compiler through host. print output is routed to host.Print.
func NewEvaluatorWithHost(name string, host Host) *Evaluator {
	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, msg string) { host.Print(msg) },
	}
	return &Evaluator{
		thread:   thread,
		builtins: CreateBuiltinsWithContext(host),
		globals:  make(starlark.StringDict),
	}
}

// SetGlobal sets a global variable in the Starlark environment
func (e *Evaluator) SetGlobal(name string, value any) {
	e.globals[name] = ConvertToStarlark(value)
}

func (e *Evaluator) predeclared() starlark.StringDict {
	predeclared := make(starlark.StringDict, len(e.builtins)+len(e.globals))
	maps.Copy(predeclared, e.builtins)
	maps.Copy(predeclared, e.globals)
	return predeclared
}

// Eval evaluates a Starlark expression and returns the result as a Go value
func (e *Evaluator) Eval(expr string) (any, error) {
	val, err := starlark.Eval(e.thread, "<eval>", expr, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEval, err)
	}
	return ConvertFromStarlark(val), nil
}

// ExecFile executes a Starlark file and merges its globals into the
// evaluator. src follows starlark.ExecFile: nil reads filename from disk.
func (e *Evaluator) ExecFile(filename string, src any) (starlark.StringDict, error) {
	globals, err := starlark.ExecFile(e.thread, filename, src, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExec, err)
	}
	maps.Copy(e.globals, globals)
	return globals, nil
}

// ExecString executes a Starlark script from a string
func (e *Evaluator) ExecString(script string) (starlark.StringDict, error) {
	return e.ExecFile("<script>", script)
}

// GetGlobal retrieves a global variable as a Go value
func (e *Evaluator) GetGlobal(name string) (any, bool) {
	if val, ok := e.globals[name]; ok {
		return ConvertFromStarlark(val), true
	}
	return nil, false
}

// Call invokes the global function name with positional arguments converted
// from Go values.
func (e *Evaluator) Call(name string, args ...any) (any, error) {
	fn, ok := e.globals[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCallable, name, fn.Type())
	}
	sargs := make(starlark.Tuple, len(args))
	for i, a := range args {
		sargs[i] = ConvertToStarlark(a)
	}
	val, err := starlark.Call(e.thread, callable, sargs, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEval, err)
	}
	return ConvertFromStarlark(val), nil
}
