package starlark

import "errors"

var (
	ErrEval        = errors.New("starlark evaluation error")
	ErrExec        = errors.New("starlark execution error")
	ErrUndefined   = errors.New("undefined starlark global")
	ErrNotCallable = errors.New("starlark global is not callable")
)
