package registry

import "errors"

var (
	ErrRegistryFormat = errors.New("malformed function registry")
	ErrInvalidMacro   = errors.New("invalid macro registration")
	ErrMacroResult    = errors.New("macro handler must return a string")
)
