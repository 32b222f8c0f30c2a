package options

import "errors"

var (
	ErrUnknownFlag    = errors.New("unknown optimizer flag")
	ErrInvalidLevel   = errors.New("invalid optimizer level")
	ErrInvalidOption  = errors.New("invalid option value")
	ErrInvalidOptions = errors.New("invalid options")
	ErrConfig         = errors.New("failed to load config")
)
