package compiler

import "errors"

var (
	ErrEmptyClassname = errors.New("classname cannot be empty")
	ErrInvalidOption  = errors.New("invalid compiler option")
	ErrUnknownStage   = errors.New("unknown compiler stage")
)
