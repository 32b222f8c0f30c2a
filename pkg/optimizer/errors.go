package optimizer

import "errors"

var (
	ErrNotTemplate     = errors.New("tree is not rooted at a template")
	ErrUnexpectedKind  = errors.New("node kind should not survive analysis")
	ErrMissingTemplate = errors.New("extended template not found")
)
