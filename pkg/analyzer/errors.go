package analyzer

import "errors"

var (
	ErrNotTemplate = errors.New("parse tree is not rooted at a template")
	ErrNoLowering  = errors.New("no lowering for node kind")
)
