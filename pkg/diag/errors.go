package diag

import (
	"errors"
	"fmt"
)

var (
	ErrSemantic = errors.New("semantic error")
	ErrMacro    = errors.New("macro error")
	ErrInternal = errors.New("internal compiler error")
	ErrParse    = errors.New("parse error")
	ErrWarning  = errors.New("warning treated as error")
)

// NoPos marks an error without a tracked source offset.
const NoPos = -1

// SemanticError is a user-facing failure caused by the template being compiled.
type SemanticError struct {
	Msg  string
	Node string
	Pos  int
}

// Semanticf builds a SemanticError with a formatted message.
func Semanticf(pos int, node, format string, args ...any) *SemanticError {
	return &SemanticError{Msg: fmt.Sprintf(format, args...), Node: node, Pos: pos}
}

func (e *SemanticError) Error() string {
	if e.Node == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s (node %s)", e.Msg, e.Node)
}

func (e *SemanticError) Is(target error) bool { return target == ErrSemantic }

// MacroPhase tells which half of a macro expansion failed.
type MacroPhase int

const (
	MacroHandler MacroPhase = iota
	MacroParse
)

func (p MacroPhase) String() string {
	if p == MacroParse {
		return "parse"
	}
	return "handler"
}

// MacroError wraps a handler failure or a failure to parse the handler's output.
type MacroError struct {
	Macro  string
	Phase  MacroPhase
	Pos    int
	Output string
	Err    error
}

func (e *MacroError) Error() string {
	if e.Phase == MacroParse {
		return fmt.Sprintf("failed to parse output of macro %s: %v", e.Macro, e.Err)
	}
	return fmt.Sprintf("macro %s failed: %v", e.Macro, e.Err)
}

func (e *MacroError) Unwrap() error { return e.Err }

func (e *MacroError) Is(target error) bool { return target == ErrMacro }

// InternalError reports a broken pipeline invariant rather than a bad template.
type InternalError struct {
	Msg  string
	Node string
}

// Internalf builds an InternalError with a formatted message.
func Internalf(node, format string, args ...any) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...), Node: node}
}

func (e *InternalError) Error() string {
	if e.Node == "" {
		return "internal: " + e.Msg
	}
	return fmt.Sprintf("internal: %s (node %s)", e.Msg, e.Node)
}

func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// ParseError is produced by the template parser.
type ParseError struct {
	Msg string
	Pos int
}

func (e *ParseError) Error() string { return e.Msg }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Position extracts the source offset carried by err, or NoPos.
func Position(err error) int {
	var se *SemanticError
	if errors.As(err, &se) {
		return se.Pos
	}
	var me *MacroError
	if errors.As(err, &me) {
		return me.Pos
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Pos
	}
	return NoPos
}
