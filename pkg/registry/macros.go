package registry

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/parser"
)

// Handler name prefixes. A block macro `#name` is handled by "macro_name" and
// a call `$name(...)` by "macro_function_name".
const (
	BlockPrefix    = "macro_"
	FunctionPrefix = "macro_function_"
)

// MacroContext is scratch state shared by all macro calls of one
// compilation. Handlers should namespace their keys.
type MacroContext map[string]any

// Call describes one macro invocation.
type Call struct {
	// Name is the handler name, such as "macro_i18n".
	Name string
	// Tree holds Node, a Macro node or a CallFunction node of the parse tree.
	Tree *ast.Tree
	Node ast.NodeID
	// Body is the raw text between a block macro's open and close directives.
	Body string
	// Args holds keyword parameters. Values are literals, names for
	// identifier defaults, or ast.NoParameter.
	Args    map[string]any
	Context MacroContext
	Logger  *slog.Logger
}

// Positional returns the literal values of positional call arguments.
// Non-literal arguments are reported as nil.
func (c *Call) Positional() []any {
	if c.Tree == nil {
		return nil
	}
	n := c.Tree.Node(c.Node)
	if n == nil || n.Kind != ast.KindCallFunction {
		return nil
	}
	var out []any
	for _, id := range c.Tree.PositionalArgs(n.Args) {
		if c.Tree.Kind(id) == ast.KindLiteral {
			out = append(out, c.Tree.Node(id).Value)
		} else {
			out = append(out, nil)
		}
	}
	return out
}

// Handler expands a macro into template source.
type Handler func(call *Call) (string, error)

// Macro is a registered handler. An empty Rule parses block macro output as
// a fragment and function macro output as an expression.
type Macro struct {
	Name    string
	Handler Handler
	Rule    parser.Rule
}

// Macros maps handler names to macros.
type Macros struct {
	m map[string]Macro
}

func NewMacros() *Macros {
	return &Macros{m: map[string]Macro{}}
}

// Register adds or replaces a handler.
func (r *Macros) Register(name string, h Handler, rule parser.Rule) error {
	if !strings.HasPrefix(name, BlockPrefix) || len(name) == len(BlockPrefix) {
		return fmt.Errorf("%w: name %q must start with %q", ErrInvalidMacro, name, BlockPrefix)
	}
	if h == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidMacro, name)
	}
	r.m[name] = Macro{Name: name, Handler: h, Rule: rule}
	return nil
}

func (r *Macros) Lookup(name string) (Macro, bool) {
	if r == nil {
		return Macro{}, false
	}
	m, ok := r.m[name]
	return m, ok
}

// Names lists the registered handler names in sorted order.
func (r *Macros) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// BlockNames lists the directive names that have block handlers, for use
// with parser.WithMacros.
func (r *Macros) BlockNames() []string {
	var out []string
	for _, n := range r.Names() {
		if strings.HasPrefix(n, FunctionPrefix) {
			continue
		}
		out = append(out, strings.TrimPrefix(n, BlockPrefix))
	}
	return out
}

func (r *Macros) Clone() *Macros {
	return &Macros{m: maps.Clone(r.m)}
}
