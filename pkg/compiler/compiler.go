// Package compiler ties the parser, analyzer and optimizer passes together
// and holds the state one compiler instance shares across compilations.
package compiler

import (
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/neurodesk/tmplc/pkg/analyzer"
	"github.com/neurodesk/tmplc/pkg/ast"
	"github.com/neurodesk/tmplc/pkg/diag"
	"github.com/neurodesk/tmplc/pkg/macros"
	"github.com/neurodesk/tmplc/pkg/optimizer"
	"github.com/neurodesk/tmplc/pkg/options"
	"github.com/neurodesk/tmplc/pkg/parser"
	"github.com/neurodesk/tmplc/pkg/registry"
)

// Stage names a snapshot of the tree between passes.
type Stage string

const (
	StageParse     Stage = "parse"
	StageAnalyzed  Stage = "analyzed"
	StageOptimized Stage = "optimized"
	StageFinal     Stage = "final"
)

// Stages lists the stages in pipeline order.
var Stages = []Stage{StageParse, StageAnalyzed, StageOptimized, StageFinal}

// ParseStage checks that s names a stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
}

// Result holds one tree per stage. Each is an independent snapshot.
type Result struct {
	Classname string
	Parse     *ast.Tree
	Analyzed  *ast.Tree
	Optimized *ast.Tree
	Final     *ast.Tree
}

func (r *Result) Tree(s Stage) (*ast.Tree, error) {
	switch s {
	case StageParse:
		return r.Parse, nil
	case StageAnalyzed:
		return r.Analyzed, nil
	case StageOptimized:
		return r.Optimized, nil
	case StageFinal:
		return r.Final, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStage, s)
}

// Dump pretty-prints the tree of stage s.
func (r *Result) Dump(s Stage) (string, error) {
	t, err := r.Tree(s)
	if err != nil {
		return "", err
	}
	return ast.Pretty(t, t.Root), nil
}

// StageError reports a failed pass against the template source.
type StageError struct {
	Stage  Stage
	Source *diag.Source
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Source.Format(e.Err))
}

func (e *StageError) Unwrap() error { return e.Err }

// Compiler holds the options and registries shared by its compilations.
// They are fixed once New returns, so Compile may run concurrently.
type Compiler struct {
	options   *options.Options
	functions *registry.Functions
	macros    *registry.Macros
	templates fs.FS
	filename  string

	logHandler slog.Handler
	logger     *slog.Logger
}

// New builds a compiler. The built-in macros are always registered; later
// WithMacro options may replace them.
func New(opts ...FunctionalOption) (*Compiler, error) {
	c := &Compiler{
		options: options.Default(),
		macros:  registry.NewMacros(),
	}
	if err := macros.Register(c.macros); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("error applying compiler option: %w", err)
		}
	}
	if err := c.options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compiler configuration: %w", err)
	}

	if c.logger == nil {
		c.logHandler, c.logger = SetupLogger(c.logHandler, "tmplc", "compiler")
	} else {
		c.logHandler = c.logger.Handler()
	}
	if c.functions == nil {
		c.functions = registry.EmptyFunctions()
	}
	c.macros = c.macros.Clone()
	return c, nil
}

func (c *Compiler) String() string { return "tmplc.Compiler" }

// Options returns a copy of the compiler's option set.
func (c *Compiler) Options() *options.Options { return c.options.Clone() }

// Compile runs every pass over src and keeps the tree after each one.
func (c *Compiler) Compile(src, classname string) (*Result, error) {
	if classname == "" {
		return nil, ErrEmptyClassname
	}
	name := c.filename
	if name == "" {
		name = classname
	}
	source := &diag.Source{Name: name, Text: src}
	logger := c.logger.With("template", name)
	fail := func(s Stage, err error) error {
		logger.Debug("compilation failed", "stage", s, "error", err)
		return &StageError{Stage: s, Source: source, Err: err}
	}

	res := &Result{Classname: classname}
	parse, err := parser.Parse(src, parser.WithMacros(c.macros.BlockNames()...))
	if err != nil {
		return nil, fail(StageParse, err)
	}
	res.Parse = parse

	an := analyzer.New(analyzer.Config{
		Options:   c.options,
		Functions: c.functions,
		Macros:    c.macros,
		Context:   registry.MacroContext{},
		Logger:    logger.WithGroup("analyzer"),
	})
	analyzed, err := an.Analyze(parse.Clone(), classname)
	if err != nil {
		return nil, fail(StageAnalyzed, err)
	}
	res.Analyzed = analyzed

	cfg := optimizer.Config{
		Options:   c.options,
		Functions: c.functions,
		Logger:    logger.WithGroup("optimizer"),
		Reporter: &diag.Reporter{
			Logger:   logger,
			Source:   source,
			Enabled:  c.options.EnableWarnings,
			AsErrors: c.options.WarningsAsErrors,
		},
		Templates: c.templates,
	}
	optimized := analyzed.Clone()
	if err := optimizer.New(cfg).Optimize(optimized); err != nil {
		return nil, fail(StageOptimized, err)
	}
	res.Optimized = optimized

	final := optimized.Clone()
	cfg.Logger = logger.WithGroup("final")
	if err := optimizer.NewFinalPass(cfg).Run(final); err != nil {
		return nil, fail(StageFinal, err)
	}
	res.Final = final

	logger.Debug("compiled template", "classname", classname, "nodes", final.Len())
	return res, nil
}
