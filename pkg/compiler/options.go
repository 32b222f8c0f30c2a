package compiler

import (
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/neurodesk/tmplc/pkg/options"
	"github.com/neurodesk/tmplc/pkg/parser"
	"github.com/neurodesk/tmplc/pkg/registry"
)

// FunctionalOption configures a Compiler.
type FunctionalOption func(*Compiler) error

// WithLogHandler sets the handler the compiler logs through.
func WithLogHandler(handler slog.Handler) FunctionalOption {
	return func(c *Compiler) error {
		if handler == nil {
			return fmt.Errorf("%w: log handler cannot be nil", ErrInvalidOption)
		}
		c.logHandler = handler
		c.logger = nil
		return nil
	}
}

// WithLogger sets the logger directly, keeping whatever groups it carries.
func WithLogger(logger *slog.Logger) FunctionalOption {
	return func(c *Compiler) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidOption)
		}
		c.logger = logger
		c.logHandler = nil
		return nil
	}
}

// WithOptions replaces the option set. The compiler keeps its own copy.
func WithOptions(opts *options.Options) FunctionalOption {
	return func(c *Compiler) error {
		if opts == nil {
			return fmt.Errorf("%w: options cannot be nil", ErrInvalidOption)
		}
		c.options = opts.Clone()
		return nil
	}
}

func WithFunctionRegistry(fns *registry.Functions) FunctionalOption {
	return func(c *Compiler) error {
		if fns == nil {
			return fmt.Errorf("%w: function registry cannot be nil", ErrInvalidOption)
		}
		c.functions = fns
		return nil
	}
}

// WithMacro registers a Go macro handler. name carries the macro_ or
// macro_function_ prefix.
func WithMacro(name string, h registry.Handler, rule parser.Rule) FunctionalOption {
	return func(c *Compiler) error {
		if err := c.macros.Register(name, h, rule); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOption, err)
		}
		return nil
	}
}

// WithStarlarkMacro registers the macro defined by the Starlark script at
// path.
func WithStarlarkMacro(name, path string, rule parser.Rule) FunctionalOption {
	return func(c *Compiler) error {
		h, err := registry.NewStarlarkHandler(path, nil)
		if err != nil {
			return fmt.Errorf("%w: macro %s: %w", ErrInvalidOption, name, err)
		}
		return WithMacro(name, h, rule)(c)
	}
}

// WithSource names the template file in error messages.
func WithSource(filename string) FunctionalOption {
	return func(c *Compiler) error {
		c.filename = filename
		return nil
	}
}

// WithTemplates sets where extended templates are looked up during
// dependency analysis. It defaults to the include path.
func WithTemplates(fsys fs.FS) FunctionalOption {
	return func(c *Compiler) error {
		if fsys == nil {
			return fmt.Errorf("%w: template filesystem cannot be nil", ErrInvalidOption)
		}
		c.templates = fsys
		return nil
	}
}
