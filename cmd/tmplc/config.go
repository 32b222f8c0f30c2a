package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/neurodesk/tmplc/pkg/compiler"
	"github.com/neurodesk/tmplc/pkg/options"
	"github.com/neurodesk/tmplc/pkg/parser"
	"github.com/neurodesk/tmplc/pkg/registry"
)

// settings collects the command line, the environment and the config file.
type settings struct {
	configPath   string
	level        int
	flags        []string
	registryPath string
	macros       []string
	includePath  string
	debug        bool
}

// noLevel means -O was not given and TMPLC_OPT_LEVEL is unset.
const noLevel = -1

func defaultSettings() settings {
	return settings{
		configPath: env.Str("TMPLC_CONFIG"),
		level:      env.Int("TMPLC_OPT_LEVEL", noLevel),
		debug:      env.Bool("TMPLC_DEBUG"),
	}
}

// toolchain is everything a compile needs except the template.
type toolchain struct {
	opts      *options.Options
	functions *registry.Functions
	macros    []options.MacroConfig
	handler   slog.Handler
}

func (s settings) load(stderr io.Writer) (*toolchain, error) {
	cfg := &options.Config{}
	if s.configPath != "" {
		loaded, err := options.LoadConfigFile(s.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if s.level != noLevel {
		cfg.OptimizerLevel = s.level
	}
	cfg.Flags = append(cfg.Flags, s.flags...)
	for _, m := range s.macros {
		name, script, ok := strings.Cut(m, "=")
		if !ok || name == "" || script == "" {
			return nil, fmt.Errorf("macro %q must look like name=script.star", m)
		}
		cfg.Macros = append(cfg.Macros, options.MacroConfig{Name: name, Script: script})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if s.includePath != "" {
		opts.IncludePath = s.includePath
	}
	if s.registryPath != "" {
		opts.FunctionRegistryFile = s.registryPath
	}
	if s.debug {
		opts.Debug = true
	}

	tc := &toolchain{opts: opts, macros: cfg.Macros}
	if opts.FunctionRegistryFile != "" {
		tc.functions, err = registry.LoadFunctionsFile(opts.FunctionRegistryFile)
		if err != nil {
			return nil, err
		}
	}
	level := slog.LevelWarn
	if opts.Debug {
		level = slog.LevelDebug
	}
	tc.handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	return tc, nil
}

// compiler builds an independent compiler for one template file.
func (tc *toolchain) compiler(filename string) (*compiler.Compiler, error) {
	opts := []compiler.FunctionalOption{
		compiler.WithOptions(tc.opts),
		compiler.WithLogHandler(tc.handler),
		compiler.WithSource(filename),
	}
	if tc.functions != nil {
		opts = append(opts, compiler.WithFunctionRegistry(tc.functions))
	}
	for _, m := range tc.macros {
		opts = append(opts, compiler.WithStarlarkMacro(m.Name, m.Script, parser.Rule(m.Rule)))
	}
	return compiler.New(opts...)
}

var nonWord = regexp.MustCompile(`\W`)

// classname derives the generated class name from a template path.
func classname(path string) string {
	base := filepath.Base(path)
	name := nonWord.ReplaceAllString(strings.TrimSuffix(base, filepath.Ext(base)), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}
