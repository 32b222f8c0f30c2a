// Package registry holds the lookup tables a compiler is configured with:
// registered runtime functions and macro handlers.
package registry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neurodesk/tmplc/pkg/validator"
)

// Well-known decorators.
const (
	SkipFilter            = "skip_filter"
	SkipFilterUnlessBaked = "skip_filter_unless_baked"
	CacheForever          = "cache_forever"
	NeverCache            = "never_cache"
)

// Function is a registry entry: templates call Alias, generated code imports
// Name.
type Function struct {
	Alias      string   `yaml:"alias"`
	Name       string   `yaml:"name"`
	Decorators []string `yaml:"decorators,omitempty"`
}

func (f Function) Validate() error {
	return validator.All(
		validator.NotEmpty(f.Alias, "function alias"),
		validator.DottedName(f.Name, fmt.Sprintf("function %q name", f.Alias)),
	)
}

// Functions maps template-visible aliases to registered functions.
type Functions struct {
	entries map[string]Function
}

// NewFunctions builds a registry. Later entries replace earlier ones with the
// same alias.
func NewFunctions(fns ...Function) (*Functions, error) {
	if err := validator.Each(fns); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryFormat, err)
	}
	r := &Functions{entries: make(map[string]Function, len(fns))}
	for _, f := range fns {
		f.Decorators = slices.Clone(f.Decorators)
		r.entries[f.Alias] = f
	}
	return r, nil
}

// EmptyFunctions returns a registry with no functions.
func EmptyFunctions() *Functions {
	return &Functions{entries: map[string]Function{}}
}

// Contains reports whether alias is registered.
func (r *Functions) Contains(alias string) bool {
	if r == nil {
		return false
	}
	_, ok := r.entries[alias]
	return ok
}

func (r *Functions) Lookup(alias string) (Function, bool) {
	if r == nil {
		return Function{}, false
	}
	f, ok := r.entries[alias]
	return f, ok
}

// Value reports whether the decorator key is set on alias. found is false
// when alias is not registered at all.
func (r *Functions) Value(alias, key string) (value, found bool) {
	f, ok := r.Lookup(alias)
	if !ok {
		return false, false
	}
	return slices.Contains(f.Decorators, key), true
}

// Aliases lists the registered aliases in sorted order.
func (r *Functions) Aliases() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.entries))
	for a := range r.entries {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (r *Functions) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

type functionsFile struct {
	Functions []Function `yaml:"functions"`
}

// LoadFunctionsYAML reads a registry of the form
//
//	functions:
//	  - alias: escape
//	    name: site.util.escape
//	    decorators: [skip_filter]
func LoadFunctionsYAML(r io.Reader) (*Functions, error) {
	var doc functionsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %w", ErrRegistryFormat, err)
	}
	aliases := make([]string, len(doc.Functions))
	for i, f := range doc.Functions {
		aliases[i] = f.Alias
	}
	if err := validator.NoDuplicates(aliases, "function aliases"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryFormat, err)
	}
	return NewFunctions(doc.Functions...)
}

// LoadFunctionsLegacy reads the line format `alias = pkg.fn[, decorator...]`.
// Lines starting with '#' are comments. Decorators are only read when at
// least one entry carries a comma.
func LoadFunctionsLegacy(r io.Reader) (*Functions, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryFormat, err)
	}
	withDecorators := slices.ContainsFunc(lines, func(l string) bool {
		return !strings.HasPrefix(l, "#") && strings.Contains(l, ",")
	})

	var fns []Function
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		alias, rest, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected alias = name", ErrRegistryFormat, i+1)
		}
		f := Function{Alias: strings.TrimSpace(alias), Name: strings.TrimSpace(rest)}
		if withDecorators {
			parts := strings.Split(rest, ",")
			f.Name = strings.TrimSpace(parts[0])
			for _, d := range parts[1:] {
				if d = strings.TrimSpace(d); d != "" {
					f.Decorators = append(f.Decorators, d)
				}
			}
		}
		fns = append(fns, f)
	}
	return NewFunctions(fns...)
}

// LoadFunctionsFile picks the format from the extension: .yaml and .yml are
// YAML, anything else is the line format.
func LoadFunctionsFile(path string) (*Functions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryFormat, err)
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadFunctionsYAML(f)
	default:
		return LoadFunctionsLegacy(f)
	}
}
