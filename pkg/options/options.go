// Package options holds the analyzer option set and the optimizer levels
// built from it.
package options

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/copystructure"
	"github.com/spf13/cast"

	"github.com/neurodesk/tmplc/pkg/validator"
)

// DefaultBaseTemplate is the import path of the runtime base template class.
const DefaultBaseTemplate = "spitfire.runtime.template.SpitfireTemplate"

// MaxLevel is the highest optimizer level.
const MaxLevel = 3

// Options controls analysis and optimization. Boolean fields can be toggled
// by name with -X flags.
type Options struct {
	Debug bool `yaml:"debug"`

	IgnoreOptionalWhitespace bool `yaml:"ignore_optional_whitespace"`
	// Adjacent text nodes become one node.
	CollapseAdjacentText bool `yaml:"collapse_adjacent_text"`
	GenerateUnicode      bool `yaml:"generate_unicode"`
	// Runs of whitespace collapse to one character.
	NormalizeWhitespace bool `yaml:"normalize_whitespace"`

	// Loop-invariant dotted lookups are bound to local aliases.
	AliasInvariants bool `yaml:"alias_invariants"`
	// Placeholders naming a local that is always defined first read the
	// local directly.
	DirectlyAccessDefinedVariables bool `yaml:"directly_access_defined_variables"`
	// Extended templates are scanned for the methods they define.
	UseDependencyAnalysis bool `yaml:"use_dependency_analysis"`
	OmitLocalScopeSearch  bool `yaml:"omit_local_scope_search"`

	CacheResolvedPlaceholders   bool `yaml:"cache_resolved_placeholders"`
	CacheResolvedUDNExpressions bool `yaml:"cache_resolved_udn_expressions"`
	// Cache only the whole $a.b.c chain instead of every prefix.
	PreferWholeUDNExpressions bool `yaml:"prefer_whole_udn_expressions"`
	RaiseUDNExceptions        bool `yaml:"raise_udn_exceptions"`

	InlineHoistLoopInvariantAliases bool `yaml:"inline_hoist_loop_invariant_aliases"`
	HoistConditionalAliases         bool `yaml:"hoist_conditional_aliases"`
	HoistLoopInvariantAliases       bool `yaml:"hoist_loop_invariant_aliases"`
	CacheFilteredPlaceholders       bool `yaml:"cache_filtered_placeholders"`

	FailNestedDefs              bool `yaml:"fail_nested_defs"`
	FailLibrarySearchlistAccess bool `yaml:"fail_library_searchlist_access"`
	SkipImportUDNResolution     bool `yaml:"skip_import_udn_resolution"`
	DefaultToStrictResolution   bool `yaml:"default_to_strict_resolution"`
	StrictGlobalCheck           bool `yaml:"strict_global_check"`
	StaticAnalysis              bool `yaml:"static_analysis"`
	DoubleAssignError           bool `yaml:"double_assign_error"`
	BatchBufferWrites           bool `yaml:"batch_buffer_writes"`
	BakedMode                   bool `yaml:"baked_mode"`
	NoRaw                       bool `yaml:"no_raw"`
	IncludeSourcemap            bool `yaml:"include_sourcemap"`

	EnableFilters    bool `yaml:"enable_filters"`
	EnableWarnings   bool `yaml:"enable_warnings"`
	WarningsAsErrors bool `yaml:"warnings_as_errors"`

	BaseTemplateFullImportPath string `yaml:"base_template_full_import_path"`
	BaseExtendsPackage         string `yaml:"base_extends_package"`
	IncludePath                string `yaml:"include_path"`
	FunctionRegistryFile       string `yaml:"function_registry_file"`
}

// Default returns the level 0 option set.
func Default() *Options {
	return &Options{
		GenerateUnicode:            true,
		EnableFilters:              true,
		BaseTemplateFullImportPath: DefaultBaseTemplate,
		IncludePath:                ".",
	}
}

// ForLevel returns a fresh option set for optimizer level n. Each level
// builds on the one below it.
func ForLevel(n int) (*Options, error) {
	if err := validator.InRange(n, 0, MaxLevel, "optimizer level"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLevel, err)
	}
	o := Default()
	if n >= 1 {
		o.CollapseAdjacentText = true
	}
	if n >= 2 {
		o.AliasInvariants = true
		o.DirectlyAccessDefinedVariables = true
		o.CacheResolvedPlaceholders = true
		o.CacheResolvedUDNExpressions = true
		o.InlineHoistLoopInvariantAliases = true
		o.UseDependencyAnalysis = true
	}
	if n >= 3 {
		o.InlineHoistLoopInvariantAliases = false
		o.HoistConditionalAliases = true
		o.HoistLoopInvariantAliases = true
		o.CacheFilteredPlaceholders = true
		o.OmitLocalScopeSearch = true
		o.BatchBufferWrites = true
	}
	return o, nil
}

type flag struct {
	name string
	ptr  *bool
}

func (o *Options) flags() []flag {
	return []flag{
		{"debug", &o.Debug},
		{"ignore_optional_whitespace", &o.IgnoreOptionalWhitespace},
		{"collapse_adjacent_text", &o.CollapseAdjacentText},
		{"generate_unicode", &o.GenerateUnicode},
		{"normalize_whitespace", &o.NormalizeWhitespace},
		{"alias_invariants", &o.AliasInvariants},
		{"directly_access_defined_variables", &o.DirectlyAccessDefinedVariables},
		{"use_dependency_analysis", &o.UseDependencyAnalysis},
		{"omit_local_scope_search", &o.OmitLocalScopeSearch},
		{"cache_resolved_placeholders", &o.CacheResolvedPlaceholders},
		{"cache_resolved_udn_expressions", &o.CacheResolvedUDNExpressions},
		{"prefer_whole_udn_expressions", &o.PreferWholeUDNExpressions},
		{"raise_udn_exceptions", &o.RaiseUDNExceptions},
		{"inline_hoist_loop_invariant_aliases", &o.InlineHoistLoopInvariantAliases},
		{"hoist_conditional_aliases", &o.HoistConditionalAliases},
		{"hoist_loop_invariant_aliases", &o.HoistLoopInvariantAliases},
		{"cache_filtered_placeholders", &o.CacheFilteredPlaceholders},
		{"fail_nested_defs", &o.FailNestedDefs},
		{"fail_library_searchlist_access", &o.FailLibrarySearchlistAccess},
		{"skip_import_udn_resolution", &o.SkipImportUDNResolution},
		{"default_to_strict_resolution", &o.DefaultToStrictResolution},
		{"strict_global_check", &o.StrictGlobalCheck},
		{"static_analysis", &o.StaticAnalysis},
		{"double_assign_error", &o.DoubleAssignError},
		{"batch_buffer_writes", &o.BatchBufferWrites},
		{"baked_mode", &o.BakedMode},
		{"no_raw", &o.NoRaw},
		{"include_sourcemap", &o.IncludeSourcemap},
		{"enable_filters", &o.EnableFilters},
		{"enable_warnings", &o.EnableWarnings},
		{"warnings_as_errors", &o.WarningsAsErrors},
	}
}

func (o *Options) strings() map[string]*string {
	return map[string]*string{
		"base_template_full_import_path": &o.BaseTemplateFullImportPath,
		"base_extends_package":           &o.BaseExtendsPackage,
		"include_path":                   &o.IncludePath,
		"function_registry_file":         &o.FunctionRegistryFile,
	}
}

func (o *Options) lookup(name string) *bool {
	for _, f := range o.flags() {
		if f.name == name {
			return f.ptr
		}
	}
	return nil
}

// FlagNames lists every boolean option name in declaration order.
func FlagNames() []string {
	var o Options
	fs := o.flags()
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.name
	}
	return out
}

// Help renders the -X flag list as "[no-]flag-name, ...".
func Help() string {
	names := FlagNames()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "[no-]" + strings.ReplaceAll(n, "_", "-")
	}
	return strings.Join(out, ", ")
}

// Get reports the value of a boolean option.
func (o *Options) Get(name string) (bool, bool) {
	if p := o.lookup(name); p != nil {
		return *p, true
	}
	return false, false
}

// Set assigns a boolean option by name.
func (o *Options) Set(name string, value bool) error {
	p := o.lookup(name)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownFlag, name)
	}
	*p = value
	return nil
}

// ApplyFlags applies -X style toggles. "foo-bar" enables foo_bar and
// "no-foo-bar" disables it. Every unknown flag is reported.
func (o *Options) ApplyFlags(flags ...string) error {
	var errs []error
	for _, raw := range flags {
		name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
		value := true
		if strings.HasPrefix(name, "no_") && o.lookup(name) == nil {
			name = strings.TrimPrefix(name, "no_")
			value = false
		}
		if err := o.Set(name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return validator.All(errs...)
}

// Update assigns options from a loosely typed map such as a decoded YAML
// mapping. Values are coerced to the field type.
func (o *Options) Update(values map[string]any) error {
	strs := o.strings()
	return validator.MapDict(values, func(name string, v any) error {
		if p := o.lookup(name); p != nil {
			b, err := cast.ToBoolE(v)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidOption, err)
			}
			*p = b
			return nil
		}
		if p, ok := strs[name]; ok {
			s, err := cast.ToStringE(v)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidOption, err)
			}
			*p = s
			return nil
		}
		return ErrUnknownFlag
	}, "options")
}

// Clone returns a deep copy of o.
func (o *Options) Clone() *Options {
	c, err := copystructure.Copy(o)
	if err != nil {
		// Options holds only plain values, so copying cannot fail.
		panic(err)
	}
	return c.(*Options)
}

// Enabled lists the names of all options that are on, sorted.
func (o *Options) Enabled() []string {
	var out []string
	for _, f := range o.flags() {
		if *f.ptr {
			out = append(out, f.name)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks the string options. Flag combinations are checked by the
// analyzer, which reports them against the template.
func (o *Options) Validate() error {
	var errs []error
	if o.BaseExtendsPackage != "" {
		errs = append(errs, validator.DottedName(o.BaseExtendsPackage, "base_extends_package"))
	}
	errs = append(errs,
		validator.DottedName(o.BaseTemplateFullImportPath, "base_template_full_import_path"),
		validator.NotEmpty(o.IncludePath, "include_path"),
	)
	if err := validator.All(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}
