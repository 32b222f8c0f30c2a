package options

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neurodesk/tmplc/pkg/validator"
)

// MacroConfig binds a macro name to a Starlark script.
type MacroConfig struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`
	// Rule is the grammar rule the macro output is parsed with.
	Rule string `yaml:"rule"`
}

var macroRules = []string{"", "goal", "fragment_goal", "rhs_expression", "i18n_goal"}

func (m MacroConfig) Validate() error {
	return validator.All(
		validator.NotEmpty(m.Name, "macro name"),
		validator.NotEmpty(m.Script, "macro script"),
		validator.MatchesAllowed(m.Rule, macroRules, "macro rule"),
	)
}

// Config is the on-disk compiler configuration.
type Config struct {
	OptimizerLevel int            `yaml:"optimizer_level"`
	Flags          []string       `yaml:"flags"`
	Macros         []MacroConfig  `yaml:"macros"`
	Options        map[string]any `yaml:"options"`
}

func (c *Config) Validate() error {
	return validator.All(
		validator.InRange(c.OptimizerLevel, 0, MaxLevel, "optimizer_level"),
		validator.Each(c.Macros),
		validator.NoDuplicates(c.macroNames(), "macros"),
	)
}

func (c *Config) macroNames() []string {
	out := make([]string, len(c.Macros))
	for i, m := range c.Macros {
		out[i] = m.Name
	}
	return out
}

// Resolve builds the option set: the level's defaults, then the options
// mapping, then the -X flags.
func (c *Config) Resolve() (*Options, error) {
	o, err := ForLevel(c.OptimizerLevel)
	if err != nil {
		return nil, err
	}
	if err := o.Update(c.Options); err != nil {
		return nil, err
	}
	if err := o.ApplyFlags(c.Flags...); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadConfig decodes a YAML config. Unknown top-level keys are rejected.
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return &cfg, nil
}

func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	defer f.Close()
	return LoadConfig(f)
}
