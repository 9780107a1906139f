package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/noot-app/foods-cleanup/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultTables []byte

// UnitGrams converts a serving unit to grams, treating 1 ml as 1 g
var UnitGrams = map[string]float64{
	"g":  1,
	"kg": 1000,
	"ml": 1,
	"l":  1000,
	"oz": 28.35,
}

// Tables is the versioned set of static lookup data the pipeline components are built from.
// A Tables value is loaded once per process and treated as read-only afterwards.
type Tables struct {
	Version    string            `yaml:"version"`
	Brands     map[string]string `yaml:"brands"`
	Spelling   []Substitution    `yaml:"spelling"`
	Phrases    []Substitution    `yaml:"phrases"`
	Servings   []ServingRule     `yaml:"servings"`
	References []Reference       `yaml:"references"`
}

// Substitution replaces From with To, preserving the case shape of the match
type Substitution struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ServingRule maps any of a set of keywords to a default serving
type ServingRule struct {
	Keywords []string `yaml:"keywords"`
	Amount   float64  `yaml:"amount"`
	Unit     string   `yaml:"unit"`
}

// Grams returns the rule's default serving converted to grams
func (r ServingRule) Grams() float64 {
	return r.Amount * UnitGrams[strings.ToLower(r.Unit)]
}

// Reference is a verified per-100g nutrition entry for one branded product
type Reference struct {
	Name    string          `yaml:"name"`
	Brand   string          `yaml:"brand"`
	Variant string          `yaml:"variant,omitempty"`
	Source  string          `yaml:"source,omitempty"`
	Per100g types.Nutrition `yaml:"per_100g"`
}

// Label returns a short human readable identifier for logs and diffs
func (r Reference) Label() string {
	label := r.Brand + " " + r.Name
	if r.Variant != "" {
		label += " (" + r.Variant + ")"
	}
	return label
}

// Default returns the tables compiled into the binary
func Default() (*Tables, error) {
	return Parse(defaultTables)
}

// Load reads tables from a YAML file, or the embedded defaults when path is empty
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML rule tables
func Parse(raw []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	// Brand lookups are keyed case-insensitively on trimmed input
	brands := make(map[string]string, len(t.Brands))
	for k, v := range t.Brands {
		brands[strings.ToLower(strings.TrimSpace(k))] = v
	}
	t.Brands = brands

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the tables for entries that would make a component misbehave
func (t *Tables) Validate() error {
	var errs []error

	if t.Version == "" {
		errs = append(errs, errors.New("rules: version is required"))
	}
	for k, v := range t.Brands {
		if k == "" || strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("rules: brand correction %q -> %q is empty", k, v))
		}
	}
	for i, s := range append(append([]Substitution{}, t.Spelling...), t.Phrases...) {
		if strings.TrimSpace(s.From) == "" {
			errs = append(errs, fmt.Errorf("rules: substitution %d has empty 'from'", i))
		}
		if strings.EqualFold(s.From, s.To) {
			errs = append(errs, fmt.Errorf("rules: substitution %q maps to itself", s.From))
		}
	}
	for i, r := range t.Servings {
		if len(r.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("rules: serving rule %d has no keywords", i))
		}
		if _, ok := UnitGrams[strings.ToLower(r.Unit)]; !ok {
			errs = append(errs, fmt.Errorf("rules: serving rule %d has unknown unit %q", i, r.Unit))
		}
		if r.Amount <= 0 {
			errs = append(errs, fmt.Errorf("rules: serving rule %d has non-positive amount", i))
		}
	}
	for _, r := range t.References {
		if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Brand) == "" {
			errs = append(errs, fmt.Errorf("rules: reference %q needs both name and brand", r.Label()))
			continue
		}
		for _, c := range types.NutritionColumns {
			if r.Per100g.Get(c) < 0 {
				errs = append(errs, fmt.Errorf("rules: reference %q has negative %s", r.Label(), c))
			}
		}
	}

	return errors.Join(errs...)
}
