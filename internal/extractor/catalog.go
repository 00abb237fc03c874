package extractor

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// DefaultProfile is the profile used when a manufacturer has none of its own.
const DefaultProfile = "default"

// PatternSpec is one pattern rule as written in the catalog file.
type PatternSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	// Group selects the capture group holding the code; 0 means group 1 when
	// the pattern has groups and the whole match otherwise.
	Group int `yaml:"group"`
}

// ProfileSpec is a manufacturer profile as written in the catalog file.
type ProfileSpec struct {
	Aliases      []string      `yaml:"aliases"`
	Extends      string        `yaml:"extends"`
	CodePatterns []PatternSpec `yaml:"code_patterns"`
	PartPatterns []PatternSpec `yaml:"part_patterns"`
}

// CatalogSpec is the raw catalog document.
type CatalogSpec struct {
	Profiles map[string]ProfileSpec `yaml:"profiles"`
}

// Rule is a compiled pattern.
type Rule struct {
	Name  string
	re    *regexp.Regexp
	group int
}

// Profile is the ordered rule table for one manufacturer.
type Profile struct {
	Name         string
	CodePatterns []Rule
	PartPatterns []Rule
}

// Catalog maps manufacturers to compiled profiles.
type Catalog struct {
	profiles map[string]*Profile
	aliases  map[string]string
}

// ParseCatalogSpec decodes a catalog document. Unknown top-level keys are
// ignored so the same file can carry chunking configuration.
func ParseCatalogSpec(data []byte) (*CatalogSpec, error) {
	var spec CatalogSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &spec, nil
}

// DefaultCatalog compiles the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(nil)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog compiles the built-in catalog with the given document merged
// over it. Profiles in overrides replace built-in profiles of the same name.
func LoadCatalog(overrides []byte) (*Catalog, error) {
	base, err := ParseCatalogSpec(defaultCatalogYAML)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		extra, err := ParseCatalogSpec(overrides)
		if err != nil {
			return nil, err
		}
		for name, p := range extra.Profiles {
			base.Profiles[strings.ToLower(name)] = p
		}
	}
	return Compile(base)
}

// Compile resolves inheritance and compiles every pattern.
func Compile(spec *CatalogSpec) (*Catalog, error) {
	lowered := &CatalogSpec{Profiles: make(map[string]ProfileSpec, len(spec.Profiles))}
	for name, p := range spec.Profiles {
		lowered.Profiles[strings.ToLower(name)] = p
	}
	spec = lowered

	c := &Catalog{
		profiles: make(map[string]*Profile, len(spec.Profiles)),
		aliases:  make(map[string]string),
	}
	if _, ok := spec.Profiles[DefaultProfile]; !ok {
		return nil, fmt.Errorf("catalog has no %q profile", DefaultProfile)
	}

	names := make([]string, 0, len(spec.Profiles))
	for name := range spec.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		codes, parts, err := resolve(spec, name, map[string]bool{})
		if err != nil {
			return nil, err
		}
		p := &Profile{Name: name}
		if p.CodePatterns, err = compileRules(name, codes); err != nil {
			return nil, err
		}
		if p.PartPatterns, err = compileRules(name, parts); err != nil {
			return nil, err
		}
		c.profiles[name] = p
		for _, alias := range spec.Profiles[name].Aliases {
			c.aliases[strings.ToLower(strings.TrimSpace(alias))] = name
		}
	}
	return c, nil
}

// resolve flattens a profile with its ancestors: own rules first.
func resolve(spec *CatalogSpec, name string, visiting map[string]bool) ([]PatternSpec, []PatternSpec, error) {
	if visiting[name] {
		return nil, nil, fmt.Errorf("profile %q: extends cycle", name)
	}
	p, ok := spec.Profiles[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown profile %q", name)
	}
	codes := append([]PatternSpec(nil), p.CodePatterns...)
	parts := append([]PatternSpec(nil), p.PartPatterns...)
	if p.Extends == "" {
		return codes, parts, nil
	}
	visiting[name] = true
	parentCodes, parentParts, err := resolve(spec, strings.ToLower(p.Extends), visiting)
	if err != nil {
		return nil, nil, err
	}
	return append(codes, parentCodes...), append(parts, parentParts...), nil
}

func compileRules(profile string, specs []PatternSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("profile %q pattern %q: %w", profile, s.Name, err)
		}
		group := s.Group
		if group == 0 && re.NumSubexp() > 0 {
			group = 1
		}
		if group > re.NumSubexp() {
			return nil, fmt.Errorf("profile %q pattern %q: group %d out of range", profile, s.Name, group)
		}
		rules = append(rules, Rule{Name: s.Name, re: re, group: group})
	}
	return rules, nil
}

// Profile returns the profile for a manufacturer, matching names and aliases
// case-insensitively and falling back to the default profile.
func (c *Catalog) Profile(manufacturer string) *Profile {
	key := strings.ToLower(strings.TrimSpace(manufacturer))
	if p, ok := c.profiles[key]; ok {
		return p
	}
	if name, ok := c.aliases[key]; ok {
		return c.profiles[name]
	}
	return c.profiles[DefaultProfile]
}

// Names lists the compiled profile names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
