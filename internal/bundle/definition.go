package bundle

import (
	"regexp"
	"slices"
	"strings"
)

var dependencySeparator = regexp.MustCompile(`\s*,\s*`)

// Section carries the per-category defaults every bundle in a configuration
// section starts from.
type Section struct {
	Category  Category
	BaseDir   string
	OutputDir string
	Profile   Profile
}

// Overrides are the per-bundle fields that replace section defaults when set.
type Overrides struct {
	BaseDir      *string
	OutputDir    *string
	Profile      *Profile
	Dependencies string
	Patterns     []Pattern
}

// Definition is the unit of build: an ordered list of source patterns that
// produce one artifact at OutputPath.
type Definition struct {
	Name         string
	OutputPath   string
	BaseDir      string
	OutputDir    string
	Category     Category
	Profile      Profile
	Dependencies []string
	Patterns     []Pattern
}

// NewDefinition builds a definition from section defaults plus overrides.
func NewDefinition(defaults Section, name string, o Overrides) *Definition {
	def := &Definition{
		Name:      name,
		BaseDir:   defaults.BaseDir,
		OutputDir: defaults.OutputDir,
		Category:  defaults.Category,
		Profile:   defaults.Profile,
		Patterns:  slices.Clone(o.Patterns),
	}
	if o.BaseDir != nil {
		def.BaseDir = *o.BaseDir
	}
	if o.OutputDir != nil {
		def.OutputDir = *o.OutputDir
	}
	if o.Profile != nil {
		def.Profile = *o.Profile
	}
	def.Dependencies = ParseDependencies(o.Dependencies)
	def.OutputPath = JoinPath(def.OutputDir, def.Name)
	return def
}

// ParseDependencies splits a comma separated dependency list, trimming
// whitespace and normalizing each identifier. Empty entries are dropped.
func ParseDependencies(s string) []string {
	var deps []string
	for _, d := range dependencySeparator.Split(s, -1) {
		if d = CleanPath(strings.TrimSpace(d)); d != "" {
			deps = append(deps, d)
		}
	}
	return deps
}

// Model is the full set of bundle definitions plus the root default profile.
type Model struct {
	Bundles        map[string]*Definition
	DefaultProfile Profile
}

// NewModel returns an empty model with the given default profile.
func NewModel(defaultProfile Profile) *Model {
	return &Model{
		Bundles:        make(map[string]*Definition),
		DefaultProfile: defaultProfile,
	}
}

// Add registers def under its output path and reports whether it replaced an
// earlier definition with the same key. The last registration wins.
func (m *Model) Add(def *Definition) (replaced bool) {
	_, replaced = m.Bundles[def.OutputPath]
	m.Bundles[def.OutputPath] = def
	return replaced
}

// Lookup finds a definition by normalized output path.
func (m *Model) Lookup(outputPath string) (*Definition, bool) {
	def, ok := m.Bundles[CleanPath(outputPath)]
	return def, ok
}

// Paths returns every output path in sorted order.
func (m *Model) Paths() []string {
	paths := make([]string, 0, len(m.Bundles))
	for p := range m.Bundles {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
