package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type document struct {
	Profile  string            `yaml:"profile" toml:"profile"`
	Sections []sectionDocument `yaml:"sections" toml:"sections"`
}

type sectionDocument struct {
	Category  string           `yaml:"category" toml:"category"`
	BaseDir   string           `yaml:"basedir" toml:"basedir"`
	OutputDir string           `yaml:"outputdir" toml:"outputdir"`
	Profile   *string          `yaml:"profile" toml:"profile"`
	Bundles   []bundleDocument `yaml:"bundles" toml:"bundles"`
}

type bundleDocument struct {
	Name       string            `yaml:"name" toml:"name"`
	Dependency string            `yaml:"dependency" toml:"dependency"`
	BaseDir    *string           `yaml:"basedir" toml:"basedir"`
	OutputDir  *string           `yaml:"outputdir" toml:"outputdir"`
	Profile    *string           `yaml:"profile" toml:"profile"`
	Patterns   []patternDocument `yaml:"patterns" toml:"patterns"`
}

type patternDocument struct {
	Include  *string `yaml:"include" toml:"include"`
	Exclude  *string `yaml:"exclude" toml:"exclude"`
	Protocol string  `yaml:"protocol" toml:"protocol"`
}

// LoadFile reads and parses the configuration document at path. Files
// ending in .toml are read as TOML, everything else as YAML.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Msg: "cannot read document", Err: err}
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOML(bytes.NewReader(data), path)
	}
	return Load(bytes.NewReader(data), path)
}

// Load parses a YAML configuration document into a Model. Every failure is
// a *ConfigError; source only labels error messages.
func Load(r io.Reader, source string) (*Model, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Source: source, Msg: "malformed document", Err: err}
	}
	return doc.model(source)
}

// LoadTOML parses the TOML form of the configuration document.
func LoadTOML(r io.Reader, source string) (*Model, error) {
	var doc document
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&doc); err != nil {
		return nil, &ConfigError{Source: source, Msg: "malformed document", Err: err}
	}
	return doc.model(source)
}

func (doc document) model(source string) (*Model, error) {
	rootProfile, err := ParseProfile(doc.Profile)
	if err != nil {
		return nil, &ConfigError{Source: source, Msg: "root profile", Err: err}
	}

	model := NewModel(rootProfile)
	for i, sd := range doc.Sections {
		section, err := sd.section(rootProfile)
		if err != nil {
			return nil, &ConfigError{Source: source, Msg: fmt.Sprintf("section %d", i+1), Err: err}
		}
		for j, bd := range sd.Bundles {
			def, err := bd.definition(section)
			if err != nil {
				return nil, &ConfigError{
					Source: source,
					Msg:    fmt.Sprintf("section %d (%s) bundle %d", i+1, section.Category, j+1),
					Err:    err,
				}
			}
			if model.Add(def) {
				log.Warn().Str("bundle", def.OutputPath).Msg("Bundle declared more than once, last declaration wins")
			}
		}
	}

	log.Debug().Str("source", source).Int("bundles", len(model.Bundles)).
		Str("default_profile", model.DefaultProfile.String()).Msg("Asset configuration loaded")
	return model, nil
}

func (sd sectionDocument) section(rootProfile Profile) (Section, error) {
	category, err := ParseCategory(sd.Category)
	if err != nil {
		return Section{}, err
	}
	profile := rootProfile
	if sd.Profile != nil {
		if profile, err = ParseProfile(*sd.Profile); err != nil {
			return Section{}, err
		}
	}
	return Section{
		Category:  category,
		BaseDir:   sd.BaseDir,
		OutputDir: sd.OutputDir,
		Profile:   profile,
	}, nil
}

func (bd bundleDocument) definition(section Section) (*Definition, error) {
	name := CleanPath(bd.Name)
	if name == "" {
		return nil, errors.New("bundle name is required")
	}

	o := Overrides{
		BaseDir:      bd.BaseDir,
		OutputDir:    bd.OutputDir,
		Dependencies: bd.Dependency,
	}
	if bd.Profile != nil {
		profile, err := ParseProfile(*bd.Profile)
		if err != nil {
			return nil, fmt.Errorf("bundle %q: %w", name, err)
		}
		o.Profile = &profile
	}
	for k, pd := range bd.Patterns {
		p, err := pd.pattern()
		if err != nil {
			return nil, fmt.Errorf("bundle %q pattern %d: %w", name, k+1, err)
		}
		o.Patterns = append(o.Patterns, p)
	}
	return NewDefinition(section, name, o), nil
}

func (pd patternDocument) pattern() (Pattern, error) {
	var p Pattern
	switch {
	case pd.Include != nil && pd.Exclude != nil:
		return p, errors.New("pattern declares both include and exclude")
	case pd.Include != nil:
		p.Polarity, p.Value = Include, strings.TrimSpace(*pd.Include)
	case pd.Exclude != nil:
		p.Polarity, p.Value = Exclude, strings.TrimSpace(*pd.Exclude)
	default:
		return p, errors.New("pattern declares neither include nor exclude")
	}
	if p.Value == "" {
		return p, errors.New("pattern body is empty")
	}

	protocol, err := ParseProtocol(pd.Protocol)
	if err != nil {
		return p, err
	}
	p.Protocol = protocol

	switch protocol {
	case Local:
		if !doublestar.ValidatePattern(p.Value) {
			return p, fmt.Errorf("invalid glob %q", p.Value)
		}
	case RemoteHTTP:
		u, err := url.Parse(p.Value)
		if err != nil {
			return p, fmt.Errorf("invalid url %q: %w", p.Value, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return p, fmt.Errorf("remote pattern %q must be an absolute http(s) url", p.Value)
		}
	}
	return p, nil
}
