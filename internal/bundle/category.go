package bundle

import (
	"fmt"
	"path"
	"strings"
)

// Category is the closed set of asset kinds the compiler understands.
type Category int

const (
	Script Category = iota + 1
	Style
	Template
)

type categoryInfo struct {
	section     string
	contentType string
	extensions  []string
}

var categories = map[Category]categoryInfo{
	Script:   {section: "scripts", contentType: "application/javascript", extensions: []string{"js"}},
	Style:    {section: "styles", contentType: "text/css", extensions: []string{"css", "gss"}},
	Template: {section: "templates", contentType: "application/javascript", extensions: []string{"soy"}},
}

// AllCategories lists every category in declaration order.
func AllCategories() []Category {
	return []Category{Script, Style, Template}
}

// ContentType returns the response content type for artifacts of this category.
// Templates compile to JavaScript, so they share the script content type.
func (c Category) ContentType() string {
	return categories[c].contentType
}

// Extensions returns the lower-case file extensions (without dot) classified as c.
func (c Category) Extensions() []string {
	return categories[c].extensions
}

// Section returns the configuration section name for c.
func (c Category) Section() string {
	return categories[c].section
}

func (c Category) String() string {
	if info, ok := categories[c]; ok {
		return info.section
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// CategoryFromPath classifies a file by its extension.
func CategoryFromPath(p string) (Category, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.ReplaceAll(p, "\\", "/")), "."))
	if ext == "" {
		return 0, false
	}
	for _, c := range AllCategories() {
		for _, e := range c.Extensions() {
			if e == ext {
				return c, true
			}
		}
	}
	return 0, false
}

// ParseCategory resolves a configuration section name (case-insensitive).
func ParseCategory(section string) (Category, error) {
	for _, c := range AllCategories() {
		if strings.EqualFold(section, c.Section()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("undefined category %q", section)
}
