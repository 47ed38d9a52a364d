package bundle

import (
	"fmt"
	"strings"
)

// ConfigError reports a configuration document that cannot produce a usable
// bundle map. It is fatal at startup.
type ConfigError struct {
	Source string // document location, if known
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("asset configuration")
	if e.Source != "" {
		fmt.Fprintf(&b, " %s", e.Source)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UnresolvedDependencyError reports a dependency id that matches no bundle's output path.
type UnresolvedDependencyError struct {
	Bundle     string
	Dependency string
}

func (e *UnresolvedDependencyError) Error() string {
	if e.Bundle == "" {
		return fmt.Sprintf("bundle %q is not defined", e.Dependency)
	}
	return fmt.Sprintf("bundle %q depends on undefined bundle %q", e.Bundle, e.Dependency)
}

// DependencyCycleError reports a circular dependency chain. Cycle starts and
// ends with the same output path.
type DependencyCycleError struct {
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}
