package bundle

import (
	"fmt"
	"strings"
)

// Profile selects how aggressively the transformer rewrites sources.
//
// The zero value is the absent profile: sources are concatenated verbatim and
// the artifact is rebuilt on every request. Any other value marks the artifact
// as final for the lifetime of the process once it has been built.
type Profile string

const (
	ProfileNone           Profile = ""
	ProfileWhitespaceOnly Profile = "WHITESPACE_ONLY"
	ProfileSimple         Profile = "SIMPLE_OPTIMIZATIONS"
	ProfileAdvanced       Profile = "ADVANCED_OPTIMIZATIONS"
)

// Present reports whether a profile was configured.
func (p Profile) Present() bool {
	return p != ProfileNone
}

func (p Profile) String() string {
	if p == ProfileNone {
		return "none"
	}
	return string(p)
}

// ParseProfile parses a profile token. An empty string or "none" yields ProfileNone.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return ProfileNone, nil
	case string(ProfileWhitespaceOnly):
		return ProfileWhitespaceOnly, nil
	case string(ProfileSimple):
		return ProfileSimple, nil
	case string(ProfileAdvanced):
		return ProfileAdvanced, nil
	default:
		return ProfileNone, fmt.Errorf("unknown compilation profile %q", s)
	}
}
