package bundle

import (
	"regexp"
	"strings"
)

var separatorRun = regexp.MustCompile(`[/\\]+`)

// CleanPath normalizes a request or configuration path so that equivalent
// spellings compare equal: runs of '/' and '\' collapse to a single '/', and
// leading and trailing separators are dropped.
//
//	CleanPath("///a////b\\\\c//") == "a/b/c"
func CleanPath(p string) string {
	return strings.Trim(separatorRun.ReplaceAllString(p, "/"), "/")
}

// JoinPath joins path fragments with '/' and normalizes the result.
func JoinPath(parts ...string) string {
	return CleanPath(strings.Join(parts, "/"))
}
