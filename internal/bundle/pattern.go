package bundle

import (
	"fmt"
	"strings"
)

// Protocol tells the resolver where a pattern's files come from.
type Protocol int

const (
	// Local patterns are globs matched against paths relative to the bundle's base directory.
	Local Protocol = iota
	// RemoteHTTP patterns are absolute URLs fetched as a single file.
	RemoteHTTP
	// Loopback patterns are fetched from the running server itself, relative to
	// its own address, the application root prefix and the bundle's base directory.
	Loopback
)

func (p Protocol) String() string {
	switch p {
	case Local:
		return "local"
	case RemoteHTTP:
		return "remote_http"
	case Loopback:
		return "loopback"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// ParseProtocol accepts both the current names and the legacy FILE/HTTP/SERVER tokens.
// An empty string means Local.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local", "file":
		return Local, nil
	case "remote_http", "http", "https":
		return RemoteHTTP, nil
	case "loopback", "server":
		return Loopback, nil
	default:
		return Local, fmt.Errorf("unknown source protocol %q", s)
	}
}

// Polarity decides whether a pattern adds files to or removes files from a bundle.
type Polarity int

const (
	Include Polarity = iota
	Exclude
)

func (p Polarity) String() string {
	if p == Exclude {
		return "exclude"
	}
	return "include"
}

// Pattern is one include or exclude declaration of a bundle.
type Pattern struct {
	Protocol Protocol
	Polarity Polarity
	Value    string
}

func (p Pattern) String() string {
	return fmt.Sprintf("%s %s:%s", p.Polarity, p.Protocol, p.Value)
}
