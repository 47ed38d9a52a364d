package source

import (
	"fmt"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
)

// SourceFetchError reports a RemoteHTTP or Loopback source that could not be
// fetched. It aborts the build that needed the source.
type SourceFetchError struct {
	Protocol   bundle.Protocol
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *SourceFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s source %s: unexpected status %d", e.Protocol, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s source %s: %v", e.Protocol, e.URL, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }
