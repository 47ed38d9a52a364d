package interceptor

import "fmt"

// UnsupportedAssetError reports an existing file whose extension maps to no
// category. Nothing is served for it.
type UnsupportedAssetError struct {
	Path string
}

func (e *UnsupportedAssetError) Error() string {
	return fmt.Sprintf("unsupported asset type: %s", e.Path)
}
