package mipmap

import (
	"fmt"
	"strings"
)

// RemapPath translates a local NAS-mount path prefix into a server-visible
// path prefix before URLs are emitted (spec §4.E "Remote-path remapping").
// If nasPrefix is empty, remapping is disabled and path is returned as-is.
func RemapPath(path, nasPrefix, remotePrefix string) (string, error) {
	if nasPrefix == "" {
		return path, nil
	}
	if !strings.HasPrefix(path, nasPrefix) {
		return "", fmt.Errorf("mipmap: %w: %q does not start with NAS prefix %q", ErrRemotePathViolation, path, nasPrefix)
	}
	return remotePrefix + strings.TrimPrefix(path, nasPrefix), nil
}
