// Package media resolves icon and image references in outbound messages,
// substituting a configured default when a reference does not point at a
// valid image on disk.
package media

import (
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImage reports whether path names an existing regular file with a
// recognized image extension
func IsImage(path string) bool {
	if path == "" {
		return false
	}
	if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Resolver substitutes missing or invalid image references with a default icon
type Resolver struct {
	// DefaultIcon is returned whenever a reference cannot be resolved
	DefaultIcon string
}

// Resolve returns icon if it points at a valid image, the default icon otherwise
func (r Resolver) Resolve(icon string) string {
	if IsImage(icon) {
		return icon
	}
	return r.DefaultIcon
}

// FindUnder searches the given roots for rel and returns the first existing
// file. Path traversal outside a root is rejected.
func (r Resolver) FindUnder(roots []string, rel string) (string, bool) {
	cleaned := filepath.Clean("/" + rel)
	for _, root := range roots {
		candidate := filepath.Join(root, cleaned)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}
