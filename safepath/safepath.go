// Package safepath guards every filesystem boundary of the artifact store
// against path traversal. All user-supplied paths (annotation writes,
// protect/unprotect, rotate, delete) pass through Confine before any I/O.
package safepath

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrTraversal is returned when a user-supplied path escapes its root.
var ErrTraversal = errors.New("safepath: path escapes storage root")

// Confine resolves candidate relative to root and verifies the cleaned
// result stays inside root. Returns the absolute confined path.
func Confine(root, candidate string) (string, error) {
	if strings.Contains(candidate, "..") {
		return "", ErrTraversal
	}
	cleaned := filepath.Join(root, filepath.Clean("/"+candidate))
	base := filepath.Clean(root)
	if cleaned != base && !strings.HasPrefix(cleaned, base+string(filepath.Separator)) {
		return "", ErrTraversal
	}
	return cleaned, nil
}

// ConfineRel is Confine for callers that keep relative paths in the catalog:
// it confines candidate under root and returns the path relative to root.
func ConfineRel(root, candidate string) (string, error) {
	abs, err := Confine(root, candidate)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(filepath.Clean(root), abs)
	if err != nil {
		return "", ErrTraversal
	}
	return rel, nil
}

// WithinPrefix reports whether candidate, after cleaning, lives under the
// given prefix. Used for the annotation write boundary where paths are
// stored relative (e.g. "artifacts/12/scan.png").
func WithinPrefix(prefix, candidate string) bool {
	if strings.Contains(candidate, "..") {
		return false
	}
	cleaned := filepath.ToSlash(filepath.Clean(candidate))
	p := strings.TrimSuffix(filepath.ToSlash(prefix), "/")
	return cleaned == p || strings.HasPrefix(cleaned, p+"/")
}
