package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidatePath validates that a file path is safe and does not contain directory traversal attempts.
//
// Returns an error if the path is empty, contains a ".." segment, or is
// absolute when allowAbsolute is false.
func ValidatePath(p string, allowAbsolute bool) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if HasTraversal(filepath.ToSlash(p)) {
		return fmt.Errorf("path contains directory traversal: %s", p)
	}

	if !allowAbsolute && filepath.IsAbs(filepath.Clean(p)) {
		return fmt.Errorf("absolute paths not allowed: %s", p)
	}

	return nil
}

// HasTraversal reports whether any slash-separated segment of p is "..".
func HasTraversal(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// SecureJoin safely joins path elements and ensures the result stays within the base directory.
// Unlike filepath.Join, this function validates that the result doesn't escape the base through
// directory traversal.
//
// Example usage:
//
//	safePath, err := SecureJoin("/srv/www", "assets", filename)
//	if err != nil {
//		return fmt.Errorf("invalid path combination: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !within(fullPath, cleanBase, string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}

// SecureJoinSlash is SecureJoin for slash-separated object names. The
// result is relative when base is ".".
func SecureJoinSlash(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := path.Clean(base)
	fullPath := path.Join(append([]string{cleanBase}, elements...)...)

	if cleanBase == "." {
		if fullPath == ".." || strings.HasPrefix(fullPath, "../") || strings.HasPrefix(fullPath, "/") {
			return "", fmt.Errorf("path escapes base directory")
		}
		return fullPath, nil
	}

	if !within(fullPath, cleanBase, "/") {
		return "", fmt.Errorf("path escapes base directory")
	}
	return fullPath, nil
}

func within(full, base, sep string) bool {
	if full == base {
		return true
	}
	if strings.HasSuffix(base, sep) {
		return strings.HasPrefix(full, base)
	}
	return strings.HasPrefix(full, base+sep)
}
