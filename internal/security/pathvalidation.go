// Package security validates user-supplied paths and names before they reach
// the filesystem: race record files must stay inside the races directory and
// exports inside the working or temp directory.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned for paths that resolve outside the directory
// they must stay in.
var ErrPathTraversal = errors.New("path traversal detected")

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir.
// Symlinks are resolved on both sides; for a path that does not exist yet the
// nearest existing parent is resolved, so a symlinked parent cannot be used to
// escape.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	target, err := canonicalPath(filePath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	root, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathTraversal, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrPathTraversal, filePath, safeDir)
	}
	return nil
}

// canonicalPath returns the absolute, symlink-free form of p. When p does not
// exist its deepest existing ancestor is resolved and the rest appended.
func canonicalPath(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, err := filepath.Rel(dir, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rest), nil
		}
		if parent := filepath.Dir(dir); parent == dir {
			return abs, nil
		}
	}
}

// ValidatePathWithinAllowedDirs checks that filePath resolves inside at least
// one of allowedDirs.
func ValidatePathWithinAllowedDirs(filePath string, allowedDirs []string) error {
	if len(allowedDirs) == 0 {
		return fmt.Errorf("no allowed directories specified")
	}
	for _, dir := range allowedDirs {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: path must be within one of %v", ErrPathTraversal, allowedDirs)
}

// ValidateExportPath checks that an export destination lies within the temp
// directory or the current working directory.
func ValidateExportPath(filePath string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return ValidatePathWithinAllowedDirs(filePath, []string{os.TempDir(), cwd})
}

const maxFilenameLen = 128

// SanitizeFilename turns an arbitrary string, such as a race name, into a
// safe file name: runs of characters other than ASCII letters, digits, '.',
// '_' and '-' become a single underscore, the result is capped at 128 bytes
// and stripped of leading and trailing dots and underscores. An empty result
// becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pendingUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		if safeFilenameRune(r) {
			if pendingUnderscore {
				b.WriteByte('_')
				pendingUnderscore = false
			}
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			pendingUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

func safeFilenameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-'
}

// RaceExportName returns the download file name of a race record.
func RaceExportName(name string, startTime int64) string {
	return fmt.Sprintf("%d-%s.json", startTime, SanitizeFilename(name))
}
