// Package match filters discovered inputs before planning: doublestar glob
// patterns over source-relative names, plus optional size, date, and regex
// criteria over input metadata.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Normalization rules:
//   - Unescaped backslashes converted to forward slashes (Windows compat)
//   - Escaped backslashes and glob metacharacters preserved (\*, \?, \[, etc.)
//   - Leading slash, trailing slash, and // sequences preserved
//
// This allows Windows users to write patterns like "scans\2024\**\*.jpg"
// while preserving escape semantics for literal matching.
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if strings.ContainsRune(globEscapable, next) {
				// Preserve the escape sequence
				result.WriteRune('\\')
				result.WriteRune(next)
				i++
				continue
			}
			// Unescaped backslash - convert to forward slash
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			// Trailing backslash - convert to forward slash
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return result.String()
}

// IsHidden returns true if any path segment starts with a dot.
//
// Hidden segments follow Unix convention where files/directories
// starting with '.' are considered hidden.
//
// Examples:
//
//	"path/to/file.txt"      → false
//	".hidden/file.txt"      → true
//	"path/.hidden/file.txt" → true
//	"path/to/.gitignore"    → true
//	"path/to/file.txt."     → false (dot at end is not hidden)
func IsHidden(name string) bool {
	if name == "" {
		return false
	}

	segments := strings.Split(name, "/")
	for _, seg := range segments {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}

	return false
}
