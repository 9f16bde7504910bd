package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates glob patterns against source-relative input names.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: name must match at least one
//   - Exclude patterns: name must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that names must match (at least one).
	// Required: at least one include pattern must be specified.
	Includes []string

	// Excludes are glob patterns that names must not match (any).
	// Optional: if empty, no excludes are applied.
	Excludes []string

	// IncludeHidden controls whether hidden files are matched.
	// Hidden files have path segments starting with '.'.
	// Default: false (hidden files are excluded).
	IncludeHidden bool
}

// Errors returned by Matcher operations.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a new Matcher from the given configuration.
//
// Patterns are normalized to handle Windows-style backslash separators
// while preserving escape sequences for literal glob metacharacters.
//
// Returns an error if:
//   - No include patterns are provided
//   - Any pattern is invalid (cannot be compiled)
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}

	includes := make([]string, 0, len(cfg.Includes))
	for _, raw := range cfg.Includes {
		normalized := NormalizePattern(raw)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		includes = append(includes, normalized)
	}

	excludes := make([]string, 0, len(cfg.Excludes))
	for _, raw := range cfg.Excludes {
		normalized := NormalizePattern(raw)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		excludes = append(excludes, normalized)
	}

	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		includeHidden: cfg.IncludeHidden,
	}, nil
}

// Match returns true if the name matches the include/exclude patterns.
//
// A name matches if:
//  1. It matches at least one include pattern
//  2. It does not match any exclude pattern
//  3. It is not hidden (unless IncludeHidden is true)
//
// Names are matched as-is since storage keys are opaque strings where
// any character is valid.
func (m *Matcher) Match(name string) bool {
	// Check hidden first (fast path)
	if !m.includeHidden && IsHidden(name) {
		return false
	}

	// Must match at least one include pattern
	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, name) {
			matched = true
			break
		}
	}

	if !matched {
		return false
	}

	// Must not match any exclude pattern
	for _, exc := range m.excludes {
		if matchPattern(exc, name) {
			return false
		}
	}

	return true
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// matchPattern matches a name against a doublestar pattern.
func matchPattern(pattern, name string) bool {
	matched, err := doublestar.Match(pattern, name)
	if err != nil {
		// Pattern was validated at construction time, so this shouldn't happen
		return false
	}
	return matched
}
