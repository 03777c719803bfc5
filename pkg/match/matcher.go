// Package match selects pipeline targets by glob pattern.
//
// Target names have the shape "kind:subject" (e.g. "align:osat-sbic"),
// so patterns like "align:*", "*:osat*" or "net:osat-*" select slices
// of the pipeline. Matching uses doublestar semantics with ':' and '-'
// treated as ordinary characters.
package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates patterns against target names.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: target must match at least one
//   - Exclude patterns: target must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes []string
	excludes []string
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that target names must match (at
	// least one). Required: at least one include pattern.
	Includes []string

	// Excludes are glob patterns that target names must not match
	// (any). Optional.
	Excludes []string
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
// Returns an error if no include patterns are provided or any pattern
// is invalid.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}

	for _, raw := range cfg.Includes {
		if !doublestar.ValidatePattern(raw) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
	}
	for _, raw := range cfg.Excludes {
		if !doublestar.ValidatePattern(raw) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
	}

	return &Matcher{
		includes: append([]string(nil), cfg.Includes...),
		excludes: append([]string(nil), cfg.Excludes...),
	}, nil
}

// All matches every target name.
func All() *Matcher {
	return &Matcher{includes: []string{"**"}}
}

// Match returns true if the target name matches the include/exclude
// patterns: at least one include, no exclude.
func (m *Matcher) Match(name string) bool {
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

	for _, exc := range m.excludes {
		if matchPattern(exc, name) {
			return false
		}
	}
	return true
}

// Filter returns the names that match, preserving input order.
func (m *Matcher) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if m.Match(name) {
			out = append(out, name)
		}
	}
	return out
}

// IncludePatterns returns the raw include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the raw exclude patterns.
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
