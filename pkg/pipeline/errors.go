package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned while building the dependency graph.
var (
	// ErrConfiguration is the sentinel for malformed or contradictory
	// target declarations.
	ErrConfiguration = errors.New("invalid pipeline configuration")

	// ErrCycle is the sentinel for dependency cycles.
	ErrCycle = errors.New("dependency cycle")
)

// ConfigurationError describes a fatal declaration problem found at
// graph build time. It names the offending target and path so the
// operator can fix the manifest without reading the engine.
type ConfigurationError struct {
	Target string
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	msg := "target " + e.Target
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	return msg + ": " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// CycleError reports a dependency cycle by the names of its members,
// in traversal order.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }
