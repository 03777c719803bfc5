package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bioforge/alnpipe/pkg/pipeline"
)

// ErrValidationFailed indicates the manifest failed validation.
var ErrValidationFailed = errors.New("manifest validation failed")

// idPattern constrains genome ids to path-safe tokens.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path locates the problematic field (e.g., "genomes[1].fasta").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("manifest validation failed with %d errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks the manifest for structural problems.
//
// Returns nil if validation succeeds, or a ValidationErrors with
// details about all failures. Cross-target problems (duplicate
// outputs, cycles) are checked later by the graph builder; Validate
// covers everything diagnosable from the document alone.
func Validate(m *Manifest) error {
	var errs ValidationErrors

	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if m.Version == "" {
		add("version", "is required")
	} else if m.Version != DefaultVersion {
		add("version", "unsupported version %q (expected %q)", m.Version, DefaultVersion)
	}

	if m.WorkDir == "" {
		add("workdir", "is required")
	}

	if len(m.Genomes) == 0 {
		add("genomes", "at least one genome is required")
	}

	seen := make(map[string]bool, len(m.Genomes))
	for i, g := range m.Genomes {
		at := fmt.Sprintf("genomes[%d]", i)
		switch {
		case g.ID == "":
			add(at+".id", "is required")
		case !idPattern.MatchString(g.ID):
			add(at+".id", "invalid id %q (lowercase letters, digits, underscores)", g.ID)
		case seen[g.ID]:
			add(at+".id", "duplicate genome id %q", g.ID)
		default:
			seen[g.ID] = true
		}
		if g.Fasta == "" {
			add(at+".fasta", "is required")
		} else if err := checkURL(g.Fasta); err != nil {
			add(at+".fasta", "%v", err)
		}
		if g.Annotation != "" {
			if err := checkURL(g.Annotation); err != nil {
				add(at+".annotation", "%v", err)
			}
		}
	}

	for i, p := range m.Pairs {
		at := fmt.Sprintf("pairs[%d]", i)
		if p.Target == "" {
			add(at+".target", "is required")
		} else if !seen[p.Target] {
			add(at+".target", "references undeclared genome %q", p.Target)
		}
		if p.Query == "" {
			add(at+".query", "is required")
		} else if !seen[p.Query] {
			add(at+".query", "references undeclared genome %q", p.Query)
		}
		if p.Target != "" && p.Target == p.Query {
			add(at, "aligns genome %q against itself", p.Target)
		}
	}

	for kind := range m.Tools {
		if !pipeline.StepKind(kind).Valid() {
			add("tools."+kind, "unknown step kind")
		}
	}
	for kind := range m.Options {
		if !pipeline.StepKind(kind).Valid() {
			add("options."+kind, "unknown step kind")
		}
	}

	if m.Run.Jobs < 0 || m.Run.Jobs > MaxJobs {
		add("run.jobs", "must be between 1 and %d", MaxJobs)
	}
	if m.Run.DownloadRateLimit < 0 {
		add("run.download_rate_limit", "must not be negative")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return nil
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
}
