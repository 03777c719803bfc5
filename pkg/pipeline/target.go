// Package pipeline models a genome-alignment pipeline as a validated,
// immutable DAG of targets.
//
// A Target is one schedulable unit of work: an external command with
// declared input and output paths. Targets are stored in an arena and
// addressed by integer id; edges are adjacency lists of ids wired by
// matching declared outputs to declared inputs. The graph is validated
// at build time (unique names, one producer per output path, inputs
// traceable to a source or a producer, acyclicity) and is safe for
// concurrent read access afterwards.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// StepKind identifies the pipeline step a target performs.
//
// The set is closed: adding a step means adding a constant here and its
// expansion logic in the builder, not subclassing.
type StepKind string

const (
	// StepDownload fetches genome sequence/annotation archives.
	StepDownload StepKind = "download"

	// StepFormat converts downloaded sequences into indexed working
	// formats (2bit, chrom.sizes).
	StepFormat StepKind = "format"

	// StepAlign runs the pairwise aligner for a genome pair.
	StepAlign StepKind = "align"

	// StepChain chains raw alignment blocks (axtChain).
	StepChain StepKind = "chain"

	// StepNet merges, pre-nets and nets chained alignments.
	StepNet StepKind = "net"

	// StepMerge produces the final single-coverage MAF for a pair.
	StepMerge StepKind = "merge"
)

// Valid reports whether k is one of the known step kinds.
func (k StepKind) Valid() bool {
	switch k {
	case StepDownload, StepFormat, StepAlign, StepChain, StepNet, StepMerge:
		return true
	}
	return false
}

// Target is one named unit of pipeline work.
//
// Identity is the Name, derived deterministically from the genome or
// pair identifier and the step kind, so it is stable across runs and
// usable as a ledger key.
type Target struct {
	// Name uniquely identifies the target, e.g. "align:osat-zmay".
	Name string

	// Kind is the pipeline step this target performs.
	Kind StepKind

	// Subject is the genome id (per-genome steps) or "target-query"
	// pair id (per-pair steps) the target operates on.
	Subject string

	// Inputs are the paths the command reads, in declaration order.
	// An input that no other target produces is an external source file.
	Inputs []string

	// Outputs are the paths the command must leave present on success,
	// in declaration order. Each output has exactly one producer.
	Outputs []string

	// Command is the argv template executed for this target. Elements
	// may reference declared paths with {input:N} and {output:N}
	// placeholders, resolved at dispatch time.
	Command []string
}

// TargetName derives the deterministic name for a step on a subject.
func TargetName(kind StepKind, subject string) string {
	return string(kind) + ":" + subject
}

// PairSubject derives the subject id for an ordered genome pair.
func PairSubject(target, query string) string {
	return target + "-" + query
}

// ExpandCommand resolves {input:N} and {output:N} placeholders in the
// target's command template against its declared paths.
//
// Unknown placeholders and indexes out of range are errors: a template
// that references paths the target does not declare would break the
// freshness contract.
func (t Target) ExpandCommand() ([]string, error) {
	argv := make([]string, 0, len(t.Command))
	for _, arg := range t.Command {
		expanded, err := t.expandArg(arg)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func (t Target) expandArg(arg string) (string, error) {
	var b strings.Builder
	rest := arg
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closing += open

		b.WriteString(rest[:open])
		ref := rest[open+1 : closing]
		rest = rest[closing+1:]

		path, err := t.resolveRef(ref)
		if err != nil {
			return "", err
		}
		b.WriteString(path)
	}
}

func (t Target) resolveRef(ref string) (string, error) {
	kind, idxStr, ok := strings.Cut(ref, ":")
	if !ok {
		return "", fmt.Errorf("malformed placeholder {%s}", ref)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return "", fmt.Errorf("malformed placeholder {%s}", ref)
	}
	switch kind {
	case "input":
		if idx < 0 || idx >= len(t.Inputs) {
			return "", fmt.Errorf("placeholder {%s} out of range (%d inputs)", ref, len(t.Inputs))
		}
		return t.Inputs[idx], nil
	case "output":
		if idx < 0 || idx >= len(t.Outputs) {
			return "", fmt.Errorf("placeholder {%s} out of range (%d outputs)", ref, len(t.Outputs))
		}
		return t.Outputs[idx], nil
	default:
		return "", fmt.Errorf("unknown placeholder {%s}", ref)
	}
}
