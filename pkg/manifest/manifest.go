// Package manifest provides loading and validation of alnpipe pipeline
// manifests.
//
// A pipeline manifest is a TOML, YAML, or JSON file that declares the
// genomes to fetch, the ordered pairs to align, and run behavior. The
// manifest is validated after parsing and translated into the engine's
// pipeline.Spec.
//
// Example manifest (TOML):
//
//	version = "1.0"
//	workdir = "alignment"
//
//	[[genomes]]
//	id = "osat"
//	fasta = "https://ftp.ensemblgenomes.org/.../osat.fa.gz"
//	annotation = "https://ftp.ensemblgenomes.org/.../osat.gff3.gz"
//
//	[[genomes]]
//	id = "sbic"
//	fasta = "https://ftp.ensemblgenomes.org/.../sbic.fa.gz"
//
//	[[pairs]]
//	target = "osat"
//	query = "sbic"
//
//	[run]
//	jobs = 4
//	download_rate_limit = 2.0
//
//	[options]
//	align = ["--strand=both", "--seed=match12"]
package manifest

// Manifest represents a parsed pipeline manifest.
//
// Required fields are Version, WorkDir, and at least one genome. Run,
// Tools, and Options are optional with defaults applied during loading.
type Manifest struct {
	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version" toml:"version"`

	// WorkDir is the directory tree all pipeline artifacts live under.
	// Relative paths are resolved against the manifest file's directory.
	WorkDir string `json:"workdir" yaml:"workdir" toml:"workdir"`

	// Genomes lists the assemblies to fetch and index. At least one is
	// required.
	Genomes []GenomeConfig `json:"genomes" yaml:"genomes" toml:"genomes"`

	// Pairs lists the ordered (target, query) alignments to produce.
	Pairs []PairConfig `json:"pairs,omitempty" yaml:"pairs,omitempty" toml:"pairs,omitempty"`

	// Run configures execution behavior (optional).
	Run RunConfig `json:"run,omitempty" yaml:"run,omitempty" toml:"run,omitempty"`

	// Tools overrides the wrapper command per step kind (optional).
	// Keys are step kinds: download, format, align, chain, net, merge.
	Tools map[string]string `json:"tools,omitempty" yaml:"tools,omitempty" toml:"tools,omitempty"`

	// Options appends extra arguments to a step kind's command line
	// (optional). Keys are step kinds, as for Tools. Changing a step's
	// options re-runs the affected targets.
	Options map[string][]string `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// GenomeConfig declares one genome assembly.
type GenomeConfig struct {
	// ID is the species identifier used in paths and target names,
	// e.g. "oryza_sativa" or "osat".
	ID string `json:"id" yaml:"id" toml:"id"`

	// Fasta is the remote URL of the soft-masked genome FASTA.
	Fasta string `json:"fasta" yaml:"fasta" toml:"fasta"`

	// Annotation is the optional remote URL of the GFF3 annotation.
	Annotation string `json:"annotation,omitempty" yaml:"annotation,omitempty" toml:"annotation,omitempty"`
}

// PairConfig declares one ordered pairwise alignment.
type PairConfig struct {
	// Target is the reference genome id.
	Target string `json:"target" yaml:"target" toml:"target"`

	// Query is the aligned genome id.
	Query string `json:"query" yaml:"query" toml:"query"`
}

// RunConfig configures execution behavior.
//
// All fields are optional with defaults applied during loading; the
// run command's flags override these values.
type RunConfig struct {
	// Jobs is the number of parallel workers. Range: 1-64. Default: 4.
	Jobs int `json:"jobs,omitempty" yaml:"jobs,omitempty" toml:"jobs,omitempty"`

	// DownloadRateLimit caps download dispatches per second against
	// remote hosts (0 = unlimited). Default: 0.
	DownloadRateLimit float64 `json:"download_rate_limit,omitempty" yaml:"download_rate_limit,omitempty" toml:"download_rate_limit,omitempty"`

	// Ledger is the run ledger path. Relative paths are resolved
	// against the manifest file's directory.
	// Default: ".alnpipe/ledger.json".
	Ledger string `json:"ledger,omitempty" yaml:"ledger,omitempty" toml:"ledger,omitempty"`

	// KeepPartial leaves a failed target's partial outputs on disk.
	// Default: false.
	KeepPartial bool `json:"keep_partial,omitempty" yaml:"keep_partial,omitempty" toml:"keep_partial,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultJobs is the default number of parallel workers.
	DefaultJobs = 4

	// MaxJobs is the upper bound on parallel workers.
	MaxJobs = 64

	// DefaultLedgerPath is the default run ledger location, relative
	// to the manifest directory.
	DefaultLedgerPath = ".alnpipe/ledger.json"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest so
// callers do not need to reason about zero values.
func (m *Manifest) ApplyDefaults() {
	if m.Run.Jobs == 0 {
		m.Run.Jobs = DefaultJobs
	}
	if m.Run.Ledger == "" {
		m.Run.Ledger = DefaultLedgerPath
	}
	// DownloadRateLimit: 0 is a valid value (unlimited), so no default
}
