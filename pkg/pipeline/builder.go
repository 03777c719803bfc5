package pipeline

import (
	"path/filepath"
)

// Spec is the genome/pair declaration a graph is expanded from.
//
// It is the engine-facing shape of the pipeline manifest: the manifest
// package owns parsing and validation of the on-disk document and
// translates it into a Spec.
type Spec struct {
	// WorkDir is the root directory all target paths are resolved under.
	WorkDir string

	// Genomes lists the assemblies to fetch and index.
	Genomes []GenomeSpec

	// Pairs lists the ordered (target, query) genome pairs to align.
	Pairs []PairSpec

	// Options carries per-step extra command arguments (aligner seeding,
	// chain scoring, net filtering). Changing them changes the affected
	// targets' fingerprints, so tuned steps re-run even when files look
	// fresh by timestamp.
	Options map[StepKind][]string

	// Tools overrides the wrapper command invoked for a step kind.
	// Unset kinds use the bundled aln-* wrappers on PATH.
	Tools map[StepKind]string
}

// Default wrapper commands per step kind. Each wrapper shells out to
// the actual third-party binaries (wget, faToTwoBit, lastz, axtChain,
// the chainNet family, axtToMaf) with the argv contract used below.
var defaultTools = map[StepKind]string{
	StepDownload: "aln-fetch",
	StepFormat:   "aln-index",
	StepAlign:    "aln-lastz",
	StepChain:    "aln-chain",
	StepNet:      "aln-net",
	StepMerge:    "aln-maf",
}

func tool(spec Spec, kind StepKind) string {
	if cmd, ok := spec.Tools[kind]; ok && cmd != "" {
		return cmd
	}
	return defaultTools[kind]
}

// GenomeSpec declares one genome assembly.
type GenomeSpec struct {
	// ID is the species identifier, e.g. "oryza_sativa".
	ID string

	// FastaURL is the remote location of the soft-masked genome FASTA.
	FastaURL string

	// AnnotationURL is the optional remote location of the GFF3
	// annotation. When set, the download step fetches it alongside
	// the sequence.
	AnnotationURL string
}

// PairSpec declares one ordered pairwise alignment.
type PairSpec struct {
	// Target is the reference genome id.
	Target string

	// Query is the aligned genome id.
	Query string
}

// Per-genome file names under <workdir>/genome/<id>/.
const (
	fastaName     = "genome.fa.gz"
	gffName       = "annotation.gff3.gz"
	twoBitName    = "genome.2bit"
	chromSizeName = "fasize.chrom.sizes"
)

// Per-pair file names under <workdir>/pairwise/<target>/<query>/.
const (
	axtName      = "all.axt.gz"
	chainName    = "all.chain"
	preChainName = "pre.chain.gz"
	netName      = "syntenic.net"
	singMafName  = "sing.maf"
)

// Build expands the spec into the full target graph.
//
// For every genome it instantiates download and format targets; for
// every ordered pair it instantiates align, chain, net and merge
// targets, wiring edges by matching declared outputs to declared
// inputs. Fails with a ConfigurationError when a pair references an
// undeclared genome, when two targets declare the same output, or when
// the wired graph is cyclic.
func Build(spec Spec) (*Graph, error) {
	if spec.WorkDir == "" {
		return nil, &ConfigurationError{Target: "(spec)", Reason: "workdir is required"}
	}
	if len(spec.Genomes) == 0 {
		return nil, &ConfigurationError{Target: "(spec)", Reason: "at least one genome is required"}
	}

	declared := make(map[string]bool, len(spec.Genomes))
	targets := make([]Target, 0, 2*len(spec.Genomes)+4*len(spec.Pairs))

	for _, genome := range spec.Genomes {
		if genome.ID == "" {
			return nil, &ConfigurationError{Target: "(spec)", Reason: "genome id is required"}
		}
		if declared[genome.ID] {
			return nil, &ConfigurationError{Target: genome.ID, Reason: "duplicate genome id"}
		}
		declared[genome.ID] = true
		targets = append(targets, buildDownload(spec, genome), buildFormat(spec, genome))
	}

	for _, pair := range spec.Pairs {
		if !declared[pair.Target] {
			return nil, &ConfigurationError{
				Target: TargetName(StepAlign, PairSubject(pair.Target, pair.Query)),
				Reason: "pair references undeclared genome " + pair.Target,
			}
		}
		if !declared[pair.Query] {
			return nil, &ConfigurationError{
				Target: TargetName(StepAlign, PairSubject(pair.Target, pair.Query)),
				Reason: "pair references undeclared genome " + pair.Query,
			}
		}
		if pair.Target == pair.Query {
			return nil, &ConfigurationError{
				Target: TargetName(StepAlign, PairSubject(pair.Target, pair.Query)),
				Reason: "pair aligns a genome against itself",
			}
		}
		targets = append(targets, buildPair(spec, pair)...)
	}

	return NewGraph(targets)
}

func genomeDir(spec Spec, id string) string {
	return filepath.Join(spec.WorkDir, "genome", id)
}

func pairDir(spec Spec, pair PairSpec) string {
	return filepath.Join(spec.WorkDir, "pairwise", pair.Target, pair.Query)
}

func buildDownload(spec Spec, genome GenomeSpec) Target {
	dir := genomeDir(spec, genome.ID)
	outputs := []string{filepath.Join(dir, fastaName)}
	command := append([]string{tool(spec, StepDownload)}, spec.Options[StepDownload]...)
	command = append(command, genome.FastaURL, "{output:0}")
	if genome.AnnotationURL != "" {
		outputs = append(outputs, filepath.Join(dir, gffName))
		command = append(command, genome.AnnotationURL, "{output:1}")
	}
	return Target{
		Name:    TargetName(StepDownload, genome.ID),
		Kind:    StepDownload,
		Subject: genome.ID,
		Outputs: outputs,
		Command: command,
	}
}

func buildFormat(spec Spec, genome GenomeSpec) Target {
	dir := genomeDir(spec, genome.ID)
	command := append([]string{tool(spec, StepFormat)}, spec.Options[StepFormat]...)
	command = append(command, "{input:0}", "{output:0}", "{output:1}")
	return Target{
		Name:    TargetName(StepFormat, genome.ID),
		Kind:    StepFormat,
		Subject: genome.ID,
		Inputs:  []string{filepath.Join(dir, fastaName)},
		Outputs: []string{
			filepath.Join(dir, twoBitName),
			filepath.Join(dir, chromSizeName),
		},
		Command: command,
	}
}

// buildPair instantiates the per-pair chain of steps:
//
//	align -> chain -> net -> merge
//
// mirroring lastz | axtChain | chainMergeSort/chainPreNet/chainNet/
// netSyntenic | netToAxt/axtSort/axtToMaf.
func buildPair(spec Spec, pair PairSpec) []Target {
	subject := PairSubject(pair.Target, pair.Query)
	dir := pairDir(spec, pair)

	targetDir := genomeDir(spec, pair.Target)
	queryDir := genomeDir(spec, pair.Query)
	target2bit := filepath.Join(targetDir, twoBitName)
	query2bit := filepath.Join(queryDir, twoBitName)
	targetSizes := filepath.Join(targetDir, chromSizeName)
	querySizes := filepath.Join(queryDir, chromSizeName)

	axt := filepath.Join(dir, axtName)
	chain := filepath.Join(dir, chainName)
	preChain := filepath.Join(dir, preChainName)
	net := filepath.Join(dir, netName)
	singMaf := filepath.Join(dir, singMafName)

	align := Target{
		Name:    TargetName(StepAlign, subject),
		Kind:    StepAlign,
		Subject: subject,
		Inputs:  []string{target2bit, query2bit},
		Outputs: []string{axt},
		Command: appendOpts([]string{tool(spec, StepAlign)}, spec.Options[StepAlign],
			"{input:0}", "{input:1}", "{output:0}"),
	}

	chainT := Target{
		Name:    TargetName(StepChain, subject),
		Kind:    StepChain,
		Subject: subject,
		Inputs:  []string{axt, target2bit, query2bit},
		Outputs: []string{chain},
		Command: appendOpts([]string{tool(spec, StepChain)}, spec.Options[StepChain],
			"{input:0}", "{input:1}", "{input:2}", "{output:0}"),
	}

	netT := Target{
		Name:    TargetName(StepNet, subject),
		Kind:    StepNet,
		Subject: subject,
		Inputs:  []string{chain, targetSizes, querySizes},
		Outputs: []string{preChain, net},
		Command: appendOpts([]string{tool(spec, StepNet)}, spec.Options[StepNet],
			"{input:0}", "{input:1}", "{input:2}", "{output:0}", "{output:1}"),
	}

	merge := Target{
		Name:    TargetName(StepMerge, subject),
		Kind:    StepMerge,
		Subject: subject,
		Inputs:  []string{net, preChain, target2bit, query2bit, targetSizes, querySizes},
		Outputs: []string{singMaf},
		Command: appendOpts([]string{tool(spec, StepMerge)}, spec.Options[StepMerge],
			"{input:0}", "{input:1}", "{input:2}", "{input:3}", "{input:4}", "{input:5}", "{output:0}"),
	}

	return []Target{align, chainT, netT, merge}
}

func appendOpts(cmd []string, opts []string, rest ...string) []string {
	out := append(cmd, opts...)
	return append(out, rest...)
}
