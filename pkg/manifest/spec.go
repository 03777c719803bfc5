package manifest

import "github.com/bioforge/alnpipe/pkg/pipeline"

// ToSpec translates a loaded manifest into the engine's pipeline spec.
//
// The manifest should already have been validated and defaulted; ToSpec
// is a pure shape translation.
func (m *Manifest) ToSpec() pipeline.Spec {
	spec := pipeline.Spec{
		WorkDir: m.WorkDir,
		Genomes: make([]pipeline.GenomeSpec, 0, len(m.Genomes)),
		Pairs:   make([]pipeline.PairSpec, 0, len(m.Pairs)),
	}

	for _, g := range m.Genomes {
		spec.Genomes = append(spec.Genomes, pipeline.GenomeSpec{
			ID:            g.ID,
			FastaURL:      g.Fasta,
			AnnotationURL: g.Annotation,
		})
	}
	for _, p := range m.Pairs {
		spec.Pairs = append(spec.Pairs, pipeline.PairSpec{
			Target: p.Target,
			Query:  p.Query,
		})
	}

	if len(m.Tools) > 0 {
		spec.Tools = make(map[pipeline.StepKind]string, len(m.Tools))
		for kind, cmd := range m.Tools {
			spec.Tools[pipeline.StepKind(kind)] = cmd
		}
	}
	if len(m.Options) > 0 {
		spec.Options = make(map[pipeline.StepKind][]string, len(m.Options))
		for kind, opts := range m.Options {
			spec.Options[pipeline.StepKind(kind)] = append([]string(nil), opts...)
		}
	}

	return spec
}
