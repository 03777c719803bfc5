package pipeline

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoGenomeSpec() Spec {
	return Spec{
		WorkDir: "work",
		Genomes: []GenomeSpec{
			{ID: "osat", FastaURL: "https://example.org/osat.fa.gz", AnnotationURL: "https://example.org/osat.gff3.gz"},
			{ID: "sbic", FastaURL: "https://example.org/sbic.fa.gz"},
		},
		Pairs: []PairSpec{{Target: "osat", Query: "sbic"}},
	}
}

func TestBuildExpandsFullPairChain(t *testing.T) {
	g, err := Build(twoGenomeSpec())
	require.NoError(t, err)

	// 2 genomes x (download, format) + 1 pair x (align, chain, net, merge)
	assert.Equal(t, 8, g.Len())

	for _, name := range []string{
		"download:osat", "format:osat",
		"download:sbic", "format:sbic",
		"align:osat-sbic", "chain:osat-sbic", "net:osat-sbic", "merge:osat-sbic",
	} {
		_, ok := g.Lookup(name)
		assert.True(t, ok, "missing target %s", name)
	}

	// align depends on both formats
	align, _ := g.Lookup("align:osat-sbic")
	fo, _ := g.Lookup("format:osat")
	fs, _ := g.Lookup("format:sbic")
	assert.ElementsMatch(t, []int{fo, fs}, g.Upstream(align))

	// merge is the chain's tail
	merge, _ := g.Lookup("merge:osat-sbic")
	mergeT := g.Target(merge)
	assert.Equal(t, []string{filepath.Join("work", "pairwise", "osat", "sbic", "sing.maf")}, mergeT.Outputs)
}

func TestBuildAnnotationOnlyWhenDeclared(t *testing.T) {
	g, err := Build(twoGenomeSpec())
	require.NoError(t, err)

	osat, _ := g.Lookup("download:osat")
	sbic, _ := g.Lookup("download:sbic")
	assert.Len(t, g.Target(osat).Outputs, 2)
	assert.Len(t, g.Target(sbic).Outputs, 1)
}

func TestBuildToolAndOptionOverrides(t *testing.T) {
	spec := twoGenomeSpec()
	spec.Tools = map[StepKind]string{StepAlign: "my-lastz"}
	spec.Options = map[StepKind][]string{StepAlign: {"--strand=both"}}

	g, err := Build(spec)
	require.NoError(t, err)

	align, _ := g.Lookup("align:osat-sbic")
	cmd := g.Target(align).Command
	assert.Equal(t, "my-lastz", cmd[0])
	assert.Contains(t, cmd, "--strand=both")
}

func TestBuildRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"no workdir", func(s *Spec) { s.WorkDir = "" }},
		{"no genomes", func(s *Spec) { s.Genomes = nil }},
		{"duplicate genome", func(s *Spec) { s.Genomes = append(s.Genomes, s.Genomes[0]) }},
		{"undeclared pair target", func(s *Spec) { s.Pairs[0].Target = "zmay" }},
		{"undeclared pair query", func(s *Spec) { s.Pairs[0].Query = "zmay" }},
		{"self pair", func(s *Spec) { s.Pairs[0].Query = s.Pairs[0].Target }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := twoGenomeSpec()
			tt.mutate(&spec)
			_, err := Build(spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}

func TestBuildCommandsExpandCleanly(t *testing.T) {
	g, err := Build(twoGenomeSpec())
	require.NoError(t, err)

	for _, id := range g.TopologicalOrder() {
		tgt := g.Target(id)
		argv, err := tgt.ExpandCommand()
		require.NoError(t, err, "target %s", tgt.Name)
		assert.NotEmpty(t, argv)
		for _, arg := range argv {
			assert.NotContains(t, arg, "{input:", "target %s", tgt.Name)
			assert.NotContains(t, arg, "{output:", "target %s", tgt.Name)
		}
	}
}
