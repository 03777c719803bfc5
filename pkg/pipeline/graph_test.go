package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainTargets() []Target {
	// download -> format -> align
	return []Target{
		{
			Name:    "download:osat",
			Kind:    StepDownload,
			Subject: "osat",
			Outputs: []string{"w/osat/genome.fa.gz"},
			Command: []string{"aln-fetch", "http://x/osat.fa.gz", "{output:0}"},
		},
		{
			Name:    "format:osat",
			Kind:    StepFormat,
			Subject: "osat",
			Inputs:  []string{"w/osat/genome.fa.gz"},
			Outputs: []string{"w/osat/genome.2bit"},
			Command: []string{"aln-index", "{input:0}", "{output:0}"},
		},
		{
			Name:    "align:osat-sbic",
			Kind:    StepAlign,
			Subject: "osat-sbic",
			Inputs:  []string{"w/osat/genome.2bit", "w/sbic/genome.2bit"},
			Outputs: []string{"w/pair/all.axt.gz"},
			Command: []string{"aln-lastz", "{input:0}", "{input:1}", "{output:0}"},
		},
	}
}

func TestNewGraphWiresEdgesByOutput(t *testing.T) {
	g, err := NewGraph(chainTargets())
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	download, ok := g.Lookup("download:osat")
	require.True(t, ok)
	format, ok := g.Lookup("format:osat")
	require.True(t, ok)
	align, ok := g.Lookup("align:osat-sbic")
	require.True(t, ok)

	assert.Empty(t, g.Upstream(download))
	assert.Equal(t, []int{download}, g.Upstream(format))
	assert.Equal(t, []int{format}, g.Downstream(download))

	// align's second input has no declared producer: external source,
	// no edge.
	assert.Equal(t, []int{format}, g.Upstream(align))
}

func TestNewGraphTopologicalOrderFollowsDeclaration(t *testing.T) {
	// Two independent chains declared interleaved; ties break by
	// declaration order.
	targets := []Target{
		{Name: "download:b", Kind: StepDownload, Subject: "b",
			Outputs: []string{"w/b/fa"}, Command: []string{"f"}},
		{Name: "download:a", Kind: StepDownload, Subject: "a",
			Outputs: []string{"w/a/fa"}, Command: []string{"f"}},
		{Name: "format:b", Kind: StepFormat, Subject: "b",
			Inputs: []string{"w/b/fa"}, Outputs: []string{"w/b/2bit"}, Command: []string{"f"}},
	}
	g, err := NewGraph(targets)
	require.NoError(t, err)

	assert.Equal(t, []string{"download:b", "download:a", "format:b"},
		g.Names(g.TopologicalOrder()))
}

func TestNewGraphRejectsDuplicateOutput(t *testing.T) {
	targets := []Target{
		{Name: "download:a", Kind: StepDownload, Subject: "a",
			Outputs: []string{"w/same"}, Command: []string{"f"}},
		{Name: "download:b", Kind: StepDownload, Subject: "b",
			Outputs: []string{"w/same"}, Command: []string{"f"}},
	}
	_, err := NewGraph(targets)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "w/same", cfgErr.Path)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestNewGraphRejectsDuplicateName(t *testing.T) {
	targets := []Target{
		{Name: "download:a", Kind: StepDownload, Subject: "a",
			Outputs: []string{"w/1"}, Command: []string{"f"}},
		{Name: "download:a", Kind: StepDownload, Subject: "a",
			Outputs: []string{"w/2"}, Command: []string{"f"}},
	}
	_, err := NewGraph(targets)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestNewGraphDetectsCycle(t *testing.T) {
	targets := []Target{
		{Name: "align:x", Kind: StepAlign, Subject: "x",
			Inputs: []string{"w/b"}, Outputs: []string{"w/a"}, Command: []string{"f"}},
		{Name: "chain:x", Kind: StepChain, Subject: "x",
			Inputs: []string{"w/a"}, Outputs: []string{"w/b"}, Command: []string{"f"}},
	}
	_, err := NewGraph(targets)
	require.Error(t, err)

	var cycErr *CycleError
	require.True(t, errors.As(err, &cycErr))
	assert.True(t, errors.Is(err, ErrCycle))
	assert.Contains(t, cycErr.Members, "align:x")
	assert.Contains(t, cycErr.Members, "chain:x")
}

func TestNewGraphRejectsInvalidTargets(t *testing.T) {
	tests := []struct {
		name   string
		target Target
	}{
		{"empty name", Target{Kind: StepAlign, Outputs: []string{"o"}, Command: []string{"f"}}},
		{"invalid kind", Target{Name: "x", Kind: "bogus", Outputs: []string{"o"}, Command: []string{"f"}}},
		{"no outputs", Target{Name: "x", Kind: StepAlign, Command: []string{"f"}}},
		{"consumes own output", Target{Name: "x", Kind: StepAlign,
			Inputs: []string{"o"}, Outputs: []string{"o"}, Command: []string{"f"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph([]Target{tt.target})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}

func TestInducedOrderPreservesTopoOrder(t *testing.T) {
	g, err := NewGraph(chainTargets())
	require.NoError(t, err)

	download, _ := g.Lookup("download:osat")
	align, _ := g.Lookup("align:osat-sbic")

	order := g.InducedOrder(map[int]bool{align: true, download: true})
	assert.Equal(t, []string{"download:osat", "align:osat-sbic"}, g.Names(order))
}
