package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandCommand(t *testing.T) {
	tgt := Target{
		Name:    "chain:osat-sbic",
		Kind:    StepChain,
		Inputs:  []string{"in/all.axt.gz", "in/t.2bit"},
		Outputs: []string{"out/all.chain"},
	}

	tests := []struct {
		name    string
		command []string
		want    []string
		wantErr string
	}{
		{
			name:    "plain args pass through",
			command: []string{"aln-chain", "--linearGap=medium"},
			want:    []string{"aln-chain", "--linearGap=medium"},
		},
		{
			name:    "whole-arg placeholders",
			command: []string{"aln-chain", "{input:0}", "{output:0}"},
			want:    []string{"aln-chain", "in/all.axt.gz", "out/all.chain"},
		},
		{
			name:    "inline placeholder",
			command: []string{"aln-chain", "--axt={input:0}"},
			want:    []string{"aln-chain", "--axt=in/all.axt.gz"},
		},
		{
			name:    "input out of range",
			command: []string{"aln-chain", "{input:2}"},
			wantErr: "out of range",
		},
		{
			name:    "output out of range",
			command: []string{"aln-chain", "{output:1}"},
			wantErr: "out of range",
		},
		{
			name:    "unknown placeholder kind",
			command: []string{"aln-chain", "{source:0}"},
			wantErr: "unknown placeholder",
		},
		{
			name:    "malformed placeholder",
			command: []string{"aln-chain", "{input}"},
			wantErr: "malformed placeholder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt := tgt
			tgt.Command = tt.command
			argv, err := tgt.ExpandCommand()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, argv)
		})
	}
}

func TestTargetNaming(t *testing.T) {
	assert.Equal(t, "align:osat-sbic", TargetName(StepAlign, PairSubject("osat", "sbic")))
	assert.Equal(t, "download:osat", TargetName(StepDownload, "osat"))
}

func TestStepKindValid(t *testing.T) {
	for _, k := range []StepKind{StepDownload, StepFormat, StepAlign, StepChain, StepNet, StepMerge} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, StepKind("compile").Valid())
	assert.False(t, StepKind("").Valid())
}
