package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/bioforge/alnpipe/pkg/pipeline"
)

// Fingerprint summarizes the generating configuration of a target: the
// step kind, the command template, and the declared input and output
// paths. Two targets with equal fingerprints would produce equivalent
// outputs from equivalent inputs, so a stored fingerprint that differs
// from the current one marks the target stale regardless of file
// timestamps.
//
// Fields are framed with their lengths so concatenation ambiguities
// ("ab"+"c" vs "a"+"bc") cannot collide.
func Fingerprint(t pipeline.Target) string {
	h := sha256.New()

	field := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	section := func(values []string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(values)))
		h.Write(n[:])
		for _, v := range values {
			field(v)
		}
	}

	field(string(t.Kind))
	section(t.Command)
	section(t.Inputs)
	section(t.Outputs)

	return hex.EncodeToString(h.Sum(nil))
}
