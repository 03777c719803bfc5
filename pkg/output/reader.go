package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DefaultMaxLineBytes bounds a single JSONL line when reading records
// back. Records are small; a line past this size means corruption.
const DefaultMaxLineBytes = 1 << 20

// Decoder reads records from a JSONL stream produced by a JSONLWriter.
//
// Blank lines are tolerated and skipped so concatenated record files
// decode cleanly.
type Decoder struct {
	r            *bufio.Reader
	maxLineBytes int
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxLineBytes: DefaultMaxLineBytes}
}

// SetMaxLineBytes overrides the per-line size limit. Non-positive
// restores the default.
func (d *Decoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
		return
	}
	d.maxLineBytes = n
}

// Next returns the next record, or io.EOF when the stream ends.
func (d *Decoder) Next() (Record, error) {
	for {
		line, err := readLineLimited(d.r, d.maxLineBytes)
		if err != nil {
			return Record{}, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return Record{}, err
		}
		return rec, nil
	}
}

// ReadAll decodes every record in the stream.
func ReadAll(r io.Reader) ([]Record, error) {
	d := NewDecoder(r)
	var out []Record
	for {
		rec, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func readLineLimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			return nil, errors.New("jsonl line exceeds max bytes")
		}
		if err == nil {
			return bytes.TrimSuffix(out, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}
