package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/zero-day-ai/tiermem/memory"
)

// WriteJSONLines writes one JSON object per memory to w.
func WriteJSONLines(w io.Writer, memories []memory.Memory) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, m := range memories {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("archive: encode %s: %w", m.ID, err)
		}
	}
	return bw.Flush()
}

// ReadJSONLines reads memories written by WriteJSONLines. Blank lines are
// skipped.
func ReadJSONLines(r io.Reader) ([]memory.Memory, error) {
	dec := json.NewDecoder(r)
	out := []memory.Memory{}
	for {
		var m memory.Memory
		err := dec.Decode(&m)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("archive: decode memory %d: %w", len(out)+1, err)
		}
		out = append(out, m)
	}
}
