package sparse

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
)

const formatVersion = 1

type envelope struct {
	Version  int                  `json:"version"`
	N        int                  `json:"n"`
	IDs      []chunk.ID           `json:"ids"`
	DF       map[string]int       `json:"df"`
	Postings map[string][]posting `json:"postings"`
}

// WriteTo serialises the index as JSON.
func (ix *Index) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	enc := json.NewEncoder(cw)
	err := enc.Encode(envelope{
		Version:  formatVersion,
		N:        ix.stats.n,
		IDs:      ix.ids,
		DF:       ix.stats.df,
		Postings: ix.postings,
	})
	if err != nil {
		return cw.n, fmt.Errorf("encode sparse index: %w", err)
	}
	return cw.n, nil
}

// Read deserialises an index written by WriteTo.
func Read(r io.Reader) (*Index, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode sparse index: %w", err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("sparse index format %d not supported", env.Version)
	}
	if env.N != len(env.IDs) {
		return nil, fmt.Errorf("sparse index corrupt: n=%d but %d ids", env.N, len(env.IDs))
	}
	if !sort.SliceIsSorted(env.IDs, func(i, j int) bool { return env.IDs[i] < env.IDs[j] }) {
		return nil, fmt.Errorf("sparse index corrupt: ids not sorted")
	}
	if env.DF == nil {
		env.DF = map[string]int{}
	}
	if env.Postings == nil {
		env.Postings = map[string][]posting{}
	}
	return &Index{
		stats:    &Stats{n: env.N, df: env.DF},
		ids:      env.IDs,
		postings: env.Postings,
	}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
