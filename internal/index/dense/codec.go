package dense

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
)

var magic = [4]byte{'P', 'R', 'D', 'X'}

const formatVersion uint16 = 1

type header struct {
	Magic   [4]byte
	Version uint16
	Metric  uint8
	_       uint8
	Dim     uint32
	Count   uint64
}

// WriteTo serialises the index in a little-endian binary layout:
// header, chunk ids as uint64, then float32 rows.
func (ix *Index) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	h := header{Magic: magic, Version: formatVersion, Metric: metricCode(ix.metric),
		Dim: uint32(ix.dim), Count: uint64(len(ix.ids))}
	if err := binary.Write(cw, binary.LittleEndian, h); err != nil {
		return cw.n, fmt.Errorf("write dense header: %w", err)
	}
	buf := make([]byte, 8)
	for _, id := range ix.ids {
		binary.LittleEndian.PutUint64(buf, uint64(id))
		if _, err := cw.Write(buf); err != nil {
			return cw.n, fmt.Errorf("write dense ids: %w", err)
		}
	}
	for _, f := range ix.data {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
		if _, err := cw.Write(buf[:4]); err != nil {
			return cw.n, fmt.Errorf("write dense rows: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("flush dense index: %w", err)
	}
	return cw.n, nil
}

// Read deserialises an index written by WriteTo. Stored rows are already normalised
// for cosine, so they are loaded as-is.
func Read(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read dense header: %w", err)
	}
	if h.Magic != magic {
		return nil, errors.New("dense index corrupt: bad magic")
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("dense index format %d not supported", h.Version)
	}
	metric, err := metricFromCode(h.Metric)
	if err != nil {
		return nil, err
	}
	if h.Dim == 0 {
		return nil, errors.New("dense index corrupt: zero dimension")
	}

	ix := &Index{dim: int(h.Dim), metric: metric, ids: make([]chunk.ID, h.Count)}
	buf := make([]byte, 8)
	for i := range ix.ids {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("read dense ids: %w", err)
		}
		ix.ids[i] = chunk.ID(binary.LittleEndian.Uint64(buf))
		if i > 0 && ix.ids[i-1] >= ix.ids[i] {
			return nil, errors.New("dense index corrupt: ids not strictly ascending")
		}
	}
	ix.data = make([]float32, int(h.Count)*int(h.Dim))
	for i := range ix.data {
		if _, err := io.ReadFull(br, buf[:4]); err != nil {
			return nil, fmt.Errorf("read dense rows: %w", err)
		}
		ix.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:4]))
	}
	return ix, nil
}

func metricCode(m Metric) uint8 {
	if m == MetricInnerProduct {
		return 2
	}
	return 1
}

func metricFromCode(c uint8) (Metric, error) {
	switch c {
	case 1:
		return MetricCosine, nil
	case 2:
		return MetricInnerProduct, nil
	}
	return "", fmt.Errorf("dense index corrupt: unknown metric code %d", c)
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
