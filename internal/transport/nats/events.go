package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
)

// SnapshotPublished is the payload of the snapshot.published event.
type SnapshotPublished struct {
	Version     string    `json:"version"`
	Dimension   int       `json:"embedding_dimension"`
	ChunkCount  int       `json:"chunk_count"`
	ContentHash string    `json:"content_hash,omitempty"`
	BuiltAt     time.Time `json:"built_at"`
}

func encodeEvent(m snapshot.Manifest) ([]byte, error) {
	return json.Marshal(SnapshotPublished{
		Version:     m.Version,
		Dimension:   m.Dimension,
		ChunkCount:  m.ChunkCount,
		ContentHash: m.ContentHash,
		BuiltAt:     m.BuiltAt,
	})
}

func decodeEvent(data []byte) (SnapshotPublished, error) {
	var ev SnapshotPublished
	if err := json.Unmarshal(data, &ev); err != nil {
		return SnapshotPublished{}, fmt.Errorf("decode snapshot event: %w", err)
	}
	if ev.Version == "" {
		return SnapshotPublished{}, fmt.Errorf("snapshot event without version")
	}
	return ev, nil
}
