package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
)

// --- Mocks ---

type mockReloader struct {
	calls int
	err   error
}

func (m *mockReloader) Reload(context.Context) (bool, error) {
	m.calls++
	return m.err == nil, m.err
}

// --- Tests ---

func TestEventRoundTrip(t *testing.T) {
	built := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := encodeEvent(snapshot.Manifest{
		Version: "v2", Dimension: 384, ChunkCount: 120, ContentHash: "abc", BuiltAt: built,
	})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := decodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Version != "v2" || ev.Dimension != 384 || ev.ChunkCount != 120 || !ev.BuiltAt.Equal(built) {
		t.Errorf("decoded = %+v", ev)
	}
}

func TestDecodeEvent_Invalid(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"chunk_count": 3}`} {
		if _, err := decodeEvent([]byte(raw)); err == nil {
			t.Errorf("decodeEvent(%q) should fail", raw)
		}
	}
}

func TestHandler(t *testing.T) {
	valid, _ := encodeEvent(snapshot.Manifest{Version: "v3"})
	tests := []struct {
		name      string
		data      []byte
		cancel    bool
		reloadErr error
		wantCalls int
	}{
		{name: "reloads", data: valid, wantCalls: 1},
		{name: "reload error is logged", data: valid, reloadErr: errors.New("disk"), wantCalls: 1},
		{name: "bad payload ignored", data: []byte("{"), wantCalls: 0},
		{name: "cancelled", data: valid, cancel: true, wantCalls: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mockReloader{err: tt.reloadErr}
			h := &handler{reloader: r, logger: zap.NewNop()}
			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancel {
				cancel()
			}
			defer cancel()

			h.handle(ctx, tt.data)
			if r.calls != tt.wantCalls {
				t.Errorf("reload calls = %d, want %d", r.calls, tt.wantCalls)
			}
		})
	}
}

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		record    bool
	}{
		{nil, false, false},
		{context.Canceled, false, false},
		{fmt.Errorf("nats publish: %w", nats.ErrConnectionClosed), true, true},
		{nats.ErrNoServers, true, true},
		{nats.ErrMaxPayload, false, true},
	}
	for _, tt := range tests {
		got := classifyNATSError(tt.err)
		if got.Retryable != tt.retryable || got.RecordFailure != tt.record {
			t.Errorf("classify(%v) = %+v", tt.err, got)
		}
	}
}
