// Package nats announces published snapshots so that serving processes reload them.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/resilience"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
)

// DefaultSubject carries snapshot.published events.
const DefaultSubject = "policyrag.snapshot.published"

// Executor runs calls with retries and a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier resilience.ErrorClassifier) error
}

// Reloader loads whatever snapshot the on-disk manifest points at.
type Reloader interface {
	Reload(ctx context.Context) (bool, error)
}

// Options tunes the connection.
type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Executor       Executor
	Logger         *zap.Logger
}

// Bus publishes and consumes snapshot events over one connection.
type Bus struct {
	conn    *nats.Conn
	subject string
	exec    Executor
	logger  *zap.Logger
}

// Connect dials the server. The connection retries in the background when the server
// is not up yet.
func Connect(url, subject string, opts Options) (*Bus, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("policyrag"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{conn: conn, subject: subject, exec: opts.Executor, logger: logger}, nil
}

// Close closes the connection.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// SnapshotPublished implements build.Notifier.
func (b *Bus) SnapshotPublished(ctx context.Context, m snapshot.Manifest) error {
	data, err := encodeEvent(m)
	if err != nil {
		return fmt.Errorf("encode snapshot event: %w", err)
	}
	call := func(_ context.Context) error {
		if err := b.conn.Publish(b.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if b.exec != nil {
		return b.exec.Execute(ctx, "nats.publish", call, classifyNATSError)
	}
	return call(ctx)
}

// SubscribeSnapshots reloads on every snapshot event until ctx is cancelled. Every
// subscriber receives every event; this is a broadcast, not a work queue.
func (b *Bus) SubscribeSnapshots(ctx context.Context, reloader Reloader) error {
	h := &handler{reloader: reloader, logger: b.logger}
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		h.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

type handler struct {
	reloader Reloader
	logger   *zap.Logger
}

func (h *handler) handle(ctx context.Context, data []byte) {
	if ctx.Err() != nil {
		return
	}
	ev, err := decodeEvent(data)
	if err != nil {
		h.logger.Warn("ignoring snapshot event", zap.Error(err))
		return
	}
	published, err := h.reloader.Reload(ctx)
	if err != nil {
		h.logger.Error("snapshot reload failed", zap.String("version", ev.Version), zap.Error(err))
		return
	}
	if published {
		h.logger.Info("snapshot reloaded on event", zap.String("version", ev.Version))
	}
}
