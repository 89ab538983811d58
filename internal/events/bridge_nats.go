package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// natsConn is the subset of *nats.Conn the bridge uses.
type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSBridge mirrors all bus events onto a NATS subject. Event types map to
// subject suffixes (subject.phase_update, subject.log_message, ...).
type NATSBridge struct {
	pub     Publisher
	conn    natsConn
	subject string
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewNATSBridge connects to the NATS server at url.
func NewNATSBridge(pub Publisher, url, subject string, logger *slog.Logger) (*NATSBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url, nats.Name("curator-events"))
	if err != nil {
		return nil, err
	}

	return &NATSBridge{
		pub:     pub,
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// newNATSBridgeWithConn wires an existing connection; tests use it with a
// fake conn.
func newNATSBridgeWithConn(pub Publisher, conn natsConn, subject string, logger *slog.Logger) *NATSBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridge{pub: pub, conn: conn, subject: subject, logger: logger}
}

// Start subscribes to the bus and forwards events until ctx is cancelled
// or Close is called.
func (b *NATSBridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	ch := b.pub.Subscribe(GlobalTaskID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.pub.Unsubscribe(GlobalTaskID, ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				b.forward(ev)
			}
		}
	}()
}

func (b *NATSBridge) forward(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("nats bridge: drop unencodable event", "type", ev.Type, "error", err)
		return
	}
	subj := b.subject + "." + string(ev.Type)
	if err := b.conn.Publish(subj, payload); err != nil {
		b.logger.Warn("nats bridge: publish failed", "subject", subj, "error", err)
	}
}

// Close stops forwarding and drains the connection.
func (b *NATSBridge) Close() {
	b.once.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		if err := b.conn.Drain(); err != nil {
			b.logger.Warn("nats bridge: drain failed", "error", err)
		}
	})
}
