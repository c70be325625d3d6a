// Package eventbus publishes the control plane's event-bus subjects (spec
// §6: agents.registered, agents.status_changed, agents.frozen,
// agents.unfrozen, notifications.created, approvals.requested,
// approvals.decided, surveillance.cycle_completed) over NATS, adapting the
// teacher's connection-handling conventions from its own NATS client.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus is the control plane's event-bus publisher. It satisfies the narrow
// Publisher interface every one of the Façade, the Approval & Notification
// Bus, and the Surveillance Engine declare locally.
type Bus struct {
	conn *nc.Conn
	js   nc.JetStreamContext
	log  *zap.Logger
}

// Connect dials url with indefinite-reconnect handling, the same posture
// the teacher's NewClient takes, logging transitions through zap instead of
// stdout.
func Connect(url string, log *zap.Logger) (*Bus, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Warn("event bus disconnected", zap.Error(err))
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Info("event bus reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nc.ClosedHandler(func(*nc.Conn) {
			log.Info("event bus connection closed")
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to event bus: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire jetstream context: %w", err)
	}

	b := &Bus{conn: conn, js: js, log: log}
	if err := b.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the underlying connection without draining it.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Publish implements every Publisher interface in this repo: it
// JSON-encodes payload and publishes it to subject via JetStream, so a
// redelivering consumer sees the same durable message spec §6 promises
// ("messages are idempotent on their primary id; consumers must tolerate
// redelivery").
func (b *Bus) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload for %s: %w", subject, err)
	}
	_, err = b.js.Publish(subject, data, nc.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates a durable queue subscription so multiple consumer
// processes can load-balance delivery without double-processing, per §6's
// redelivery-tolerant consumer contract. handler receives the raw payload
// bytes; it is the caller's job to decode and to be idempotent on the
// message's primary id.
func (b *Bus) Subscribe(subject, durableName string, handler func(data []byte) error) (*nc.Subscription, error) {
	return b.js.QueueSubscribe(subject, durableName, func(msg *nc.Msg) {
		if err := handler(msg.Data); err != nil {
			b.log.Warn("event handler failed, message will be redelivered",
				zap.String("subject", subject), zap.Error(err))
			return
		}
		if err := msg.Ack(); err != nil {
			b.log.Warn("failed to ack event", zap.String("subject", subject), zap.Error(err))
		}
	}, nc.Durable(durableName), nc.ManualAck())
}

// Flush blocks until every buffered publish reaches the server.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}
