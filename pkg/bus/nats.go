package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/odvcencio/cardhost/pkg/correlation"
)

// NATSBus implements ServiceBus using NATS. Each subscribed call gets its own
// inbox subscription; the correlation registry owns the token→inbox binding
// and tears the subscription down on cancel.
type NATSBus struct {
	conn     *nats.Conn
	config   Config
	registry *correlation.Registry
	closed   atomic.Bool
}

// NewNATSBus creates a new NATS-backed service bus.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSBus{
		conn:     conn,
		config:   cfg,
		registry: correlation.NewRegistry(),
	}, nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
// Useful for testing with an embedded NATS server.
func NewNATSBusFromConn(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn:     conn,
		config:   DefaultConfig(),
		registry: correlation.NewRegistry(),
	}
}

func (b *NATSBus) Call(ctx context.Context, method string, payload []byte, handler ReplyHandler) (correlation.Token, error) {
	if b.closed.Load() {
		return correlation.TokenInvalid, ErrClosed
	}

	inbox := b.conn.NewInbox()

	// The token is issued before the inbox subscription exists so the
	// subscription callback reads a fully-assigned value. Teardown may run
	// (via Close/DropAll) before the subscription is stored; the post-store
	// re-check below unsubscribes in that case.
	var sub atomic.Pointer[nats.Subscription]
	token := b.registry.Issue(method, handler, func() {
		if s := sub.Load(); s != nil {
			_ = s.Unsubscribe()
		}
	})

	// Replies route through the registry so a cancelled token drops them.
	s, err := b.conn.Subscribe(inbox, func(msg *nats.Msg) {
		b.registry.Deliver(token, msg.Data)
	})
	if err != nil {
		b.registry.Drop(token)
		return correlation.TokenInvalid, fmt.Errorf("subscribe reply inbox: %w", err)
	}
	sub.Store(s)
	if _, ok := b.registry.Resolve(token); !ok {
		_ = s.Unsubscribe()
		return correlation.TokenInvalid, ErrClosed
	}

	if err := b.conn.PublishRequest(method, inbox, payload); err != nil {
		b.registry.Drop(token)
		return correlation.TokenInvalid, fmt.Errorf("publish call: %w", err)
	}

	return token, nil
}

func (b *NATSBus) CallOneway(ctx context.Context, method string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.conn.Publish(method, payload); err != nil {
		return fmt.Errorf("publish call: %w", err)
	}
	return nil
}

func (b *NATSBus) Cancel(token correlation.Token) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if _, ok := b.registry.Resolve(token); !ok {
		return ErrUnknownToken
	}
	b.registry.Drop(token)
	return nil
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.registry.DropAll()
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection.
// Useful for advanced operations not exposed by ServiceBus.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}
