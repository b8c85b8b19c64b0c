// Package luna drives an external compositor daemon over a unix socket.
// Messages are length-prefixed JSON envelopes: a 4-byte big-endian frame
// length followed by the envelope bytes. Requests carry a unique requestId
// echoed by the matching response; the compositor may also push unsolicited
// events, notably window_closed when the user dismisses a card.
package luna

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/odvcencio/cardhost/pkg/errors"
)

type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
}

const (
	envRequest  = "request"
	envResponse = "response"
	envEvent    = "event"
)

const maxFrame = 16 << 20

type client struct {
	conn    net.Conn
	onEvent func(name string, params json.RawMessage)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan envelope
	closed  bool
}

func newClient(conn net.Conn, onEvent func(name string, params json.RawMessage)) *client {
	c := &client{
		conn:    conn,
		onEvent: onEvent,
		pending: make(map[string]chan envelope),
	}
	go c.readLoop()
	return c
}

func (c *client) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// call sends a request and blocks until the matching response or ctx ends.
func (c *client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	env := envelope{
		Type:      envRequest,
		RequestID: uuid.NewString(),
		Method:    method,
		Params:    raw,
	}

	ch := make(chan envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeToolkitDown, "compositor connection closed")
	}
	c.pending[env.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
	}()

	if err := c.writeEnvelope(env); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeToolkitDown, "compositor connection closed")
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("compositor: %s", resp.Error)
		}
		return resp.Result, nil
	}
}

func (c *client) writeEnvelope(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(lenBuf); err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *client) readLoop() {
	for {
		env, err := readEnvelope(c.conn)
		if err != nil {
			c.failPending()
			return
		}
		switch env.Type {
		case envResponse:
			c.mu.Lock()
			ch := c.pending[env.RequestID]
			c.mu.Unlock()
			if ch != nil {
				ch <- env
			}
		case envEvent:
			if c.onEvent != nil {
				c.onEvent(env.Event, env.Params)
			}
		}
	}
}

func (c *client) failPending() {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func readEnvelope(conn net.Conn) (envelope, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return envelope{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 || length > maxFrame {
		return envelope{}, fmt.Errorf("invalid frame length %d", length)
	}
	data := make([]byte, int(length))
	if _, err := io.ReadFull(conn, data); err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
