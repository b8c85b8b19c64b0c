// Package bus provides the asynchronous call/response service bus used to
// reach system services such as the activity manager. Calls are fire-and-forget
// from the caller's point of view; replies arrive later and are routed by
// correlation token, so a reply that lands after its call was cancelled is
// discarded instead of reaching a stale owner.
// The default implementation uses NATS, with an in-memory option for testing
// and bus-less deployments.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/odvcencio/cardhost/pkg/correlation"
)

var (
	// ErrClosed is returned when operating on a closed bus.
	ErrClosed = errors.New("bus closed")

	// ErrNoResponders is returned when no service endpoint serves a method.
	ErrNoResponders = errors.New("no responders available")

	// ErrUnknownToken is returned when cancelling a token that is not outstanding.
	ErrUnknownToken = errors.New("unknown call token")
)

// ReplyHandler receives reply payloads for a subscribed call. token is the
// token of the call the reply belongs to, so owners that reissue calls can
// tell a stale reply from a current one.
// Handlers run on the transport's delivery goroutine and must not block.
type ReplyHandler func(token correlation.Token, payload []byte)

// ServiceBus is the transport for asynchronous service calls.
// Implementations must be safe for concurrent use.
type ServiceBus interface {
	// Call issues an asynchronous subscribed call to a service method.
	// Replies are delivered to handler until the returned token is cancelled.
	// A dispatch failure returns an error and leaves no call outstanding.
	Call(ctx context.Context, method string, payload []byte, handler ReplyHandler) (correlation.Token, error)

	// CallOneway issues a call for which no reply is expected.
	CallOneway(ctx context.Context, method string, payload []byte) error

	// Cancel terminates an outstanding call. No further replies are
	// delivered for the token once Cancel returns.
	Cancel(token correlation.Token) error

	// Close shuts down the bus and drops all outstanding calls.
	Close() error
}

// Config holds configuration for creating a ServiceBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for the in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the connect timeout for the transport.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "cardhost",
		Timeout: 30 * time.Second,
	}
}
