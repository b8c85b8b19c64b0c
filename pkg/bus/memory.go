package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/odvcencio/cardhost/pkg/correlation"
)

// HandlerFunc serves one method on the in-memory bus.
// A non-nil return value is delivered to the caller as a reply.
type HandlerFunc func(payload []byte) []byte

// MemoryBus is an in-process implementation of ServiceBus for testing and
// bus-less deployments. Service endpoints are registered with Handle; replies
// are routed back through the correlation registry, so cancelled calls never
// see a late reply.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	registry *correlation.Registry
	closed   atomic.Bool
	inflight sync.WaitGroup
}

// NewMemoryBus creates a new in-memory service bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string]HandlerFunc),
		registry: correlation.NewRegistry(),
	}
}

// Handle registers the endpoint serving a method, replacing any previous one.
func (b *MemoryBus) Handle(method string, handler HandlerFunc) {
	b.mu.Lock()
	b.handlers[method] = handler
	b.mu.Unlock()
}

func (b *MemoryBus) Call(ctx context.Context, method string, payload []byte, handler ReplyHandler) (correlation.Token, error) {
	if b.closed.Load() {
		return correlation.TokenInvalid, ErrClosed
	}

	b.mu.RLock()
	endpoint, ok := b.handlers[method]
	b.mu.RUnlock()
	if !ok {
		return correlation.TokenInvalid, ErrNoResponders
	}

	token := b.registry.Issue(method, handler, nil)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		reply := endpoint(payload)
		if reply != nil {
			b.registry.Deliver(token, reply)
		}
	}()

	return token, nil
}

func (b *MemoryBus) CallOneway(ctx context.Context, method string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	endpoint, ok := b.handlers[method]
	b.mu.RUnlock()
	if !ok {
		return ErrNoResponders
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		endpoint(payload)
	}()

	return nil
}

func (b *MemoryBus) Cancel(token correlation.Token) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if _, ok := b.registry.Resolve(token); !ok {
		return ErrUnknownToken
	}
	b.registry.Drop(token)
	return nil
}

// Deliver injects a reply payload for an outstanding token. Tests use this to
// exercise reply ordering without a live endpoint; the return value reports
// whether the token was still outstanding.
func (b *MemoryBus) Deliver(token correlation.Token, payload []byte) bool {
	return b.registry.Deliver(token, payload)
}

// Outstanding returns the number of calls awaiting replies.
func (b *MemoryBus) Outstanding() int {
	return b.registry.Len()
}

// Flush blocks until all dispatched endpoint invocations have returned.
func (b *MemoryBus) Flush() {
	b.inflight.Wait()
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.inflight.Wait()
	b.registry.DropAll()
	return nil
}
