// Package correlation tracks in-flight asynchronous bus calls by token.
// A token binds a request to its eventual replies or cancellation; transports
// consult the registry on reply delivery so that replies for cancelled or
// unknown tokens are discarded instead of reaching a stale owner.
package correlation

import (
	"sync"
	"sync/atomic"
)

// Token is an opaque handle for an outstanding bus call.
type Token uint64

// TokenInvalid is the sentinel for "no call outstanding".
const TokenInvalid Token = 0

// Pending describes one outstanding call.
type Pending struct {
	Token  Token
	Method string

	// Deliver receives each reply payload while the call is outstanding,
	// together with the call's own token.
	Deliver func(token Token, payload []byte)

	// Teardown releases transport resources (inbox subscription, timers)
	// when the call is dropped. May be nil.
	Teardown func()
}

// Registry maps tokens to pending calls. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	pending map[Token]*Pending
	next    atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[Token]*Pending)}
}

// Issue registers a pending call and returns its freshly-assigned token.
// The token is never TokenInvalid.
func (r *Registry) Issue(method string, deliver func(token Token, payload []byte), teardown func()) Token {
	token := Token(r.next.Add(1))
	p := &Pending{
		Token:    token,
		Method:   method,
		Deliver:  deliver,
		Teardown: teardown,
	}
	r.mu.Lock()
	r.pending[token] = p
	r.mu.Unlock()
	return token
}

// Resolve looks up the pending call for a token.
func (r *Registry) Resolve(token Token) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[token]
	return p, ok
}

// Deliver routes a reply payload to the pending call for token, if any.
// The pending call's own token is handed to the sink so the owner can
// re-check it against its current expectation under its own lock.
// Replies for unknown tokens are silently discarded and false is returned.
func (r *Registry) Deliver(token Token, payload []byte) bool {
	r.mu.Lock()
	p, ok := r.pending[token]
	r.mu.Unlock()
	if !ok || p.Deliver == nil {
		return ok
	}
	p.Deliver(p.Token, payload)
	return true
}

// Drop removes a pending call and runs its teardown hook.
// Dropping an unknown token is a no-op.
func (r *Registry) Drop(token Token) {
	r.mu.Lock()
	p, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	r.mu.Unlock()
	if ok && p.Teardown != nil {
		p.Teardown()
	}
}

// DropAll removes every pending call, running teardown hooks.
func (r *Registry) DropAll() {
	r.mu.Lock()
	dropped := make([]*Pending, 0, len(r.pending))
	for _, p := range r.pending {
		dropped = append(dropped, p)
	}
	r.pending = make(map[Token]*Pending)
	r.mu.Unlock()
	for _, p := range dropped {
		if p.Teardown != nil {
			p.Teardown()
		}
	}
}

// Len returns the number of outstanding calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
