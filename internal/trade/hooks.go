package trade

import (
	"context"
	"sync"
)

// Hook event names.
const (
	EventPreTrade = "preTradeItems"
	EventTrade    = "tradeItems"
)

// Event is the payload delivered to hook handlers.
type Event struct {
	Name          string
	UserID        string
	InteractionID string
	SellerID      string
	BuyerID       string
	Basket        []Line
	Result        *Result
}

// PreHook runs before records are mutated; returning false vetoes the trade
// and aborts the chain before any mutation has happened.
type PreHook func(ctx context.Context, e Event) bool

// PostHook runs after records have been mutated, for notification fan-out.
type PostHook func(ctx context.Context, e Event)

// Bus is a minimal named-event hook bus. Handlers run in registration order
// on the caller's goroutine.
type Bus struct {
	mu   sync.RWMutex
	pre  map[string][]PreHook
	post map[string][]PostHook
}

// NewBus creates an empty hook bus.
func NewBus() *Bus {
	return &Bus{
		pre:  make(map[string][]PreHook),
		post: make(map[string][]PostHook),
	}
}

// OnPre registers a veto-capable handler for an event.
func (b *Bus) OnPre(event string, fn PreHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pre[event] = append(b.pre[event], fn)
}

// OnPost registers a notification handler for an event.
func (b *Bus) OnPost(event string, fn PostHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.post[event] = append(b.post[event], fn)
}

// call runs the pre-handlers for an event; the first false return wins.
func (b *Bus) call(ctx context.Context, e Event) bool {
	if b == nil {
		return true
	}
	b.mu.RLock()
	handlers := b.pre[e.Name]
	b.mu.RUnlock()
	for _, fn := range handlers {
		if !fn(ctx, e) {
			return false
		}
	}
	return true
}

// emit runs the post-handlers for an event.
func (b *Bus) emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := b.post[e.Name]
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, e)
	}
}
