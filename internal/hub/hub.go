package hub

import (
	"context"
	"encoding/json"
	"sync"
)

// Kind enumerates the push event types the bot reacts to.
type Kind int

const (
	KindUnknown Kind = iota
	KindWheelSpin
)

var kindByType = map[string]Kind{
	"show_wheel": KindWheelSpin,
}

func ParseKind(eventType string) (Kind, bool) {
	k, ok := kindByType[eventType]
	return k, ok
}

func (k Kind) String() string {
	for name, kind := range kindByType {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

type Handler func(ctx context.Context, data json.RawMessage)

type Hub struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func New() *Hub {
	return &Hub{handlers: make(map[Kind][]Handler)}
}

func (h *Hub) Register(kind Kind, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[kind] = append(h.handlers[kind], handler)
}

// Dispatch runs every handler registered for kind in registration order and
// reports whether any ran.
func (h *Hub) Dispatch(ctx context.Context, kind Kind, data json.RawMessage) bool {
	h.mu.RLock()
	handlers := append([]Handler(nil), h.handlers[kind]...)
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ctx, data)
	}
	return len(handlers) > 0
}
