// Package bus is a small synchronous command bus. Handlers subscribe to
// command types at runtime; Send fans a command out to every subscriber and
// propagates the first failure to the caller. There is no retry and no
// durable command log, only the scan aggregate is durable.
package bus

import (
	"context"
	"slices"
	"sync"

	"github.com/PQCA/cbomkit-go/internal/model"
)

// Command is a typed message addressed to one scan. Handlers subscribed to a
// command's type but owning a different scan id must treat the command as a
// no-op.
type Command interface {
	Type() string
	ScanID() model.ScanID
}

// Handler consumes commands. Handlers are compared by identity on
// (un)registration, so they must be pointers or otherwise comparable.
type Handler interface {
	Handle(ctx context.Context, cmd Command) error
}

type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func New() *Bus {
	return &Bus{
		subs: make(map[string][]Handler),
	}
}

// Register subscribes the handler to the given command types. Registering an
// already subscribed handler for a type is a no-op.
func (b *Bus) Register(h Handler, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		if slices.Contains(b.subs[t], h) {
			continue
		}
		b.subs[t] = append(b.subs[t], h)
	}
}

// Unregister removes the handler's subscriptions for the given command
// types. Unregistering a handler that was never registered is a no-op.
func (b *Bus) Unregister(h Handler, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = slices.DeleteFunc(b.subs[t], func(sub Handler) bool {
			return sub == h
		})
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

// Send dispatches the command to every handler registered for its type, in
// registration order. It returns once the full synchronous chain of
// downstream sends triggered by the command has completed, or with the first
// handler error. Sends for different scan ids are safe to run concurrently.
func (b *Bus) Send(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	handlers := slices.Clone(b.subs[cmd.Type()])
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
