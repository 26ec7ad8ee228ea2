package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryFeed is an in-process Feed. It backs local-only mode, where the only
// subscriber is the same client, and tests that simulate multiple clients
// sharing one feed. Delivery is synchronous and in publish order.
type MemoryFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[subKey]map[int]Handler
}

type subKey struct {
	workspaceID uuid.UUID
	table       string
}

// NewMemoryFeed creates an empty in-process feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[subKey]map[int]Handler)}
}

// Publish delivers the event to every matching subscriber before returning.
func (f *MemoryFeed) Publish(_ context.Context, ev Event) error {
	f.mu.RLock()
	handlers := make([]Handler, 0, 4)
	for _, h := range f.subs[subKey{ev.WorkspaceID, ev.Table}] {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Subscribe registers a handler for one workspace/table pair.
func (f *MemoryFeed) Subscribe(_ context.Context, workspaceID uuid.UUID, table string, fn Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := subKey{workspaceID, table}
	if f.subs[key] == nil {
		f.subs[key] = make(map[int]Handler)
	}
	id := f.nextID
	f.nextID++
	f.subs[key][id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[key], id)
		if len(f.subs[key]) == 0 {
			delete(f.subs, key)
		}
	}, nil
}
