// Package queue manages the per-target, per-kind ordered attack queues. One
// Store interface covers both backings: a client-local SQLite store for solo
// planning and a shared store that synchronizes through Postgres and the
// change feed.
package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/awynne3/rallyhq/go/internal/models"
)

// Store is the queue surface the coordinator works against, regardless of
// whether a shared workspace is active.
type Store interface {
	// Queue returns the queue for a target/kind pair, if one exists.
	Queue(target models.Target, kind models.QueueKind) (models.Queue, bool)

	// Snapshot returns a copy of every known queue.
	Snapshot() []models.Queue

	// UpdateSlots replaces the ordered slot list of one queue.
	UpdateSlots(ctx context.Context, target models.Target, kind models.QueueKind, slots []models.QueueSlot) error

	// UpdateCadence replaces the cadence policy of one queue.
	UpdateCadence(ctx context.Context, target models.Target, kind models.QueueKind, policy models.CadencePolicy) error

	// Close releases timers and subscriptions. No writes may fire after it
	// returns.
	Close()
}

func rowKey(key models.QueueKey) string {
	return string(key.Target) + "/" + string(key.Kind)
}

func parseRowKey(s string) (models.QueueKey, error) {
	target, kind, ok := strings.Cut(s, "/")
	if !ok {
		return models.QueueKey{}, fmt.Errorf("malformed queue key %q", s)
	}
	return models.QueueKey{Target: models.Target(target), Kind: models.QueueKind(kind)}, nil
}

func cloneQueue(q models.Queue) models.Queue {
	out := q
	out.Slots = make([]models.QueueSlot, len(q.Slots))
	copy(out.Slots, q.Slots)
	return out
}
