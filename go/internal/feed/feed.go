// Package feed defines the persistence change feed the collaborative stores
// synchronize through: a push-based, filtered, row-level event stream with
// writer provenance. Stores depend only on this contract, never on the
// transport behind it.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Op is the row-level operation an event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table names the logical tables stores subscribe to.
const (
	TableQueues   = "queues"
	TableRoster   = "roster"
	TableCaptains = "captains"
)

// Event is one row change. WriterID carries provenance so subscribers can
// suppress echoes of their own writes. Key is the row key within the table
// (queue key or row UUID). Payload is the full row after the change; empty
// for deletes.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	Table       string          `json:"table"`
	Op          Op              `json:"op"`
	Key         string          `json:"key"`
	WriterID    string          `json:"writer_id"`
	At          time.Time       `json:"at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Handler receives events for a subscription. Handlers must not block.
type Handler func(Event)

// Feed is the narrow change-feed contract. Subscribe filters by workspace
// and table and returns an unsubscribe func; after it returns no further
// events are delivered to the handler.
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, workspaceID uuid.UUID, table string, fn Handler) (func(), error)
}

// NewEvent fills in the event identity and timestamp.
func NewEvent(workspaceID uuid.UUID, table string, op Op, key, writerID string, payload json.RawMessage) Event {
	return Event{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Table:       table,
		Op:          op,
		Key:         key,
		WriterID:    writerID,
		At:          time.Now().UTC(),
		Payload:     payload,
	}
}
