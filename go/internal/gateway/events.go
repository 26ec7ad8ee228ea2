package gateway

import (
	"encoding/json"
	"time"

	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/google/uuid"
)

// WorkspaceEvent is the wire envelope delivered to WebSocket clients. It is
// the change-feed event plus a delivery timestamp; Data carries the changed
// row as the feed published it.
type WorkspaceEvent struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Table       string          `json:"table"`
	Op          feed.Op         `json:"op"`
	Key         string          `json:"key"`
	WriterID    string          `json:"writer_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// EnvelopeFromFeed wraps a change-feed event for delivery.
func EnvelopeFromFeed(ev feed.Event) *WorkspaceEvent {
	return &WorkspaceEvent{
		ID:          uuid.New().String(),
		WorkspaceID: ev.WorkspaceID.String(),
		Table:       ev.Table,
		Op:          ev.Op,
		Key:         ev.Key,
		WriterID:    ev.WriterID,
		Timestamp:   time.Now().UTC(),
		Data:        ev.Payload,
	}
}
