package gateway

import (
	"context"
	"sync"

	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// bridgeTables is every logical table a connected client cares about.
var bridgeTables = []string{feed.TableQueues, feed.TableRoster, feed.TableCaptains}

// Bridge ties the change feed to the connection manager: while a workspace
// has at least one connected client, the bridge holds feed subscriptions for
// it and rebroadcasts every event to the pool. Subscriptions are torn down
// when the pool empties, so idle workspaces cost nothing.
type Bridge struct {
	feed feed.Feed
	cm   *ConnectionManager

	mu            sync.Mutex
	subscriptions map[uuid.UUID][]func()
}

// NewBridge wires a bridge into the connection manager's pool lifecycle.
func NewBridge(f feed.Feed, cm *ConnectionManager) *Bridge {
	b := &Bridge{
		feed:          f,
		cm:            cm,
		subscriptions: make(map[uuid.UUID][]func()),
	}
	cm.onPoolChange = b.poolChanged
	return b
}

func (b *Bridge) poolChanged(workspaceID uuid.UUID, active bool) {
	if active {
		b.subscribe(workspaceID)
		return
	}
	b.unsubscribe(workspaceID)
}

func (b *Bridge) subscribe(workspaceID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subscriptions[workspaceID]; exists {
		return
	}

	var unsubs []func()
	for _, table := range bridgeTables {
		unsub, err := b.feed.Subscribe(context.Background(), workspaceID, table, func(ev feed.Event) {
			b.cm.BroadcastToWorkspace(ev.WorkspaceID, EnvelopeFromFeed(ev))
		})
		if err != nil {
			log.Error().Err(err).
				Str("workspace_id", workspaceID.String()).
				Str("table", table).
				Msg("feed subscription failed")
			continue
		}
		unsubs = append(unsubs, unsub)
	}
	b.subscriptions[workspaceID] = unsubs

	log.Info().
		Str("workspace_id", workspaceID.String()).
		Int("tables", len(unsubs)).
		Msg("workspace feed bridged")
}

func (b *Bridge) unsubscribe(workspaceID uuid.UUID) {
	b.mu.Lock()
	unsubs := b.subscriptions[workspaceID]
	delete(b.subscriptions, workspaceID)
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if len(unsubs) > 0 {
		log.Info().Str("workspace_id", workspaceID.String()).Msg("workspace feed bridge released")
	}
}

// Close drops every live subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	all := b.subscriptions
	b.subscriptions = make(map[uuid.UUID][]func())
	b.mu.Unlock()

	for _, unsubs := range all {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
