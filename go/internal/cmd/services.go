package main

import (
	"context"
	"fmt"

	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/awynne3/rallyhq/go/internal/gateway"
	"github.com/awynne3/rallyhq/go/internal/queue"
	"github.com/awynne3/rallyhq/go/internal/roster"
	"github.com/awynne3/rallyhq/go/internal/workspace"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Services holds the gateway process dependencies.
type Services struct {
	Feed              *feed.NATSFeed
	ConnectionManager *gateway.ConnectionManager
	Bridge            *gateway.Bridge
	WebSocket         *gateway.WebSocketHandler

	Workspaces *workspace.PGRepository
	Queues     *queue.PGRepository
	Roster     *roster.PGRepository
}

func setupServices(ctx context.Context, cfg *Config, pool *pgxpool.Pool) (*Services, error) {
	feedCfg := feed.DefaultNATSConfig()
	feedCfg.URL = cfg.NATS.URL
	if cfg.NATS.Stream != "" {
		feedCfg.StreamName = cfg.NATS.Stream
	}
	natsFeed, err := feed.NewNATSFeed(ctx, feedCfg)
	if err != nil {
		return nil, fmt.Errorf("set up change feed: %w", err)
	}

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	return &Services{
		Feed:              natsFeed,
		ConnectionManager: cm,
		Bridge:            gateway.NewBridge(natsFeed, cm),
		WebSocket:         gateway.NewWebSocketHandler(cm),
		Workspaces:        workspace.NewPGRepository(pool),
		Queues:            queue.NewPGRepository(pool),
		Roster:            roster.NewPGRepository(pool),
	}, nil
}

// Close tears down the feed bridge and the NATS connection.
func (s *Services) Close() {
	s.Bridge.Close()
	s.Feed.Close()
}
