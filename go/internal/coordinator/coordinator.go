// Package coordinator is the composition root of the rally planner. It picks
// the local or shared store pair depending on whether a workspace session is
// open, derives call schedules, cascades cross-entity deletes, and exposes
// the single action surface the presentation layer drives.
package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/awynne3/rallyhq/go/internal/bufftimer"
	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/awynne3/rallyhq/go/internal/identity"
	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/awynne3/rallyhq/go/internal/queue"
	"github.com/awynne3/rallyhq/go/internal/roster"
	"github.com/awynne3/rallyhq/go/internal/workspace"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrAccessDenied means the entitlement gate refused the feature.
var ErrAccessDenied = errors.New("rally coordinator access denied")

// ErrReadOnly mirrors workspace.ErrReadOnly at the action surface.
var ErrReadOnly = workspace.ErrReadOnly

// Mode says which backing the store pair currently uses.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeShared Mode = "shared"
)

// Config wires a Coordinator.
type Config struct {
	Identity identity.Identity
	Gate     identity.AccessGate
	Notifier notify.Notifier
	Feed     feed.Feed
	Clock    clockwork.Clock
	Cue      bufftimer.Cue

	// LocalDB backs the stores when no workspace is open.
	LocalDB *sql.DB

	// Shared-mode repositories.
	QueueRepo     queue.Repository
	RosterRepo    roster.Repository
	WorkspaceRepo workspace.Repository
}

// Coordinator owns the current store pair and the buff timers.
type Coordinator struct {
	cfg     Config
	session *workspace.Session
	buffs   *bufftimer.Subsystem

	mu     sync.Mutex
	mode   Mode
	roster roster.Store
	queues queue.Store
}

// New gates on entitlement, builds the local store pair, and loads the
// kingdom's workspaces, entering the active one if present.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	ok, err := cfg.Gate.HasRallyAccess(ctx, cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("check rally access: %w", err)
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	c := &Coordinator{
		cfg:     cfg,
		session: workspace.NewSession(cfg.WorkspaceRepo, cfg.Feed, cfg.Notifier, cfg.Identity),
	}
	c.buffs = bufftimer.New(bufftimer.Config{
		Clock:    cfg.Clock,
		Notifier: cfg.Notifier,
		Cue:      cfg.Cue,
		OnExpire: c.handleBuffExpiry,
	})

	if err := c.useLocalStores(ctx); err != nil {
		return nil, err
	}

	if _, err := c.session.Load(ctx); err != nil {
		// Falling back to local-only mode is the worst case, never fatal.
		log.Warn().Err(err).Msg("workspace load failed; staying in local mode")
		return c, nil
	}
	if ws, open := c.session.Current(); open {
		if err := c.useSharedStores(ctx, ws.ID); err != nil {
			log.Warn().Err(err).Msg("shared store setup failed; staying in local mode")
			c.session.Close()
		}
	}
	return c, nil
}

// Session exposes workspace lifecycle and captain management.
func (c *Coordinator) Session() *workspace.Session { return c.session }

// Mode reports which backing is active.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// EnterWorkspace opens a workspace session and swaps the store pair to the
// shared backing. The previous pair is closed first so no timers or
// subscriptions leak across workspace boundaries.
func (c *Coordinator) EnterWorkspace(ctx context.Context, ws models.Workspace) error {
	if err := c.session.Open(ctx, ws); err != nil {
		return err
	}
	return c.useSharedStores(ctx, ws.ID)
}

// CreateWorkspace persists a new workspace and enters it.
func (c *Coordinator) CreateWorkspace(ctx context.Context, name string) (models.Workspace, error) {
	ws, err := c.session.Create(ctx, name)
	if err != nil {
		return models.Workspace{}, err
	}
	if err := c.useSharedStores(ctx, ws.ID); err != nil {
		return models.Workspace{}, err
	}
	return ws, nil
}

// LeaveWorkspace closes the session and returns to the local backing.
func (c *Coordinator) LeaveWorkspace(ctx context.Context) error {
	c.session.Close()
	return c.useLocalStores(ctx)
}

// DeleteWorkspace removes a workspace; deleting the open one drops back to
// local mode.
func (c *Coordinator) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	current, open := c.session.Current()
	if err := c.session.Delete(ctx, id); err != nil {
		return err
	}
	if open && current.ID == id {
		return c.useLocalStores(ctx)
	}
	return nil
}

// Close tears down stores, timers, and the session.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.roster != nil {
		c.roster.Close()
	}
	if c.queues != nil {
		c.queues.Close()
	}
	c.mu.Unlock()
	c.buffs.Close()
	c.session.Close()
}

func (c *Coordinator) useLocalStores(ctx context.Context) error {
	rosterStore, err := roster.NewLocalStore(ctx, c.cfg.LocalDB, c.cfg.Identity.ID)
	if err != nil {
		return fmt.Errorf("open local roster: %w", err)
	}
	queueStore, err := queue.NewLocalStore(ctx, c.cfg.LocalDB)
	if err != nil {
		return fmt.Errorf("open local queues: %w", err)
	}
	c.swapStores(ModeLocal, rosterStore, queueStore)
	return nil
}

func (c *Coordinator) useSharedStores(ctx context.Context, workspaceID uuid.UUID) error {
	rosterStore, err := roster.NewSharedStore(ctx, workspaceID, c.cfg.Identity.ID, c.cfg.RosterRepo, c.cfg.Feed, c.cfg.Notifier)
	if err != nil {
		return err
	}
	queueStore, err := queue.NewSharedStore(ctx, queue.SharedConfig{
		WorkspaceID: workspaceID,
		SelfID:      c.cfg.Identity.ID,
		Repo:        c.cfg.QueueRepo,
		Feed:        c.cfg.Feed,
		Notifier:    c.cfg.Notifier,
		Clock:       c.cfg.Clock,
	})
	if err != nil {
		rosterStore.Close()
		return err
	}
	c.swapStores(ModeShared, rosterStore, queueStore)
	return nil
}

func (c *Coordinator) swapStores(mode Mode, r roster.Store, q queue.Store) {
	c.mu.Lock()
	prevRoster, prevQueues := c.roster, c.queues
	c.mode = mode
	c.roster = r
	c.queues = q
	c.mu.Unlock()

	if prevRoster != nil {
		prevRoster.Close()
	}
	if prevQueues != nil {
		prevQueues.Close()
	}
}

func (c *Coordinator) stores() (roster.Store, queue.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster, c.queues
}

// canMutate enforces editor capability in shared mode. Local mode is always
// the client's own data.
func (c *Coordinator) canMutate() error {
	if c.Mode() == ModeLocal {
		return nil
	}
	if c.session.IsReadOnly() {
		notify.Error(c.cfg.Notifier, "Only the workspace creator or a captain can edit this workspace.")
		return ErrReadOnly
	}
	return nil
}
