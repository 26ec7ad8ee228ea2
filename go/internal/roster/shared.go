package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awynne3/rallyhq/go/internal/faults"
	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Repository is what the shared store needs from Postgres.
type Repository interface {
	ListActors(ctx context.Context, workspaceID uuid.UUID) ([]models.Actor, error)
	UpsertActor(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) error
	DeleteActor(ctx context.Context, workspaceID uuid.UUID, id uuid.UUID) error
}

// SharedStore is the workspace-backed roster. Writes go straight to the
// persistence layer; peers see them through the change feed, and our own
// echoes are suppressed by writer provenance.
type SharedStore struct {
	memory
	workspaceID uuid.UUID
	selfID      string
	repo        Repository
	feed        feed.Feed
	notifier    notify.Notifier
	unsubscribe func()
}

// NewSharedStore loads the workspace roster and opens the feed subscription.
func NewSharedStore(ctx context.Context, workspaceID uuid.UUID, selfID string, repo Repository, f feed.Feed, notifier notify.Notifier) (*SharedStore, error) {
	s := &SharedStore{
		memory:      newMemory(),
		workspaceID: workspaceID,
		selfID:      selfID,
		repo:        repo,
		feed:        f,
		notifier:    notifier,
	}

	actors, err := repo.ListActors(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace roster: %w", err)
	}
	for _, a := range actors {
		s.put(a)
	}

	unsubscribe, err := f.Subscribe(ctx, workspaceID, feed.TableRoster, s.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe roster feed: %w", err)
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

func (s *SharedStore) Actors() []models.Actor { return s.list() }

func (s *SharedStore) Get(id uuid.UUID) (models.Actor, bool) { return s.get(id) }

func (s *SharedStore) Add(ctx context.Context, actor models.Actor) (models.Actor, error) {
	if actor.Name == "" {
		return models.Actor{}, fmt.Errorf("actor name is required")
	}
	actor.ID = uuid.New()
	if actor.OwnerID == "" {
		actor.OwnerID = s.selfID
	}
	now := time.Now().UTC()
	actor.CreatedAt = now
	actor.UpdatedAt = now
	if actor.TravelTimes == nil {
		actor.TravelTimes = models.TravelTimes{}
	}

	if err := s.write(ctx, actor, feed.OpInsert); err != nil {
		return models.Actor{}, err
	}
	s.put(actor)
	return actor, nil
}

func (s *SharedStore) Update(ctx context.Context, actor models.Actor) error {
	if _, ok := s.get(actor.ID); !ok {
		return fmt.Errorf("actor %s not found", actor.ID)
	}
	actor.UpdatedAt = time.Now().UTC()
	if err := s.write(ctx, actor, feed.OpUpdate); err != nil {
		return err
	}
	s.put(actor)
	return nil
}

func (s *SharedStore) Remove(ctx context.Context, id uuid.UUID) error {
	if err := s.classified(s.repo.DeleteActor(ctx, s.workspaceID, id)); err != nil {
		return err
	}
	s.remove(id)

	ev := feed.NewEvent(s.workspaceID, feed.TableRoster, feed.OpDelete, id.String(), s.selfID, nil)
	if err := s.feed.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Msg("publish roster delete event")
	}
	return nil
}

func (s *SharedStore) Duplicate(ctx context.Context, id uuid.UUID) (models.Actor, error) {
	src, ok := s.get(id)
	if !ok {
		return models.Actor{}, fmt.Errorf("actor %s not found", id)
	}
	return s.Add(ctx, duplicateActor(src))
}

func (s *SharedStore) ExportAll() ([]byte, error) {
	return exportActors(s.list())
}

func (s *SharedStore) ImportAll(ctx context.Context, data []byte) (ImportReport, error) {
	return importAll(ctx, s, &s.memory, data)
}

// Close tears down the feed subscription.
func (s *SharedStore) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *SharedStore) write(ctx context.Context, actor models.Actor, op feed.Op) error {
	if err := s.classified(s.repo.UpsertActor(ctx, s.workspaceID, actor)); err != nil {
		return err
	}

	payload, err := json.Marshal(actor)
	if err != nil {
		return fmt.Errorf("marshal roster change event: %w", err)
	}
	ev := feed.NewEvent(s.workspaceID, feed.TableRoster, op, actor.ID.String(), s.selfID, payload)
	if err := s.feed.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Msg("publish roster change event")
	}
	return nil
}

// classified maps persistence failures onto the outcome taxonomy and
// reports them; unlike queues, roster state is not left locally ahead.
func (s *SharedStore) classified(err error) error {
	if err == nil {
		return nil
	}
	err = faults.Classify(err)
	switch {
	case errors.Is(err, faults.ErrPermissionDenied):
		notify.Error(s.notifier, "Only the workspace creator or a captain can edit the roster.")
	case errors.Is(err, faults.ErrConflict):
		notify.Error(s.notifier, "That player already exists in this workspace.")
	default:
		log.Error().Err(err).Str("workspace_id", s.workspaceID.String()).Msg("roster write failed")
		notify.Error(s.notifier, "Couldn't save the roster change. Please try again.")
	}
	return err
}

// handleEvent mirrors foreign roster changes into local state. Inserts of an
// id we already hold are overwrites, which keeps replays idempotent.
func (s *SharedStore) handleEvent(ev feed.Event) {
	if ev.WriterID == s.selfID {
		return
	}

	if ev.Op == feed.OpDelete {
		id, err := uuid.Parse(ev.Key)
		if err != nil {
			log.Warn().Str("key", ev.Key).Msg("ignoring roster delete event with bad key")
			return
		}
		s.remove(id)
		return
	}

	var actor models.Actor
	if err := json.Unmarshal(ev.Payload, &actor); err != nil {
		log.Warn().Err(err).Str("key", ev.Key).Msg("ignoring malformed roster event")
		return
	}
	s.put(actor)
}
