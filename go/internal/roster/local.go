package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocalStore keeps the roster in memory and writes through to the
// client-local SQLite database.
type LocalStore struct {
	memory
	db      *sql.DB
	ownerID string
}

// NewLocalStore loads the saved roster from the local database.
func NewLocalStore(ctx context.Context, db *sql.DB, ownerID string) (*LocalStore, error) {
	s := &LocalStore{memory: newMemory(), db: db, ownerID: ownerID}

	rows, err := db.QueryContext(ctx, `SELECT id, name, faction, travel_times, created_at, updated_at FROM roster`)
	if err != nil {
		return nil, fmt.Errorf("load local roster: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idStr, name, faction, travelJSON string
			createdAt, updatedAt             string
		)
		if err := rows.Scan(&idStr, &name, &faction, &travelJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan local actor: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			log.Warn().Str("id", idStr).Msg("skipping local actor with bad id")
			continue
		}
		var travel models.TravelTimes
		if err := json.Unmarshal([]byte(travelJSON), &travel); err != nil {
			log.Warn().Err(err).Str("id", idStr).Msg("skipping local actor with bad travel table")
			continue
		}
		actor := models.Actor{
			ID:          id,
			Name:        name,
			Faction:     models.Faction(faction),
			TravelTimes: travel,
			OwnerID:     ownerID,
		}
		actor.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		actor.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		s.put(actor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load local roster: %w", err)
	}
	return s, nil
}

func (s *LocalStore) Actors() []models.Actor { return s.list() }

func (s *LocalStore) Get(id uuid.UUID) (models.Actor, bool) { return s.get(id) }

func (s *LocalStore) Add(ctx context.Context, actor models.Actor) (models.Actor, error) {
	if actor.Name == "" {
		return models.Actor{}, fmt.Errorf("actor name is required")
	}
	actor.ID = uuid.New()
	actor.OwnerID = s.ownerID
	now := time.Now().UTC()
	actor.CreatedAt = now
	actor.UpdatedAt = now
	if actor.TravelTimes == nil {
		actor.TravelTimes = models.TravelTimes{}
	}

	if err := s.persist(ctx, actor); err != nil {
		return models.Actor{}, err
	}
	s.put(actor)
	return actor, nil
}

func (s *LocalStore) Update(ctx context.Context, actor models.Actor) error {
	if _, ok := s.get(actor.ID); !ok {
		return fmt.Errorf("actor %s not found", actor.ID)
	}
	actor.UpdatedAt = time.Now().UTC()
	if err := s.persist(ctx, actor); err != nil {
		return err
	}
	s.put(actor)
	return nil
}

func (s *LocalStore) Remove(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roster WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete local actor: %w", err)
	}
	s.remove(id)
	return nil
}

func (s *LocalStore) Duplicate(ctx context.Context, id uuid.UUID) (models.Actor, error) {
	src, ok := s.get(id)
	if !ok {
		return models.Actor{}, fmt.Errorf("actor %s not found", id)
	}
	return s.Add(ctx, duplicateActor(src))
}

func (s *LocalStore) ExportAll() ([]byte, error) {
	return exportActors(s.list())
}

func (s *LocalStore) ImportAll(ctx context.Context, data []byte) (ImportReport, error) {
	return importAll(ctx, s, &s.memory, data)
}

// Close is a no-op; the shared *sql.DB is owned by the caller.
func (s *LocalStore) Close() {}

func (s *LocalStore) persist(ctx context.Context, actor models.Actor) error {
	travelJSON, err := json.Marshal(actor.TravelTimes)
	if err != nil {
		return fmt.Errorf("marshal travel table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roster (id, name, faction, travel_times, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			faction = excluded.faction,
			travel_times = excluded.travel_times,
			updated_at = excluded.updated_at`,
		actor.ID.String(), actor.Name, string(actor.Faction), string(travelJSON),
		actor.CreatedAt.Format(time.RFC3339), actor.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("persist local actor: %w", err)
	}
	return nil
}
