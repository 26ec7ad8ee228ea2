package roster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository against the shared Postgres database.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) ListActors(ctx context.Context, workspaceID uuid.UUID) ([]models.Actor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, faction, travel_times, owner_id, created_at, updated_at
		FROM roster
		WHERE workspace_id = $1
		ORDER BY created_at`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list actors: %w", err)
	}
	defer rows.Close()

	var actors []models.Actor
	for rows.Next() {
		var (
			a          models.Actor
			travelJSON []byte
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Faction, &travelJSON, &a.OwnerID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan actor: %w", err)
		}
		if err := json.Unmarshal(travelJSON, &a.TravelTimes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal travel table: %w", err)
		}
		actors = append(actors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list actors: %w", err)
	}
	return actors, nil
}

func (r *PGRepository) UpsertActor(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) error {
	travelJSON, err := json.Marshal(actor.TravelTimes)
	if err != nil {
		return fmt.Errorf("failed to marshal travel table: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO roster (id, workspace_id, name, faction, travel_times, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			faction = EXCLUDED.faction,
			travel_times = EXCLUDED.travel_times,
			updated_at = EXCLUDED.updated_at`,
		actor.ID, workspaceID, actor.Name, actor.Faction, travelJSON,
		actor.OwnerID, actor.CreatedAt, actor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert actor: %w", err)
	}
	return nil
}

func (r *PGRepository) DeleteActor(ctx context.Context, workspaceID uuid.UUID, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM roster WHERE workspace_id = $1 AND id = $2`, workspaceID, id); err != nil {
		return fmt.Errorf("failed to delete actor: %w", err)
	}
	return nil
}
