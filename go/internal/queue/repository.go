package queue

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

func (r *PGRepository) ListQueues(ctx context.Context, workspaceID uuid.UUID) ([]models.Queue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT target, kind, slots, cadence, last_writer_id, last_write_at
		FROM queues
		WHERE workspace_id = $1
		ORDER BY target, kind`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		var (
			q           models.Queue
			slotsJSON   []byte
			cadenceJSON []byte
		)
		if err := rows.Scan(&q.Key.Target, &q.Key.Kind, &slotsJSON, &cadenceJSON, &q.LastWriterID, &q.LastWriteAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		if err := json.Unmarshal(slotsJSON, &q.Slots); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue slots: %w", err)
		}
		if err := json.Unmarshal(cadenceJSON, &q.Cadence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue cadence: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	return queues, nil
}

func (r *PGRepository) UpsertQueue(ctx context.Context, workspaceID uuid.UUID, q models.Queue) error {
	slotsJSON, err := json.Marshal(q.Slots)
	if err != nil {
		return fmt.Errorf("failed to marshal queue slots: %w", err)
	}
	cadenceJSON, err := json.Marshal(q.Cadence)
	if err != nil {
		return fmt.Errorf("failed to marshal queue cadence: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO queues (workspace_id, target, kind, slots, cadence, last_writer_id, last_write_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workspace_id, target, kind) DO UPDATE SET
			slots = EXCLUDED.slots,
			cadence = EXCLUDED.cadence,
			last_writer_id = EXCLUDED.last_writer_id,
			last_write_at = EXCLUDED.last_write_at`,
		workspaceID, q.Key.Target, q.Key.Kind, slotsJSON, cadenceJSON, q.LastWriterID, q.LastWriteAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert queue: %w", err)
	}
	return nil
}
