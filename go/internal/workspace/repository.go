package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/sqlutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository against the shared Postgres database.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateWorkspace inserts the workspace row and its full empty queue grid in
// one transaction, so no client can ever observe a workspace with missing
// queues.
func (r *PGRepository) CreateWorkspace(ctx context.Context, ws models.Workspace, queueKeys []models.QueueKey) error {
	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO workspaces (id, kingdom, name, creator_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())`,
			ws.ID, ws.Kingdom, ws.Name, ws.CreatorID, ws.Status,
		)
		if err != nil {
			return err
		}

		for _, key := range queueKeys {
			q := models.EmptyQueue(key)
			slotsJSON, err := json.Marshal(q.Slots)
			if err != nil {
				return err
			}
			cadenceJSON, err := json.Marshal(q.Cadence)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO queues (workspace_id, target, kind, slots, cadence, last_writer_id, last_write_at)
				VALUES ($1, $2, $3, $4, $5, $6, now())`,
				ws.ID, key.Target, key.Kind, slotsJSON, cadenceJSON, ws.CreatorID,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (r *PGRepository) ListWorkspaces(ctx context.Context, kingdom int) ([]models.Workspace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kingdom, name, creator_id, status, created_at, updated_at
		FROM workspaces
		WHERE kingdom = $1
		ORDER BY created_at DESC`,
		kingdom,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(&ws.ID, &ws.Kingdom, &ws.Name, &ws.CreatorID, &ws.Status, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return workspaces, nil
}

func (r *PGRepository) UpdateWorkspaceStatus(ctx context.Context, id uuid.UUID, status models.WorkspaceStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workspaces SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update workspace status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workspace %s not found", id)
	}
	return nil
}

func (r *PGRepository) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	// Queues, roster, and captains cascade via foreign keys.
	if _, err := r.pool.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}

// UpsertCaptain inserts or, when the identity already holds a captain row in
// the workspace, reassigns its target. Duplicate adds are re-assignments by
// contract, not errors.
func (r *PGRepository) UpsertCaptain(ctx context.Context, c models.Captain) (models.Captain, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO captains (id, workspace_id, identity_id, target, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (workspace_id, identity_id) DO UPDATE SET target = EXCLUDED.target
		RETURNING id, workspace_id, identity_id, target, created_at`,
		c.ID, c.WorkspaceID, c.IdentityID, targetText(c.Target),
	)

	var (
		out       models.Captain
		targetStr *string
	)
	if err := row.Scan(&out.ID, &out.WorkspaceID, &out.IdentityID, &targetStr, &out.CreatedAt); err != nil {
		return models.Captain{}, fmt.Errorf("failed to upsert captain: %w", err)
	}
	out.Target = targetFromText(targetStr)
	return out, nil
}

func (r *PGRepository) UpdateCaptainTarget(ctx context.Context, id uuid.UUID, target *models.Target) error {
	tag, err := r.pool.Exec(ctx, `UPDATE captains SET target = $2 WHERE id = $1`, id, targetText(target))
	if err != nil {
		return fmt.Errorf("failed to update captain target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("captain %s not found", id)
	}
	return nil
}

func (r *PGRepository) RemoveCaptain(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM captains WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove captain: %w", err)
	}
	return nil
}

func (r *PGRepository) ListCaptains(ctx context.Context, workspaceID uuid.UUID) ([]models.Captain, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, identity_id, target, created_at
		FROM captains
		WHERE workspace_id = $1
		ORDER BY created_at`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list captains: %w", err)
	}
	defer rows.Close()

	var captains []models.Captain
	for rows.Next() {
		var (
			c         models.Captain
			targetStr *string
		)
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.IdentityID, &targetStr, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan captain: %w", err)
		}
		c.Target = targetFromText(targetStr)
		captains = append(captains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list captains: %w", err)
	}
	return captains, nil
}

func targetText(t *models.Target) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func targetFromText(s *string) *models.Target {
	if s == nil {
		return nil
	}
	t := models.Target(*s)
	return &t
}
