package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/rs/zerolog/log"
)

// LocalStore keeps queues in memory and writes through to the client-local
// SQLite database. It has no debounce and no change feed; there is nobody
// else to synchronize with.
type LocalStore struct {
	db *sql.DB

	mu     sync.RWMutex
	queues map[models.QueueKey]models.Queue
}

// NewLocalStore loads any previously saved queues from the local database.
func NewLocalStore(ctx context.Context, db *sql.DB) (*LocalStore, error) {
	s := &LocalStore{
		db:     db,
		queues: make(map[models.QueueKey]models.Queue),
	}

	rows, err := db.QueryContext(ctx, `SELECT data FROM queues`)
	if err != nil {
		return nil, fmt.Errorf("load local queues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan local queue: %w", err)
		}
		var q models.Queue
		if err := json.Unmarshal(data, &q); err != nil {
			log.Warn().Err(err).Msg("skipping unreadable local queue row")
			continue
		}
		s.queues[q.Key] = q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load local queues: %w", err)
	}
	return s, nil
}

func (s *LocalStore) Queue(target models.Target, kind models.QueueKind) (models.Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[models.QueueKey{Target: target, Kind: kind}]
	if !ok {
		return models.Queue{}, false
	}
	return cloneQueue(q), true
}

func (s *LocalStore) Snapshot() []models.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, cloneQueue(q))
	}
	return out
}

func (s *LocalStore) UpdateSlots(ctx context.Context, target models.Target, kind models.QueueKind, slots []models.QueueSlot) error {
	return s.update(ctx, models.QueueKey{Target: target, Kind: kind}, func(q *models.Queue) {
		q.Slots = slots
	})
}

func (s *LocalStore) UpdateCadence(ctx context.Context, target models.Target, kind models.QueueKind, policy models.CadencePolicy) error {
	return s.update(ctx, models.QueueKey{Target: target, Kind: kind}, func(q *models.Queue) {
		q.Cadence = policy
	})
}

func (s *LocalStore) update(ctx context.Context, key models.QueueKey, mutate func(*models.Queue)) error {
	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = models.EmptyQueue(key)
	}
	mutate(&q)
	s.queues[key] = q
	snapshot := cloneQueue(q)
	s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal local queue: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queues (target, kind, data) VALUES (?, ?, ?)
		ON CONFLICT (target, kind) DO UPDATE SET data = excluded.data`,
		string(key.Target), string(key.Kind), string(data),
	)
	if err != nil {
		return fmt.Errorf("persist local queue: %w", err)
	}
	return nil
}

// Close is a no-op; the shared *sql.DB is owned by the caller.
func (s *LocalStore) Close() {}
