package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultDebounceWindow is how long a queue edit waits for follow-up edits
// to the same (target, kind) key before the coalesced remote write fires.
const DefaultDebounceWindow = 500 * time.Millisecond

// Repository is what the shared store needs from Postgres.
type Repository interface {
	ListQueues(ctx context.Context, workspaceID uuid.UUID) ([]models.Queue, error)
	UpsertQueue(ctx context.Context, workspaceID uuid.UUID, q models.Queue) error
}

// SharedConfig wires a SharedStore.
type SharedConfig struct {
	WorkspaceID uuid.UUID
	SelfID      string
	Repo        Repository
	Feed        feed.Feed
	Notifier    notify.Notifier
	Clock       clockwork.Clock
	Window      time.Duration
}

// SharedStore synchronizes queues across clients. Local edits apply
// optimistically and immediately; the remote write is debounced and
// coalesced per queue key. Remote change events are applied unless their
// writer provenance is this client, which suppresses self-echo: a delayed
// confirmation of our own write can never clobber a newer local edit.
//
// A failed remote write is logged and surfaced, never rolled back: queue
// state is allowed to run locally ahead of remote until the next successful
// write or the next foreign change event.
type SharedStore struct {
	workspaceID uuid.UUID
	selfID      string
	repo        Repository
	feed        feed.Feed
	notifier    notify.Notifier
	clock       clockwork.Clock
	window      time.Duration

	mu          sync.Mutex
	queues      map[models.QueueKey]models.Queue
	timers      map[models.QueueKey]clockwork.Timer
	closed      bool
	done        chan struct{}
	unsubscribe func()
}

// NewSharedStore loads the workspace's queues and opens the change feed
// subscription.
func NewSharedStore(ctx context.Context, cfg SharedConfig) (*SharedStore, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultDebounceWindow
	}

	s := &SharedStore{
		workspaceID: cfg.WorkspaceID,
		selfID:      cfg.SelfID,
		repo:        cfg.Repo,
		feed:        cfg.Feed,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		window:      cfg.Window,
		queues:      make(map[models.QueueKey]models.Queue),
		timers:      make(map[models.QueueKey]clockwork.Timer),
		done:        make(chan struct{}),
	}

	queues, err := cfg.Repo.ListQueues(ctx, cfg.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace queues: %w", err)
	}
	for _, q := range queues {
		s.queues[q.Key] = q
	}

	unsubscribe, err := cfg.Feed.Subscribe(ctx, cfg.WorkspaceID, feed.TableQueues, s.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe queue feed: %w", err)
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

func (s *SharedStore) Queue(target models.Target, kind models.QueueKind) (models.Queue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[models.QueueKey{Target: target, Kind: kind}]
	if !ok {
		return models.Queue{}, false
	}
	return cloneQueue(q), true
}

func (s *SharedStore) Snapshot() []models.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, cloneQueue(q))
	}
	return out
}

func (s *SharedStore) UpdateSlots(_ context.Context, target models.Target, kind models.QueueKind, slots []models.QueueSlot) error {
	return s.update(models.QueueKey{Target: target, Kind: kind}, func(q *models.Queue) {
		q.Slots = slots
	})
}

func (s *SharedStore) UpdateCadence(_ context.Context, target models.Target, kind models.QueueKind, policy models.CadencePolicy) error {
	return s.update(models.QueueKey{Target: target, Kind: kind}, func(q *models.Queue) {
		q.Cadence = policy
	})
}

func (s *SharedStore) update(key models.QueueKey, mutate func(*models.Queue)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("queue store is closed")
	}

	q, ok := s.queues[key]
	if !ok {
		q = models.EmptyQueue(key)
	}
	mutate(&q)
	q.LastWriterID = s.selfID
	q.LastWriteAt = s.clock.Now().UTC()
	s.queues[key] = q

	s.scheduleFlush(key)
	return nil
}

// scheduleFlush arms (or re-arms) the debounce timer for a key. Callers hold
// s.mu. A burst of edits within the window lands as one remote write
// carrying the latest value.
func (s *SharedStore) scheduleFlush(key models.QueueKey) {
	if t, ok := s.timers[key]; ok {
		t.Reset(s.window)
		return
	}

	t := s.clock.NewTimer(s.window)
	s.timers[key] = t

	go func() {
		select {
		case <-t.Chan():
			s.flush(key)
		case <-s.done:
			stopAndDrainTimer(t)
		}
	}()
}

// flush performs the coalesced remote write for one key and publishes the
// change event with this client's provenance.
func (s *SharedStore) flush(key models.QueueKey) {
	s.mu.Lock()
	delete(s.timers, key)
	if s.closed {
		s.mu.Unlock()
		return
	}
	q, ok := s.queues[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	snapshot := cloneQueue(q)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.repo.UpsertQueue(ctx, s.workspaceID, snapshot); err != nil {
		log.Error().Err(err).
			Str("workspace_id", s.workspaceID.String()).
			Str("target", string(key.Target)).
			Str("kind", string(key.Kind)).
			Msg("queue write failed; keeping local state")
		notify.Error(s.notifier, "Couldn't save the queue. Your edits are kept locally and will stand until the next save.")
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Error().Err(err).Msg("marshal queue change event")
		return
	}
	ev := feed.NewEvent(s.workspaceID, feed.TableQueues, feed.OpUpdate, rowKey(key), s.selfID, payload)
	if err := s.feed.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Msg("publish queue change event")
	}
}

// handleEvent applies a remote change unless we wrote it ourselves.
func (s *SharedStore) handleEvent(ev feed.Event) {
	if ev.WriterID == s.selfID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if ev.Op == feed.OpDelete {
		key, err := parseRowKey(ev.Key)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring queue delete event")
			return
		}
		delete(s.queues, key)
		return
	}

	var q models.Queue
	if err := json.Unmarshal(ev.Payload, &q); err != nil {
		log.Warn().Err(err).Str("key", ev.Key).Msg("ignoring malformed queue event")
		return
	}
	s.queues[q.Key] = q
}

// Close cancels every pending debounce timer and tears down the feed
// subscription. Pending unflushed edits are dropped by design; workspace
// switches must not leak writes across workspace boundaries.
func (s *SharedStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	for key, t := range s.timers {
		stopAndDrainTimer(t)
		delete(s.timers, key)
	}
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// stopAndDrainTimer stops a timer and drains its channel so the watching
// goroutine can never observe a late fire.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
