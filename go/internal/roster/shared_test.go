package roster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/awynne3/rallyhq/go/internal/faults"
	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/google/uuid"
)

type fakeRepo struct {
	mu     sync.Mutex
	seed   []models.Actor
	err    error
	stored map[uuid.UUID]models.Actor
}

func newFakeRepo(seed ...models.Actor) *fakeRepo {
	return &fakeRepo{seed: seed, stored: make(map[uuid.UUID]models.Actor)}
}

func (r *fakeRepo) ListActors(context.Context, uuid.UUID) ([]models.Actor, error) {
	return r.seed, nil
}

func (r *fakeRepo) UpsertActor(_ context.Context, _ uuid.UUID, actor models.Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.stored[actor.ID] = actor
	return nil
}

func (r *fakeRepo) DeleteActor(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	delete(r.stored, id)
	return nil
}

func newSharedStore(t *testing.T, repo *fakeRepo) (*SharedStore, *feed.MemoryFeed, *notify.Recorder) {
	t.Helper()
	mem := feed.NewMemoryFeed()
	rec := notify.NewRecorder()
	store, err := NewSharedStore(context.Background(), uuid.New(), "me", repo, mem, rec)
	if err != nil {
		t.Fatalf("NewSharedStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store, mem, rec
}

func TestSharedAddWritesThrough(t *testing.T) {
	repo := newFakeRepo()
	store, _, _ := newSharedStore(t, repo)

	added, err := store.Add(context.Background(), models.Actor{Name: "Ubbe", Faction: models.FactionAlly})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, ok := repo.stored[added.ID]; !ok {
		t.Fatal("actor was not written to the repository")
	}
	if _, ok := store.Get(added.ID); !ok {
		t.Fatal("actor missing from local state")
	}
}

func TestSharedAddFailureDoesNotMutateLocal(t *testing.T) {
	repo := newFakeRepo()
	repo.err = errors.New("write rejected")
	store, _, rec := newSharedStore(t, repo)

	if _, err := store.Add(context.Background(), models.Actor{Name: "Ubbe", Faction: models.FactionAlly}); err == nil {
		t.Fatal("expected write failure")
	}
	if len(store.Actors()) != 0 {
		t.Fatal("failed write left local state mutated")
	}
	if _, ok := rec.LastError(); !ok {
		t.Fatal("failure was not reported")
	}
}

func TestSharedMirrorsForeignChanges(t *testing.T) {
	repo := newFakeRepo()
	store, mem, _ := newSharedStore(t, repo)
	ctx := context.Background()

	foreign := models.Actor{ID: uuid.New(), Name: "Hvitserk", Faction: models.FactionEnemy, TravelTimes: models.TravelTimes{}}
	payload, _ := json.Marshal(foreign)
	ev := feed.NewEvent(store.workspaceID, feed.TableRoster, feed.OpInsert, foreign.ID.String(), "them", payload)
	if err := mem.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, ok := store.Get(foreign.ID); !ok {
		t.Fatal("foreign insert not mirrored")
	}

	// Replayed insert for the same id is idempotent, not a duplicate.
	if err := mem.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(store.Actors()) != 1 {
		t.Fatalf("replayed insert duplicated the actor: %d entries", len(store.Actors()))
	}

	del := feed.NewEvent(store.workspaceID, feed.TableRoster, feed.OpDelete, foreign.ID.String(), "them", nil)
	if err := mem.Publish(ctx, del); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, ok := store.Get(foreign.ID); ok {
		t.Fatal("foreign delete not mirrored")
	}
}

func TestSharedSuppressesOwnEcho(t *testing.T) {
	repo := newFakeRepo()
	store, mem, _ := newSharedStore(t, repo)
	ctx := context.Background()

	added, err := store.Add(ctx, models.Actor{Name: "Torvi", Faction: models.FactionAlly})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A stale echo of our own write carries an old name; it must not be
	// applied over current state.
	stale := added
	stale.Name = "Torvi-old"
	payload, _ := json.Marshal(stale)
	ev := feed.NewEvent(store.workspaceID, feed.TableRoster, feed.OpUpdate, added.ID.String(), "me", payload)
	if err := mem.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, _ := store.Get(added.ID)
	if got.Name != "Torvi" {
		t.Fatalf("self-echo applied: name = %q", got.Name)
	}
}

func TestSharedPermissionDeniedIsDistinct(t *testing.T) {
	repo := newFakeRepo()
	repo.err = faults.ErrPermissionDenied
	store, _, rec := newSharedStore(t, repo)

	_, err := store.Add(context.Background(), models.Actor{Name: "Ubbe", Faction: models.FactionAlly})
	if !errors.Is(err, faults.ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}
	text, ok := rec.LastError()
	if !ok || text == "" {
		t.Fatal("no permission message emitted")
	}
}
