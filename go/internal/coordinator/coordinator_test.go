package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/awynne3/rallyhq/go/internal/bufftimer"
	"github.com/awynne3/rallyhq/go/internal/faults"
	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/awynne3/rallyhq/go/internal/identity"
	"github.com/awynne3/rallyhq/go/internal/localdb"
	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/awynne3/rallyhq/go/internal/workspace"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type fakeWorkspaceRepo struct {
	mu         sync.Mutex
	workspaces map[uuid.UUID]models.Workspace
	captains   map[uuid.UUID]models.Captain
}

func newFakeWorkspaceRepo() *fakeWorkspaceRepo {
	return &fakeWorkspaceRepo{
		workspaces: make(map[uuid.UUID]models.Workspace),
		captains:   make(map[uuid.UUID]models.Captain),
	}
}

func (r *fakeWorkspaceRepo) CreateWorkspace(_ context.Context, ws models.Workspace, _ []models.QueueKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaces[ws.ID] = ws
	return nil
}

func (r *fakeWorkspaceRepo) ListWorkspaces(_ context.Context, kingdom int) ([]models.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Workspace
	for _, ws := range r.workspaces {
		if ws.Kingdom == kingdom {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (r *fakeWorkspaceRepo) UpdateWorkspaceStatus(_ context.Context, id uuid.UUID, status models.WorkspaceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := r.workspaces[id]
	ws.Status = status
	r.workspaces[id] = ws
	return nil
}

func (r *fakeWorkspaceRepo) DeleteWorkspace(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workspaces, id)
	return nil
}

func (r *fakeWorkspaceRepo) UpsertCaptain(_ context.Context, c models.Captain) (models.Captain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captains[c.ID] = c
	return c, nil
}

func (r *fakeWorkspaceRepo) UpdateCaptainTarget(_ context.Context, id uuid.UUID, target *models.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.captains[id]
	c.Target = target
	r.captains[id] = c
	return nil
}

func (r *fakeWorkspaceRepo) RemoveCaptain(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.captains, id)
	return nil
}

func (r *fakeWorkspaceRepo) ListCaptains(_ context.Context, workspaceID uuid.UUID) ([]models.Captain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Captain
	for _, c := range r.captains {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeQueueRepo struct {
	mu      sync.Mutex
	queues  map[models.QueueKey]models.Queue
	upserts chan models.Queue
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{
		queues:  make(map[models.QueueKey]models.Queue),
		upserts: make(chan models.Queue, 16),
	}
}

func (r *fakeQueueRepo) ListQueues(context.Context, uuid.UUID) ([]models.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Queue
	for _, q := range r.queues {
		out = append(out, q)
	}
	return out, nil
}

func (r *fakeQueueRepo) UpsertQueue(_ context.Context, _ uuid.UUID, q models.Queue) error {
	r.mu.Lock()
	r.queues[q.Key] = q
	r.mu.Unlock()
	r.upserts <- q
	return nil
}

type fakeRosterRepo struct {
	mu        sync.Mutex
	deleteErr error
}

func (r *fakeRosterRepo) setDeleteErr(err error) {
	r.mu.Lock()
	r.deleteErr = err
	r.mu.Unlock()
}

func (r *fakeRosterRepo) ListActors(context.Context, uuid.UUID) ([]models.Actor, error) {
	return nil, nil
}

func (r *fakeRosterRepo) UpsertActor(context.Context, uuid.UUID, models.Actor) error { return nil }

func (r *fakeRosterRepo) DeleteActor(context.Context, uuid.UUID, uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteErr
}

type deniedGate struct{}

func (deniedGate) HasRallyAccess(context.Context, identity.Identity) (bool, error) {
	return false, nil
}

type testRig struct {
	coord    *Coordinator
	clock    *clockwork.FakeClock
	recorder *notify.Recorder
	wsRepo   *fakeWorkspaceRepo
	qRepo    *fakeQueueRepo
	rRepo    *fakeRosterRepo
}

func newRig(t *testing.T, self identity.Identity) *testRig {
	t.Helper()
	db, err := localdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clockwork.NewFakeClock()
	rec := notify.NewRecorder()
	wsRepo := newFakeWorkspaceRepo()
	qRepo := newFakeQueueRepo()
	rRepo := &fakeRosterRepo{}

	coord, err := New(context.Background(), Config{
		Identity:      self,
		Gate:          identity.OpenGate{},
		Notifier:      rec,
		Feed:          feed.NewMemoryFeed(),
		Clock:         clk,
		LocalDB:       db,
		QueueRepo:     qRepo,
		RosterRepo:    rRepo,
		WorkspaceRepo: wsRepo,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(coord.Close)
	return &testRig{coord: coord, clock: clk, recorder: rec, wsRepo: wsRepo, qRepo: qRepo, rRepo: rRepo}
}

func mustAddActor(t *testing.T, c *Coordinator, name string, travel models.TravelTimes) models.Actor {
	t.Helper()
	actor, err := c.AddActor(context.Background(), models.Actor{
		Name:        name,
		Faction:     models.FactionAlly,
		TravelTimes: travel,
	})
	if err != nil {
		t.Fatalf("AddActor(%s): %v", name, err)
	}
	return actor
}

func travelFor(target models.Target, regular, buffed int) models.TravelTimes {
	tt := models.TravelTimes{}
	if regular > 0 {
		tt.Set(target, models.SpeedRegular, regular)
	}
	if buffed > 0 {
		tt.Set(target, models.SpeedBuffed, buffed)
	}
	return tt
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAccessGateBlocksInit(t *testing.T) {
	db, err := localdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	defer db.Close()

	_, err = New(context.Background(), Config{
		Identity:      identity.Identity{ID: "me", Kingdom: 7},
		Gate:          deniedGate{},
		Notifier:      notify.NewRecorder(),
		Feed:          feed.NewMemoryFeed(),
		LocalDB:       db,
		WorkspaceRepo: newFakeWorkspaceRepo(),
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestStartsInLocalModeWithoutWorkspaces(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	if got := rig.coord.Mode(); got != ModeLocal {
		t.Errorf("mode = %s, want local", got)
	}
	if got := rig.coord.Session().State(); got != workspace.StateNoSession {
		t.Errorf("state = %s, want no-session", got)
	}
}

func TestAddToQueueSnapshotsActor(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()
	actor := mustAddActor(t, rig.coord, "Ragnar", travelFor(models.TargetCastle, 40, 20))

	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}

	q, ok := rig.coord.View().queueFor(models.TargetCastle, models.QueuePrimary)
	if !ok || len(q.Queue.Slots) != 1 {
		t.Fatalf("queue missing or wrong size: %+v", q)
	}
	slot := q.Queue.Slots[0]
	if slot.Name != "Ragnar" || slot.TravelSeconds != 40 || slot.Mode != models.SpeedRegular {
		t.Errorf("slot snapshot = %+v", slot)
	}

	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("duplicate add err = %v, want ErrAlreadyQueued", err)
	}
	if err := rig.coord.AddToQueue(ctx, models.TargetSanctuary, models.QueuePrimary, actor.ID, models.SpeedRegular); !errors.Is(err, ErrNoTravelTime) {
		t.Errorf("unmeasured target err = %v, want ErrNoTravelTime", err)
	}
}

func TestRemoveActorCascadesThroughQueues(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()

	tt := travelFor(models.TargetCastle, 40, 0)
	tt.Set(models.TargetTurretEast, models.SpeedRegular, 30)
	actor := mustAddActor(t, rig.coord, "Ragnar", tt)
	other := mustAddActor(t, rig.coord, "Bjorn", travelFor(models.TargetCastle, 50, 0))

	for _, target := range []models.Target{models.TargetCastle, models.TargetTurretEast} {
		if err := rig.coord.AddToQueue(ctx, target, models.QueuePrimary, actor.ID, models.SpeedRegular); err != nil {
			t.Fatalf("AddToQueue(%s): %v", target, err)
		}
	}
	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, other.ID, models.SpeedRegular); err != nil {
		t.Fatalf("AddToQueue(other): %v", err)
	}

	if err := rig.coord.RemoveActor(ctx, actor.ID); err != nil {
		t.Fatalf("RemoveActor: %v", err)
	}

	if _, ok := rig.coord.Actor(actor.ID); ok {
		t.Error("actor still in roster after removal")
	}
	for _, qv := range rig.coord.View().Queues {
		for _, slot := range qv.Queue.Slots {
			if slot.ActorID == actor.ID {
				t.Errorf("slot for removed actor survived in %s/%s", qv.Queue.Key.Target, qv.Queue.Key.Kind)
			}
		}
	}
	if got := rig.coord.ScheduleFor(models.TargetCastle, models.QueuePrimary); len(got) != 1 {
		t.Errorf("castle queue has %d scheduled slots, want 1", len(got))
	}
}

func TestRemoveActorFailureLeavesQueuesIntact(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()

	if _, err := rig.coord.CreateWorkspace(ctx, "KvK week 12"); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	actor := mustAddActor(t, rig.coord, "Ragnar", travelFor(models.TargetCastle, 40, 0))
	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}

	rig.rRepo.setDeleteErr(faults.ErrPermissionDenied)
	if err := rig.coord.RemoveActor(ctx, actor.ID); !errors.Is(err, faults.ErrPermissionDenied) {
		t.Fatalf("RemoveActor err = %v, want ErrPermissionDenied", err)
	}

	// A refused delete must not strip the actor's slots.
	if _, ok := rig.coord.Actor(actor.ID); !ok {
		t.Error("actor vanished from roster despite refused delete")
	}
	q, ok := rig.coord.View().queueFor(models.TargetCastle, models.QueuePrimary)
	if !ok || len(q.Queue.Slots) != 1 || q.Queue.Slots[0].ActorID != actor.ID {
		t.Errorf("queue after refused delete = %+v", q)
	}
}

func TestScheduleUsesCadenceGap(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		travel int
	}{{"Far", 40}, {"Mid", 25}, {"Near", 10}} {
		actor := mustAddActor(t, rig.coord, tc.name, travelFor(models.TargetCastle, tc.travel, 0))
		if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular); err != nil {
			t.Fatalf("AddToQueue(%s): %v", tc.name, err)
		}
	}
	if err := rig.coord.SetCadence(ctx, models.TargetCastle, models.QueuePrimary, models.CadencePolicy{
		Kind:       models.CadenceInterval,
		GapSeconds: 5,
	}); err != nil {
		t.Fatalf("SetCadence: %v", err)
	}

	sched := rig.coord.ScheduleFor(models.TargetCastle, models.QueuePrimary)
	if len(sched) != 3 {
		t.Fatalf("schedule length = %d, want 3", len(sched))
	}
	wantDelays := []int{0, 20, 40}
	wantArrivals := []int{40, 45, 50}
	for i, s := range sched {
		if s.LaunchDelaySeconds != wantDelays[i] || s.ArrivalSeconds != wantArrivals[i] {
			t.Errorf("slot %d: delay %d arrival %d, want %d/%d",
				i, s.LaunchDelaySeconds, s.ArrivalSeconds, wantDelays[i], wantArrivals[i])
		}
	}
}

func TestSetCadenceRejectsNonPositiveGap(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	err := rig.coord.SetCadence(context.Background(), models.TargetCastle, models.QueuePrimary, models.CadencePolicy{
		Kind: models.CadenceInterval,
	})
	if err == nil {
		t.Fatal("zero-gap interval cadence accepted")
	}
}

func TestMoveSlotReorders(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()

	var ids []uuid.UUID
	for _, name := range []string{"A", "B", "C"} {
		actor := mustAddActor(t, rig.coord, name, travelFor(models.TargetCastle, 30, 0))
		if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular); err != nil {
			t.Fatalf("AddToQueue(%s): %v", name, err)
		}
		ids = append(ids, actor.ID)
	}

	if err := rig.coord.MoveSlot(ctx, models.TargetCastle, models.QueuePrimary, 2, 0); err != nil {
		t.Fatalf("MoveSlot: %v", err)
	}
	q, _ := rig.coord.View().queueFor(models.TargetCastle, models.QueuePrimary)
	want := []uuid.UUID{ids[2], ids[0], ids[1]}
	for i, slot := range q.Queue.Slots {
		if slot.ActorID != want[i] {
			t.Errorf("slot %d = %s, want %s", i, slot.Name, want[i])
		}
	}

	if err := rig.coord.MoveSlot(ctx, models.TargetCastle, models.QueuePrimary, 0, 9); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("out-of-range move err = %v, want ErrSlotNotFound", err)
	}
}

func TestBuffExpiryRevertsSlotToRegular(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()
	actor := mustAddActor(t, rig.coord, "Ragnar", travelFor(models.TargetCastle, 60, 30))

	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedBuffed); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}
	if _, running := rig.coord.BuffRemaining(actor.ID); !running {
		t.Fatal("buff timer not started by buffed enqueue")
	}

	rig.clock.BlockUntil(1)
	rig.clock.Advance(bufftimer.DefaultDuration + time.Second)

	waitFor(t, "slot reverted to regular", func() bool {
		q, ok := rig.coord.View().queueFor(models.TargetCastle, models.QueuePrimary)
		if !ok || len(q.Queue.Slots) != 1 {
			return false
		}
		slot := q.Queue.Slots[0]
		return slot.Mode == models.SpeedRegular && slot.TravelSeconds == 60
	})
	if _, running := rig.coord.BuffRemaining(actor.ID); running {
		t.Error("buff timer still running after expiry")
	}
}

func TestBuffExpiryDropsSlotWithoutRegularTime(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()
	actor := mustAddActor(t, rig.coord, "Ragnar", travelFor(models.TargetCastle, 0, 30))

	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedBuffed); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}

	rig.clock.BlockUntil(1)
	rig.clock.Advance(bufftimer.DefaultDuration + time.Second)

	waitFor(t, "slot dropped", func() bool {
		q, ok := rig.coord.View().queueFor(models.TargetCastle, models.QueuePrimary)
		return ok && len(q.Queue.Slots) == 0
	})
}

func TestSetSlotModeBackToRegularNeedsConfirm(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()
	actor := mustAddActor(t, rig.coord, "Ragnar", travelFor(models.TargetCastle, 60, 30))

	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedBuffed); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}

	err := rig.coord.SetSlotMode(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular, false)
	if !errors.Is(err, bufftimer.ErrConfirmRequired) {
		t.Fatalf("unconfirmed err = %v, want ErrConfirmRequired", err)
	}

	if err := rig.coord.SetSlotMode(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular, true); err != nil {
		t.Fatalf("confirmed SetSlotMode: %v", err)
	}
	q, _ := rig.coord.View().queueFor(models.TargetCastle, models.QueuePrimary)
	if slot := q.Queue.Slots[0]; slot.Mode != models.SpeedRegular || slot.TravelSeconds != 60 {
		t.Errorf("slot after revert = %+v", slot)
	}
	if _, running := rig.coord.BuffRemaining(actor.ID); running {
		t.Error("buff timer survived confirmed revert")
	}
}

func TestCreateWorkspaceSwitchesToSharedMode(t *testing.T) {
	rig := newRig(t, identity.Identity{ID: "me", Kingdom: 7})
	ctx := context.Background()

	if _, err := rig.coord.CreateWorkspace(ctx, "KvK week 12"); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if got := rig.coord.Mode(); got != ModeShared {
		t.Fatalf("mode = %s, want shared", got)
	}

	// Queue edits now flow through the debounced shared store.
	actor := mustAddActor(t, rig.coord, "Ragnar", travelFor(models.TargetCastle, 40, 0))
	if err := rig.coord.AddToQueue(ctx, models.TargetCastle, models.QueuePrimary, actor.ID, models.SpeedRegular); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}
	rig.clock.BlockUntil(1)
	rig.clock.Advance(time.Second)

	select {
	case q := <-rig.qRepo.upserts:
		if len(q.Slots) != 1 || q.Slots[0].ActorID != actor.ID {
			t.Errorf("flushed queue = %+v", q)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced queue write never reached the repository")
	}

	if err := rig.coord.LeaveWorkspace(ctx); err != nil {
		t.Fatalf("LeaveWorkspace: %v", err)
	}
	if got := rig.coord.Mode(); got != ModeLocal {
		t.Errorf("mode after leave = %s, want local", got)
	}
}

func TestAutoEntersActiveWorkspaceAsViewer(t *testing.T) {
	db, err := localdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	defer db.Close()

	wsRepo := newFakeWorkspaceRepo()
	ws := models.Workspace{
		ID:        uuid.New(),
		Kingdom:   7,
		Name:      "KvK",
		CreatorID: "someone-else",
		Status:    models.WorkspaceActive,
	}
	wsRepo.workspaces[ws.ID] = ws

	coord, err := New(context.Background(), Config{
		Identity:      identity.Identity{ID: "me", Kingdom: 7},
		Gate:          identity.OpenGate{},
		Notifier:      notify.NewRecorder(),
		Feed:          feed.NewMemoryFeed(),
		Clock:         clockwork.NewFakeClock(),
		LocalDB:       db,
		QueueRepo:     newFakeQueueRepo(),
		RosterRepo:    &fakeRosterRepo{},
		WorkspaceRepo: wsRepo,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer coord.Close()

	if got := coord.Mode(); got != ModeShared {
		t.Fatalf("mode = %s, want shared", got)
	}

	// Not the creator and not a captain: every mutation is refused.
	_, err = coord.AddActor(context.Background(), models.Actor{Name: "Ragnar", Faction: models.FactionAlly})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("viewer AddActor err = %v, want ErrReadOnly", err)
	}
}
