package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awynne3/rallyhq/go/internal/bufftimer"
	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/awynne3/rallyhq/go/internal/queue"
	"github.com/awynne3/rallyhq/go/internal/timing"
	"github.com/awynne3/rallyhq/go/internal/workspace"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownActor means the referenced actor is not in the roster.
	ErrUnknownActor = errors.New("actor not found in roster")

	// ErrNoTravelTime means the actor has no measured travel time for the
	// requested target and speed mode, so it cannot be scheduled there.
	ErrNoTravelTime = errors.New("actor has no travel time for this target and mode")

	// ErrAlreadyQueued means the actor already holds a slot in that queue.
	ErrAlreadyQueued = errors.New("actor is already in this queue")

	// ErrSlotNotFound means a queue edit referenced a slot that is not there.
	ErrSlotNotFound = errors.New("queue slot not found")
)

// Roster returns the current actor set.
func (c *Coordinator) Roster() []models.Actor {
	r, _ := c.stores()
	return r.Actors()
}

// Actor looks up one roster entry.
func (c *Coordinator) Actor(id uuid.UUID) (models.Actor, bool) {
	r, _ := c.stores()
	return r.Get(id)
}

// AddActor adds a roster entry.
func (c *Coordinator) AddActor(ctx context.Context, actor models.Actor) (models.Actor, error) {
	if err := c.canMutate(); err != nil {
		return models.Actor{}, err
	}
	r, _ := c.stores()
	return r.Add(ctx, actor)
}

// UpdateActor rewrites a roster entry. Queue slots referencing the actor keep
// their snapshot values; new travel times apply from the next enqueue.
func (c *Coordinator) UpdateActor(ctx context.Context, actor models.Actor) error {
	if err := c.canMutate(); err != nil {
		return err
	}
	r, _ := c.stores()
	return r.Update(ctx, actor)
}

// RemoveActor deletes a roster entry and cascades: its slots are removed from
// every queue and any running buff timer is cancelled. The roster delete goes
// first; a rejected delete must not leave queues stripped of an actor that
// still exists.
func (c *Coordinator) RemoveActor(ctx context.Context, id uuid.UUID) error {
	if err := c.canMutate(); err != nil {
		return err
	}
	r, q := c.stores()

	if err := r.Remove(ctx, id); err != nil {
		return err
	}

	for _, queueState := range q.Snapshot() {
		filtered := withoutActor(queueState.Slots, id)
		if len(filtered) == len(queueState.Slots) {
			continue
		}
		if err := q.UpdateSlots(ctx, queueState.Key.Target, queueState.Key.Kind, filtered); err != nil {
			return fmt.Errorf("cascade actor removal to %s/%s: %w", queueState.Key.Target, queueState.Key.Kind, err)
		}
	}

	// The timer is meaningless once the actor is gone; skip the confirm.
	_ = c.buffs.Stop(id, true)

	return nil
}

// DuplicateActor clones an actor under a "(copy)" name. Queue membership and
// buff timers do not carry over.
func (c *Coordinator) DuplicateActor(ctx context.Context, id uuid.UUID) (models.Actor, error) {
	if err := c.canMutate(); err != nil {
		return models.Actor{}, err
	}
	r, _ := c.stores()
	return r.Duplicate(ctx, id)
}

// ExportRoster serializes the roster for sharing between clients.
func (c *Coordinator) ExportRoster() ([]byte, error) {
	r, _ := c.stores()
	return r.ExportAll()
}

// ImportRoster merges a serialized roster, skipping invalid and duplicate
// records, and reports the counts.
func (c *Coordinator) ImportRoster(ctx context.Context, data []byte) (ImportSummary, error) {
	if err := c.canMutate(); err != nil {
		return ImportSummary{}, err
	}
	r, _ := c.stores()
	report, err := r.ImportAll(ctx, data)
	if err != nil {
		notify.Error(c.cfg.Notifier, "Roster import failed. The file could not be read.")
		return ImportSummary{}, err
	}
	notify.Success(c.cfg.Notifier, fmt.Sprintf("Imported %d actors, skipped %d.", report.Imported, report.Skipped))
	return ImportSummary{Imported: report.Imported, Skipped: report.Skipped}, nil
}

// ImportSummary mirrors the roster import counts at the action surface.
type ImportSummary struct {
	Imported int
	Skipped  int
}

// AddToQueue appends an actor to a queue, snapshotting its name, faction,
// and travel time for the chosen speed mode. Enqueuing in buffed mode starts
// (or restarts) the actor's buff timer.
func (c *Coordinator) AddToQueue(ctx context.Context, target models.Target, kind models.QueueKind, actorID uuid.UUID, mode models.SpeedMode) error {
	if err := c.canMutate(); err != nil {
		return err
	}
	r, q := c.stores()

	actor, ok := r.Get(actorID)
	if !ok {
		return ErrUnknownActor
	}
	travel := actor.TravelTimes.Seconds(target, mode)
	if travel <= 0 {
		notify.Error(c.cfg.Notifier, fmt.Sprintf("%s has no %s travel time for %s.", actor.Name, mode, target))
		return ErrNoTravelTime
	}

	slots := currentSlots(q, target, kind)
	for _, slot := range slots {
		if slot.ActorID == actorID {
			return ErrAlreadyQueued
		}
	}
	slots = append(slots, models.QueueSlot{
		ActorID:       actorID,
		Name:          actor.Name,
		Faction:       actor.Faction,
		Mode:          mode,
		TravelSeconds: travel,
	})

	if err := q.UpdateSlots(ctx, target, kind, slots); err != nil {
		return err
	}
	if mode == models.SpeedBuffed {
		c.buffs.Start(actorID)
	}
	return nil
}

// RemoveFromQueue drops an actor's slot from one queue. The buff timer keeps
// running; the actor may still hold buffed slots elsewhere.
func (c *Coordinator) RemoveFromQueue(ctx context.Context, target models.Target, kind models.QueueKind, actorID uuid.UUID) error {
	if err := c.canMutate(); err != nil {
		return err
	}
	_, q := c.stores()

	slots := currentSlots(q, target, kind)
	filtered := withoutActor(slots, actorID)
	if len(filtered) == len(slots) {
		return ErrSlotNotFound
	}
	return q.UpdateSlots(ctx, target, kind, filtered)
}

// MoveSlot reorders one queue by moving the slot at index from to index to.
func (c *Coordinator) MoveSlot(ctx context.Context, target models.Target, kind models.QueueKind, from, to int) error {
	if err := c.canMutate(); err != nil {
		return err
	}
	_, q := c.stores()

	slots := currentSlots(q, target, kind)
	if from < 0 || from >= len(slots) || to < 0 || to >= len(slots) {
		return ErrSlotNotFound
	}
	if from == to {
		return nil
	}
	moved := slots[from]
	slots = append(slots[:from], slots[from+1:]...)
	slots = append(slots[:to], append([]models.QueueSlot{moved}, slots[to:]...)...)
	return q.UpdateSlots(ctx, target, kind, slots)
}

// SetCadence replaces one queue's arrival spacing policy.
func (c *Coordinator) SetCadence(ctx context.Context, target models.Target, kind models.QueueKind, policy models.CadencePolicy) error {
	if err := c.canMutate(); err != nil {
		return err
	}
	if policy.Kind == models.CadenceInterval && policy.GapSeconds <= 0 {
		return fmt.Errorf("interval cadence needs a positive gap, got %d", policy.GapSeconds)
	}
	_, q := c.stores()
	return q.UpdateCadence(ctx, target, kind, policy)
}

// SetSlotMode flips one slot between regular and buffed travel. Switching to
// buffed starts (or restarts) the actor's timer; switching back to regular
// on a running timer requires confirmation, since the elapsed progress is
// lost for good.
func (c *Coordinator) SetSlotMode(ctx context.Context, target models.Target, kind models.QueueKind, actorID uuid.UUID, mode models.SpeedMode, confirmed bool) error {
	if err := c.canMutate(); err != nil {
		return err
	}
	r, q := c.stores()

	actor, ok := r.Get(actorID)
	if !ok {
		return ErrUnknownActor
	}
	travel := actor.TravelTimes.Seconds(target, mode)
	if travel <= 0 {
		notify.Error(c.cfg.Notifier, fmt.Sprintf("%s has no %s travel time for %s.", actor.Name, mode, target))
		return ErrNoTravelTime
	}

	if mode == models.SpeedRegular {
		if err := c.buffs.Stop(actorID, confirmed); err != nil {
			return err
		}
	}

	slots := currentSlots(q, target, kind)
	found := false
	for i := range slots {
		if slots[i].ActorID == actorID {
			slots[i].Mode = mode
			slots[i].TravelSeconds = travel
			found = true
			break
		}
	}
	if !found {
		return ErrSlotNotFound
	}
	if err := q.UpdateSlots(ctx, target, kind, slots); err != nil {
		return err
	}
	if mode == models.SpeedBuffed {
		c.buffs.Start(actorID)
	}
	return nil
}

// BuffRemaining reports how long an actor's buff has left, if one is running.
func (c *Coordinator) BuffRemaining(actorID uuid.UUID) (time.Duration, bool) {
	return c.buffs.Remaining(actorID)
}

// handleBuffExpiry runs when an actor's buff times out: every buffed slot of
// that actor reverts to its regular travel time, or drops out of the queue
// when no regular time is measured.
func (c *Coordinator) handleBuffExpiry(actorID uuid.UUID) (out bufftimer.Expired) {
	ctx := context.Background()
	r, q := c.stores()

	actor, known := r.Get(actorID)
	out = bufftimer.Expired{Name: actor.Name, Faction: actor.Faction, Known: known}

	for _, queueState := range q.Snapshot() {
		next := make([]models.QueueSlot, 0, len(queueState.Slots))
		changed := false
		for _, slot := range queueState.Slots {
			if slot.ActorID != actorID || slot.Mode != models.SpeedBuffed {
				next = append(next, slot)
				continue
			}
			changed = true
			regular := actor.TravelTimes.Seconds(queueState.Key.Target, models.SpeedRegular)
			if regular <= 0 {
				continue // no fallback time, the slot cannot stay
			}
			slot.Mode = models.SpeedRegular
			slot.TravelSeconds = regular
			next = append(next, slot)
		}
		if !changed {
			continue
		}
		if err := q.UpdateSlots(ctx, queueState.Key.Target, queueState.Key.Kind, next); err != nil {
			log.Error().Err(err).
				Str("target", string(queueState.Key.Target)).
				Str("kind", string(queueState.Key.Kind)).
				Msg("revert buffed slots after expiry")
		}
	}
	return out
}

// ScheduleFor derives the launch schedule for one queue from its slot order
// and cadence policy.
func (c *Coordinator) ScheduleFor(target models.Target, kind models.QueueKind) []timing.ScheduledSlot {
	_, q := c.stores()
	queueState, ok := q.Queue(target, kind)
	if !ok {
		return nil
	}
	return timing.Schedule(queueState.Slots, queueState.Cadence.Gap())
}

// QueueView pairs one queue's state with its derived schedule.
type QueueView struct {
	Queue    models.Queue
	Schedule []timing.ScheduledSlot
}

// View is the read model the presentation layer renders from.
type View struct {
	Mode      Mode
	State     workspace.State
	Workspace *models.Workspace
	Captains  []models.Captain
	Roster    []models.Actor
	Queues    []QueueView
	ReadOnly  bool
}

// queueFor finds one queue's view by key.
func (v View) queueFor(target models.Target, kind models.QueueKind) (QueueView, bool) {
	for _, qv := range v.Queues {
		if qv.Queue.Key.Target == target && qv.Queue.Key.Kind == kind {
			return qv, true
		}
	}
	return QueueView{}, false
}

// View assembles the full read model in one call.
func (c *Coordinator) View() View {
	r, q := c.stores()

	v := View{
		Mode:   c.Mode(),
		State:  c.session.State(),
		Roster: r.Actors(),
	}
	if ws, open := c.session.Current(); open {
		v.Workspace = &ws
		v.Captains = c.session.Captains()
		v.ReadOnly = c.session.IsReadOnly()
	}
	for _, queueState := range q.Snapshot() {
		v.Queues = append(v.Queues, QueueView{
			Queue:    queueState,
			Schedule: timing.Schedule(queueState.Slots, queueState.Cadence.Gap()),
		})
	}
	return v
}

func currentSlots(q queue.Store, target models.Target, kind models.QueueKind) []models.QueueSlot {
	queueState, ok := q.Queue(target, kind)
	if !ok {
		return nil
	}
	return queueState.Slots
}

func withoutActor(slots []models.QueueSlot, actorID uuid.UUID) []models.QueueSlot {
	out := make([]models.QueueSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.ActorID != actorID {
			out = append(out, slot)
		}
	}
	return out
}
