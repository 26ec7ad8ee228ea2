package models

import (
	"time"

	"github.com/google/uuid"
)

// Target is one of the fixed set of attackable objectives.
type Target string

const (
	TargetCastle     Target = "castle"
	TargetTurretEast Target = "turret_east"
	TargetTurretWest Target = "turret_west"
	TargetSanctuary  Target = "sanctuary"
)

// AllTargets returns the fixed target set in display order.
func AllTargets() []Target {
	return []Target{TargetCastle, TargetTurretEast, TargetTurretWest, TargetSanctuary}
}

// QueueKind distinguishes the main attack queue from the counter queue.
type QueueKind string

const (
	QueuePrimary QueueKind = "primary"
	QueueCounter QueueKind = "counter"
)

// AllQueueKinds returns the fixed queue kinds.
func AllQueueKinds() []QueueKind {
	return []QueueKind{QueuePrimary, QueueCounter}
}

// QueueKey identifies exactly one queue within a workspace.
type QueueKey struct {
	Target Target    `json:"target"`
	Kind   QueueKind `json:"kind"`
}

// AllQueueKeys returns every (target, kind) combination.
func AllQueueKeys() []QueueKey {
	var keys []QueueKey
	for _, target := range AllTargets() {
		for _, kind := range AllQueueKinds() {
			keys = append(keys, QueueKey{Target: target, Kind: kind})
		}
	}
	return keys
}

// CadenceKind selects how arrivals are spaced.
type CadenceKind string

const (
	CadenceSimultaneous CadenceKind = "simultaneous"
	CadenceInterval     CadenceKind = "interval"
)

// CadencePolicy describes the desired inter-arrival spacing for a queue.
type CadencePolicy struct {
	Kind       CadenceKind `json:"kind"`
	GapSeconds int         `json:"gap_seconds"`
}

// Gap returns the effective inter-arrival gap in seconds.
func (p CadencePolicy) Gap() int {
	if p.Kind == CadenceSimultaneous {
		return 0
	}
	return p.GapSeconds
}

// QueueSlot is one actor's entry in an ordered attack queue. Name and travel
// time are denormalized at insertion time; a slot is a snapshot, not a live
// join against the roster.
type QueueSlot struct {
	ActorID       uuid.UUID `json:"actor_id"`
	Name          string    `json:"name"`
	TravelSeconds int       `json:"travel_seconds"`
	Faction       Faction   `json:"faction"`
	Mode          SpeedMode `json:"mode"`
}

// Queue holds the ordered attack plan for one (target, kind) pair, plus the
// provenance of the last write for self-echo suppression.
type Queue struct {
	Key          QueueKey      `json:"key"`
	Slots        []QueueSlot   `json:"slots"`
	Cadence      CadencePolicy `json:"cadence"`
	LastWriterID string        `json:"last_writer_id"`
	LastWriteAt  time.Time     `json:"last_write_at"`
}

// EmptyQueue returns an initialized queue for a key with simultaneous cadence.
func EmptyQueue(key QueueKey) Queue {
	return Queue{
		Key:     key,
		Slots:   []QueueSlot{},
		Cadence: CadencePolicy{Kind: CadenceSimultaneous},
	}
}
