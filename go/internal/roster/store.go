// Package roster manages the actor (player) set behind one Store interface
// with a client-local and a shared-workspace backing. Roster edits are
// infrequent, so shared-mode writes go straight to the persistence layer
// with no debounce; last-writer-wins is acceptable here.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/google/uuid"
)

// Store is the roster surface the coordinator works against.
type Store interface {
	Actors() []models.Actor
	Get(id uuid.UUID) (models.Actor, bool)

	// Add persists a new actor and returns it with identity and timestamps
	// filled in.
	Add(ctx context.Context, actor models.Actor) (models.Actor, error)
	Update(ctx context.Context, actor models.Actor) error

	// Remove deletes the actor. Removing it from queues that reference it
	// is the coordinator's cascade, not the store's.
	Remove(ctx context.Context, id uuid.UUID) error

	// Duplicate clones an actor under a new identity with a "(copy)" name
	// suffix. Queue membership is not copied.
	Duplicate(ctx context.Context, id uuid.UUID) (models.Actor, error)

	ExportAll() ([]byte, error)
	ImportAll(ctx context.Context, data []byte) (ImportReport, error)

	Close()
}

// ImportReport counts the outcome of an ImportAll: structurally invalid and
// duplicate records both land in Skipped.
type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// actorRecord is the serialized export/import shape. Unknown extra fields
// are tolerated on import.
type actorRecord struct {
	Name        string             `json:"name"`
	Faction     models.Faction     `json:"faction"`
	TravelTimes models.TravelTimes `json:"travel_times"`
}

func (r actorRecord) valid() bool {
	if r.Name == "" {
		return false
	}
	return r.Faction == models.FactionAlly || r.Faction == models.FactionEnemy
}

// memory is the in-process actor map shared by both store backings.
type memory struct {
	mu     sync.RWMutex
	actors map[uuid.UUID]models.Actor
}

func newMemory() memory {
	return memory{actors: make(map[uuid.UUID]models.Actor)}
}

func (m *memory) list() []models.Actor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, a)
	}
	return out
}

func (m *memory) get(id uuid.UUID) (models.Actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[id]
	return a, ok
}

func (m *memory) put(a models.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.ID] = a
}

func (m *memory) remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actors, id)
}

func (m *memory) hasNameFaction(name string, faction models.Faction) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.actors {
		if a.Name == name && a.Faction == faction {
			return true
		}
	}
	return false
}

// exportActors serializes the roster in the import/export format.
func exportActors(actors []models.Actor) ([]byte, error) {
	records := make([]actorRecord, len(actors))
	for i, a := range actors {
		records[i] = actorRecord{Name: a.Name, Faction: a.Faction, TravelTimes: a.TravelTimes}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export roster: %w", err)
	}
	return data, nil
}

// importAll decodes a serialized actor list and adds what survives
// validation and duplicate checks. Malformed payloads fail before any
// mutation; malformed records and (name, faction) duplicates are skipped
// and counted.
func importAll(ctx context.Context, s Store, mem *memory, data []byte) (ImportReport, error) {
	var records []actorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return ImportReport{}, fmt.Errorf("malformed roster import payload: %w", err)
	}

	var report ImportReport
	for _, rec := range records {
		if !rec.valid() {
			report.Skipped++
			continue
		}
		if mem.hasNameFaction(rec.Name, rec.Faction) {
			report.Skipped++
			continue
		}
		travel := rec.TravelTimes
		if travel == nil {
			travel = models.TravelTimes{}
		}
		if _, err := s.Add(ctx, models.Actor{
			Name:        rec.Name,
			Faction:     rec.Faction,
			TravelTimes: travel,
		}); err != nil {
			return report, fmt.Errorf("import actor %q: %w", rec.Name, err)
		}
		report.Imported++
	}
	return report, nil
}

// duplicateActor builds the clone that Duplicate persists.
func duplicateActor(src models.Actor) models.Actor {
	return models.Actor{
		Name:        src.Name + " (copy)",
		Faction:     src.Faction,
		TravelTimes: src.TravelTimes.Clone(),
		OwnerID:     src.OwnerID,
	}
}
