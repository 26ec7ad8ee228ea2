package models

import (
	"time"

	"github.com/google/uuid"
)

// Faction identifies which side of the kingdom an actor marches for.
type Faction string

const (
	FactionAlly  Faction = "ally"
	FactionEnemy Faction = "enemy"
)

// SpeedMode selects which travel-time column applies to a march.
type SpeedMode string

const (
	SpeedRegular SpeedMode = "regular"
	SpeedBuffed  SpeedMode = "buffed"
)

// TravelTimes holds an actor's march durations in seconds, keyed by target
// and speed mode. A value of 0 means the time was never measured and the
// actor cannot be queued against that target in that mode.
type TravelTimes map[Target]map[SpeedMode]int

// Seconds returns the travel time for a target/mode pair, or 0 if unset.
func (t TravelTimes) Seconds(target Target, mode SpeedMode) int {
	if t == nil {
		return 0
	}
	return t[target][mode]
}

// Set records a travel time, allocating nested maps as needed.
func (t TravelTimes) Set(target Target, mode SpeedMode, seconds int) {
	if t[target] == nil {
		t[target] = make(map[SpeedMode]int)
	}
	t[target][mode] = seconds
}

// Clone returns a deep copy of the table.
func (t TravelTimes) Clone() TravelTimes {
	out := make(TravelTimes, len(t))
	for target, modes := range t {
		m := make(map[SpeedMode]int, len(modes))
		for mode, secs := range modes {
			m[mode] = secs
		}
		out[target] = m
	}
	return out
}

// Actor is a game account with per-target travel-time data. Actors belong to
// the active workspace in shared mode, or to the local client otherwise.
type Actor struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Faction     Faction     `json:"faction"`
	TravelTimes TravelTimes `json:"travel_times"`
	OwnerID     string      `json:"owner_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
