// Package bufftimer tracks per-actor march-buff countdowns. Timers are
// client-local: each captain tracks their own call timing, and the map is
// never part of the shared workspace state.
package bufftimer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultDuration is how long a march buff lasts.
const DefaultDuration = 2 * time.Hour

// ErrConfirmRequired guards against accidentally discarding a running
// timer's progress: stopping one needs an explicit confirm, there is no
// undo.
var ErrConfirmRequired = errors.New("stopping a running buff timer requires confirmation")

// Expired is what the expiry hook reports back about an actor so the
// subsystem can cue and notify appropriately.
type Expired struct {
	Name    string
	Faction models.Faction
	Known   bool
}

// Cue plays the faction-distinct audio/vibration signal on expiry.
type Cue interface {
	Play(faction models.Faction)
}

// Config wires a Subsystem. OnExpire is called for each expired actor; the
// coordinator uses it to revert buffed queue slots to regular travel times
// (or drop them when none is configured).
type Config struct {
	Clock    clockwork.Clock
	Notifier notify.Notifier
	Cue      Cue
	OnExpire func(actorID uuid.UUID) Expired
	Duration time.Duration
}

// Subsystem owns the actorID → expiry map and its 1-second tick. The tick
// goroutine runs only while the map is non-empty; an idle subsystem costs
// nothing.
type Subsystem struct {
	clock    clockwork.Clock
	notifier notify.Notifier
	cue      Cue
	onExpire func(actorID uuid.UUID) Expired
	duration time.Duration

	mu       sync.Mutex
	expiries map[uuid.UUID]time.Time
	stop     chan struct{}
	closed   bool
}

// New builds an idle subsystem.
func New(cfg Config) *Subsystem {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.OnExpire == nil {
		cfg.OnExpire = func(uuid.UUID) Expired { return Expired{} }
	}
	return &Subsystem{
		clock:    cfg.Clock,
		notifier: cfg.Notifier,
		cue:      cfg.Cue,
		onExpire: cfg.OnExpire,
		duration: cfg.Duration,
		expiries: make(map[uuid.UUID]time.Time),
	}
}

// Start begins (or restarts) an actor's buff countdown at the full duration.
func (s *Subsystem) Start(actorID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.expiries[actorID] = s.clock.Now().Add(s.duration)
	if s.stop == nil {
		s.stop = make(chan struct{})
		go s.run(s.stop)
	}
}

// Stop cancels an actor's countdown. A running timer is only stopped when
// confirmed, since its elapsed progress cannot be recovered.
func (s *Subsystem) Stop(actorID uuid.UUID, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.expiries[actorID]; !running {
		return nil
	}
	if !confirmed {
		return ErrConfirmRequired
	}
	delete(s.expiries, actorID)
	s.stopTickerLocked()
	return nil
}

// Remaining returns how long an actor's buff has left.
func (s *Subsystem) Remaining(actorID uuid.UUID) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.expiries[actorID]
	if !ok {
		return 0, false
	}
	rem := expiry.Sub(s.clock.Now())
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// Active reports whether an actor has a running timer.
func (s *Subsystem) Active(actorID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.expiries[actorID]
	return ok
}

// Close stops the tick and drops all timers.
func (s *Subsystem) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.expiries = make(map[uuid.UUID]time.Time)
	s.stopTickerLocked()
}

func (s *Subsystem) stopTickerLocked() {
	if len(s.expiries) == 0 && s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Subsystem) run(stop chan struct{}) {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.tick()
		}
	}
}

func (s *Subsystem) tick() {
	now := s.clock.Now()

	s.mu.Lock()
	var expired []uuid.UUID
	for id, expiry := range s.expiries {
		if !expiry.After(now) {
			expired = append(expired, id)
			delete(s.expiries, id)
		}
	}
	s.stopTickerLocked()
	s.mu.Unlock()

	for _, id := range expired {
		info := s.onExpire(id)
		if !info.Known {
			continue
		}
		if s.cue != nil {
			s.cue.Play(info.Faction)
		}
		if s.notifier != nil {
			notify.Info(s.notifier, fmt.Sprintf("%s's march buff has expired.", info.Name))
		}
	}
}
