// Package workspace owns the lifecycle of the shared collaborative session:
// create, archive, reactivate, delete, captain role assignments, and the
// derivation of whether the current identity may edit.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/awynne3/rallyhq/go/internal/faults"
	"github.com/awynne3/rallyhq/go/internal/feed"
	"github.com/awynne3/rallyhq/go/internal/identity"
	"github.com/awynne3/rallyhq/go/internal/models"
	"github.com/awynne3/rallyhq/go/internal/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is the session lifecycle state.
type State string

const (
	StateNoSession State = "no-session"
	StateLoading   State = "loading"
	StateActive    State = "active"
	StateArchived  State = "archived"
)

// ErrNoWorkspace is returned by mutations that need an open workspace.
var ErrNoWorkspace = errors.New("no workspace is open")

// ErrReadOnly is returned when a mutation hits an archived workspace.
var ErrReadOnly = errors.New("workspace is archived and read-only")

// Repository is what the session needs from Postgres. CreateWorkspace
// eagerly creates one empty queue row per key in the same transaction, so a
// fresh workspace always has its full (target, kind) grid.
type Repository interface {
	CreateWorkspace(ctx context.Context, ws models.Workspace, queueKeys []models.QueueKey) error
	ListWorkspaces(ctx context.Context, kingdom int) ([]models.Workspace, error)
	UpdateWorkspaceStatus(ctx context.Context, id uuid.UUID, status models.WorkspaceStatus) error
	DeleteWorkspace(ctx context.Context, id uuid.UUID) error

	UpsertCaptain(ctx context.Context, c models.Captain) (models.Captain, error)
	UpdateCaptainTarget(ctx context.Context, id uuid.UUID, target *models.Target) error
	RemoveCaptain(ctx context.Context, id uuid.UUID) error
	ListCaptains(ctx context.Context, workspaceID uuid.UUID) ([]models.Captain, error)
}

// Session tracks the open workspace for one client.
type Session struct {
	repo     Repository
	feed     feed.Feed
	notifier notify.Notifier
	self     identity.Identity

	mu          sync.Mutex
	state       State
	current     *models.Workspace
	captains    map[uuid.UUID]models.Captain
	readOnly    bool
	unsubscribe func()
}

// NewSession starts in the no-session state.
func NewSession(repo Repository, f feed.Feed, notifier notify.Notifier, self identity.Identity) *Session {
	return &Session{
		repo:     repo,
		feed:     f,
		notifier: notifier,
		self:     self,
		state:    StateNoSession,
		captains: make(map[uuid.UUID]models.Captain),
	}
}

// Load lists the kingdom's workspaces and auto-opens the active one, if any.
// At most one workspace is auto-selected; the rest stay selectable.
func (s *Session) Load(ctx context.Context) ([]models.Workspace, error) {
	s.mu.Lock()
	s.state = StateLoading
	s.mu.Unlock()

	workspaces, err := s.repo.ListWorkspaces(ctx, s.self.Kingdom)
	if err != nil {
		s.mu.Lock()
		s.state = StateNoSession
		s.mu.Unlock()
		return nil, fmt.Errorf("list workspaces: %w", err)
	}

	var open *models.Workspace
	for i := range workspaces {
		if workspaces[i].Status == models.WorkspaceActive {
			open = &workspaces[i]
			break
		}
	}
	if open == nil {
		s.mu.Lock()
		s.state = StateNoSession
		s.mu.Unlock()
		return workspaces, nil
	}

	if err := s.Open(ctx, *open); err != nil {
		return workspaces, err
	}
	return workspaces, nil
}

// Create persists a new active workspace with its full queue grid and opens
// it.
func (s *Session) Create(ctx context.Context, name string) (models.Workspace, error) {
	if name == "" {
		return models.Workspace{}, fmt.Errorf("workspace name is required")
	}

	ws := models.Workspace{
		ID:        uuid.New(),
		Kingdom:   s.self.Kingdom,
		Name:      name,
		CreatorID: s.self.ID,
		Status:    models.WorkspaceActive,
	}
	if err := s.classified(s.repo.CreateWorkspace(ctx, ws, models.AllQueueKeys())); err != nil {
		return models.Workspace{}, err
	}
	if err := s.Open(ctx, ws); err != nil {
		return models.Workspace{}, err
	}
	notify.Success(s.notifier, fmt.Sprintf("Workspace %q created.", name))
	return ws, nil
}

// Open makes a workspace the current session, loading its captains and
// subscribing to captain changes. Any previously open subscription is torn
// down first.
func (s *Session) Open(ctx context.Context, ws models.Workspace) error {
	captains, err := s.repo.ListCaptains(ctx, ws.ID)
	if err != nil {
		return fmt.Errorf("load captains: %w", err)
	}

	unsubscribe, err := s.feed.Subscribe(ctx, ws.ID, feed.TableCaptains, s.handleCaptainEvent)
	if err != nil {
		return fmt.Errorf("subscribe captain feed: %w", err)
	}

	s.mu.Lock()
	prev := s.unsubscribe
	s.unsubscribe = unsubscribe
	s.current = &ws
	s.captains = make(map[uuid.UUID]models.Captain, len(captains))
	for _, c := range captains {
		s.captains[c.ID] = c
	}
	if ws.Status == models.WorkspaceArchived {
		s.state = StateArchived
	} else {
		s.state = StateActive
	}
	s.deriveReadOnlyLocked()
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	return nil
}

// Close leaves the current workspace and returns to no-session.
func (s *Session) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.current = nil
	s.captains = make(map[uuid.UUID]models.Captain)
	s.state = StateNoSession
	s.readOnly = false
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Archive flips a workspace to archived. If it is the open one, the session
// becomes read-only immediately, without waiting for the round trip to be
// reflected back; a rejected remote write reverts the local flip, since the
// persistence layer's policy remains the authority.
func (s *Session) Archive(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	var revert func()
	if s.current != nil && s.current.ID == id {
		prevStatus := s.current.Status
		prevState := s.state
		prevReadOnly := s.readOnly
		s.current.Status = models.WorkspaceArchived
		s.state = StateArchived
		s.readOnly = true
		revert = func() {
			s.mu.Lock()
			if s.current != nil && s.current.ID == id {
				s.current.Status = prevStatus
				s.state = prevState
				s.readOnly = prevReadOnly
			}
			s.mu.Unlock()
		}
	}
	s.mu.Unlock()

	if err := s.classified(s.repo.UpdateWorkspaceStatus(ctx, id, models.WorkspaceArchived)); err != nil {
		if revert != nil {
			revert()
		}
		return err
	}
	notify.Info(s.notifier, "Workspace archived. It is now read-only.")
	return nil
}

// Activate flips a workspace back to active.
func (s *Session) Activate(ctx context.Context, id uuid.UUID) error {
	if err := s.classified(s.repo.UpdateWorkspaceStatus(ctx, id, models.WorkspaceActive)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == id {
		s.current.Status = models.WorkspaceActive
		s.state = StateActive
		s.deriveReadOnlyLocked()
	}
	s.mu.Unlock()
	return nil
}

// Delete removes a workspace for good. Deleting the open workspace drops the
// session back to no-session.
func (s *Session) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.classified(s.repo.DeleteWorkspace(ctx, id)); err != nil {
		return err
	}

	s.mu.Lock()
	wasOpen := s.current != nil && s.current.ID == id
	s.mu.Unlock()
	if wasOpen {
		s.Close()
	}
	notify.Info(s.notifier, "Workspace deleted.")
	return nil
}

// AddCaptain grants an identity captain rights, optionally scoped to one
// target. Re-adding an existing captain reassigns its target instead of
// erroring.
func (s *Session) AddCaptain(ctx context.Context, identityID string, target *models.Target) (models.Captain, error) {
	s.mu.Lock()
	current := s.current
	readOnly := s.readOnly
	s.mu.Unlock()

	if current == nil {
		return models.Captain{}, ErrNoWorkspace
	}
	if readOnly && current.Status == models.WorkspaceArchived {
		return models.Captain{}, ErrReadOnly
	}

	c, err := s.repo.UpsertCaptain(ctx, models.Captain{
		ID:          uuid.New(),
		WorkspaceID: current.ID,
		IdentityID:  identityID,
		Target:      target,
	})
	if err != nil {
		err = faults.Classify(err)
		if !errors.Is(err, faults.ErrConflict) {
			return models.Captain{}, s.reported(err)
		}
		// Benign: a concurrent add won the race. Pick up the winning row.
		log.Debug().Str("identity_id", identityID).Msg("captain re-assignment")
		captains, listErr := s.repo.ListCaptains(ctx, current.ID)
		if listErr != nil {
			return models.Captain{}, fmt.Errorf("reload captains: %w", listErr)
		}
		for _, existing := range captains {
			if existing.IdentityID == identityID {
				c = existing
				break
			}
		}
	}

	s.mu.Lock()
	s.captains[c.ID] = c
	s.deriveReadOnlyLocked()
	s.mu.Unlock()

	s.publishCaptain(ctx, feed.OpUpdate, c)
	notify.Success(s.notifier, "Captain assigned.")
	return c, nil
}

// UpdateCaptainAssignment retargets a captain optimistically, reverting the
// local row if the remote write is rejected. Role changes are low-frequency
// and high-importance, so unlike queue edits they roll back on failure.
func (s *Session) UpdateCaptainAssignment(ctx context.Context, captainID uuid.UUID, target *models.Target) error {
	s.mu.Lock()
	prev, ok := s.captains[captainID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("captain %s not found", captainID)
	}
	next := prev
	next.Target = target
	s.captains[captainID] = next
	s.mu.Unlock()

	if err := s.repo.UpdateCaptainTarget(ctx, captainID, target); err != nil {
		s.mu.Lock()
		s.captains[captainID] = prev
		s.mu.Unlock()
		return s.reported(faults.Classify(err))
	}

	s.publishCaptain(ctx, feed.OpUpdate, next)
	return nil
}

// RemoveCaptain revokes a role assignment.
func (s *Session) RemoveCaptain(ctx context.Context, captainID uuid.UUID) error {
	s.mu.Lock()
	c, ok := s.captains[captainID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("captain %s not found", captainID)
	}

	if err := s.classified(s.repo.RemoveCaptain(ctx, captainID)); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.captains, captainID)
	s.deriveReadOnlyLocked()
	s.mu.Unlock()

	s.publishCaptain(ctx, feed.OpDelete, c)
	return nil
}

// CanEdit reports whether an identity may mutate workspace contents: the
// creator or any captain, except in archived workspaces.
func (s *Session) CanEdit(identityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canEditLocked(identityID)
}

func (s *Session) canEditLocked(identityID string) bool {
	if s.current == nil || s.current.Status == models.WorkspaceArchived {
		return false
	}
	if s.current.CreatorID == identityID {
		return true
	}
	for _, c := range s.captains {
		if c.IdentityID == identityID {
			return true
		}
	}
	return false
}

func (s *Session) deriveReadOnlyLocked() {
	s.readOnly = !s.canEditLocked(s.self.ID)
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the open workspace, if any.
func (s *Session) Current() (models.Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Workspace{}, false
	}
	return *s.current, true
}

// Captains returns the role assignments of the open workspace.
func (s *Session) Captains() []models.Captain {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Captain, 0, len(s.captains))
	for _, c := range s.captains {
		out = append(out, c)
	}
	return out
}

// IsReadOnly reports whether the UI should block mutations for this client.
func (s *Session) IsReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

func (s *Session) publishCaptain(ctx context.Context, op feed.Op, c models.Captain) {
	var payload []byte
	if op != feed.OpDelete {
		var err error
		payload, err = json.Marshal(c)
		if err != nil {
			log.Error().Err(err).Msg("marshal captain change event")
			return
		}
	}
	ev := feed.NewEvent(c.WorkspaceID, feed.TableCaptains, op, c.ID.String(), s.self.ID, payload)
	if err := s.feed.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Msg("publish captain change event")
	}
}

func (s *Session) handleCaptainEvent(ev feed.Event) {
	if ev.WriterID == s.self.ID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Op == feed.OpDelete {
		id, err := uuid.Parse(ev.Key)
		if err != nil {
			return
		}
		delete(s.captains, id)
		s.deriveReadOnlyLocked()
		return
	}

	var c models.Captain
	if err := json.Unmarshal(ev.Payload, &c); err != nil {
		log.Warn().Err(err).Msg("ignoring malformed captain event")
		return
	}
	s.captains[c.ID] = c
	s.deriveReadOnlyLocked()
}

// classified maps, reports, and returns a persistence failure.
func (s *Session) classified(err error) error {
	if err == nil {
		return nil
	}
	return s.reported(faults.Classify(err))
}

func (s *Session) reported(err error) error {
	switch {
	case errors.Is(err, faults.ErrPermissionDenied):
		notify.Error(s.notifier, "Only the workspace creator or a captain can do this.")
	case errors.Is(err, faults.ErrConflict):
		notify.Info(s.notifier, "That assignment already exists; it was updated instead.")
	default:
		log.Error().Err(err).Msg("workspace operation failed")
		notify.Error(s.notifier, "Something went wrong talking to the server. Please try again.")
	}
	return err
}
