// Package session owns the authoritative mutable state of the core: at most
// one ACTIVE session per user, everything else immutable history.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-presence/internal/models"
)

// ErrAlreadyActive rejects a start while a session is still ACTIVE. It is an
// idempotency rejection, not a fault: the existing session stays untouched.
var ErrAlreadyActive = errors.New("session already active")

// Store defines persistence operations for sessions. Mutations for one user
// are linearizable with respect to each other; different users may proceed
// in parallel.
type Store interface {
	// Start creates a new ACTIVE session. Fails with ErrAlreadyActive if one
	// already exists for the user.
	Start(ctx context.Context, userID string, role models.Role, locationRefID string) (*models.Session, error)
	// Stop ends the user's ACTIVE session and returns it, or returns
	// (nil, nil) when there is none. Idempotent.
	Stop(ctx context.Context, userID string) (*models.Session, error)
	// UpdateLocation moves the ACTIVE session to a new location ref and
	// reports whether anything changed.
	UpdateLocation(ctx context.Context, userID, locationRefID string) (bool, error)
	// GetActive returns the user's ACTIVE session or (nil, nil).
	GetActive(ctx context.Context, userID string) (*models.Session, error)
	// GetLast returns the user's most recent session regardless of state,
	// or (nil, nil) if the user never had one.
	GetLast(ctx context.Context, userID string) (*models.Session, error)
	// ActiveByLocation groups ACTIVE sessions of one role by location ref.
	// Within a group, sessions are ordered by StartedAt ascending.
	ActiveByLocation(ctx context.Context, role models.Role) (map[string][]*models.Session, error)
	// ActiveSessions lists all ACTIVE sessions of one role.
	ActiveSessions(ctx context.Context, role models.Role) ([]*models.Session, error)
}

// MemoryStore keeps sessions in process memory. The map lock only guards
// slot lookup; each user slot carries its own mutex so mutations for
// different users never contend.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*userSlot

	now func() time.Time
}

type userSlot struct {
	mu     sync.Mutex
	active *models.Session
	last   *models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*userSlot), now: time.Now}
}

func (s *MemoryStore) slot(userID string) *userSlot {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return u
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok = s.users[userID]; ok {
		return u
	}
	u = &userSlot{}
	s.users[userID] = u
	return u
}

func (s *MemoryStore) Start(ctx context.Context, userID string, role models.Role, locationRefID string) (*models.Session, error) {
	u := s.slot(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active != nil {
		return nil, ErrAlreadyActive
	}
	now := s.now()
	sess := &models.Session{
		ID:                   uuid.NewString(),
		UserID:               userID,
		Role:                 role,
		State:                models.StateActive,
		LocationRefID:        locationRefID,
		StartedAt:            now,
		LastLocationUpdateAt: now,
	}
	u.active = sess
	u.last = sess
	return copySession(sess), nil
}

func (s *MemoryStore) Stop(ctx context.Context, userID string) (*models.Session, error) {
	u := s.slot(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active == nil {
		return nil, nil
	}
	u.active.State = models.StateEnded
	u.active.EndedAt = s.now()
	ended := u.active
	u.active = nil
	return copySession(ended), nil
}

func (s *MemoryStore) UpdateLocation(ctx context.Context, userID, locationRefID string) (bool, error) {
	u := s.slot(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active == nil || u.active.LocationRefID == locationRefID {
		return false, nil
	}
	u.active.LocationRefID = locationRefID
	u.active.LastLocationUpdateAt = s.now()
	return true, nil
}

func (s *MemoryStore) GetActive(ctx context.Context, userID string) (*models.Session, error) {
	u := s.slot(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return copySession(u.active), nil
}

func (s *MemoryStore) GetLast(ctx context.Context, userID string) (*models.Session, error) {
	u := s.slot(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return copySession(u.last), nil
}

func (s *MemoryStore) ActiveByLocation(ctx context.Context, role models.Role) (map[string][]*models.Session, error) {
	active, err := s.ActiveSessions(ctx, role)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*models.Session)
	for _, sess := range active {
		out[sess.LocationRefID] = append(out[sess.LocationRefID], sess)
	}
	return out, nil
}

func (s *MemoryStore) ActiveSessions(ctx context.Context, role models.Role) ([]*models.Session, error) {
	s.mu.RLock()
	slots := make([]*userSlot, 0, len(s.users))
	for _, u := range s.users {
		slots = append(slots, u)
	}
	s.mu.RUnlock()

	var out []*models.Session
	for _, u := range slots {
		u.mu.Lock()
		if u.active != nil && u.active.Role == role {
			out = append(out, copySession(u.active))
		}
		u.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// copySession hands callers their own copy so store state can never be
// mutated from outside the slot lock.
func copySession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
