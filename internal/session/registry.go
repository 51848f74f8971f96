package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"device-control-relay/internal/domain"
)

var ErrSessionLimit = errors.New("session limit reached")

// Registry tracks every live session by id, by identity and by group. All
// access goes through its methods; the maps are never handed out.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	devices  map[string]*Session
	admins   map[string]map[string]*Session
	groups   map[Group]map[string]*Session

	maxAdminSessions int
	logger           *slog.Logger
}

func NewRegistry(maxAdminSessions int, logger *slog.Logger) *Registry {
	return &Registry{
		sessions:         make(map[string]*Session),
		devices:          make(map[string]*Session),
		admins:           make(map[string]map[string]*Session),
		groups:           make(map[Group]map[string]*Session),
		maxAdminSessions: maxAdminSessions,
		logger:           logger.With("component", "session_registry"),
	}
}

// Register adds s. A device that already has a live session supersedes it:
// the previous session is unregistered, closed and returned.
func (r *Registry) Register(s *Session) (*Session, error) {
	if err := s.Identity.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var superseded *Session
	switch s.Identity.Class() {
	case domain.SessionClassDevice:
		deviceID := s.Identity.Device.DeviceID
		if prev, ok := r.devices[deviceID]; ok {
			r.removeLocked(prev)
			superseded = prev
			r.logger.Info("device session superseded", "device_id", deviceID, "previous_session_id", prev.ID, "session_id", s.ID)
		}
		r.devices[deviceID] = s

	case domain.SessionClassAdmin:
		userID := s.Identity.Admin.UserID
		if r.maxAdminSessions > 0 && len(r.admins[userID]) >= r.maxAdminSessions {
			return nil, fmt.Errorf("user %s: %w", userID, ErrSessionLimit)
		}
		if r.admins[userID] == nil {
			r.admins[userID] = make(map[string]*Session)
		}
		r.admins[userID][s.ID] = s
	}

	r.sessions[s.ID] = s
	r.logger.Debug("session registered", "session_id", s.ID, "identity", s.Identity.String())

	return superseded, nil
}

// Unregister removes and closes the session. It reports false when the
// session was already gone, for example after being superseded or evicted.
func (r *Registry) Unregister(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	r.removeLocked(s)
	r.logger.Debug("session unregistered", "session_id", s.ID, "identity", s.Identity.String())
	return s, true
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.sessions, s.ID)

	switch s.Identity.Class() {
	case domain.SessionClassDevice:
		if cur, ok := r.devices[s.Identity.Device.DeviceID]; ok && cur == s {
			delete(r.devices, s.Identity.Device.DeviceID)
		}
	case domain.SessionClassAdmin:
		userID := s.Identity.Admin.UserID
		delete(r.admins[userID], s.ID)
		if len(r.admins[userID]) == 0 {
			delete(r.admins, userID)
		}
	}

	for _, g := range s.Groups() {
		r.leaveLocked(s, g)
	}

	s.close()
}

func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *Registry) FindDevice(deviceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.devices[deviceID]
	return s, ok
}

// FindAdmin returns every live session of the user (one per console tab).
func (r *Registry) FindAdmin(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.admins[userID]))
	for _, s := range r.admins[userID] {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Registry) MembersOf(g Group) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Session, 0, len(r.groups[g]))
	for _, s := range r.groups[g] {
		members = append(members, s)
	}
	return members
}

func (r *Registry) JoinGroup(sessionID string, g Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if r.groups[g] == nil {
		r.groups[g] = make(map[string]*Session)
	}
	r.groups[g][s.ID] = s
	s.addGroup(g)
	return nil
}

func (r *Registry) LeaveGroup(sessionID string, g Group) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		r.leaveLocked(s, g)
	}
}

func (r *Registry) leaveLocked(s *Session, g Group) {
	delete(r.groups[g], s.ID)
	if len(r.groups[g]) == 0 {
		delete(r.groups, g)
	}
	s.removeGroup(g)
}

// DeviceSessions snapshots the live device sessions.
func (r *Registry) DeviceSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.devices))
	for _, s := range r.devices {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Registry) Count() (devices, admins int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices), len(r.sessions) - len(r.devices)
}

// Sessions snapshots every live session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
