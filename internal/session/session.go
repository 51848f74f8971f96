package session

import (
	"sync"
	"time"

	"device-control-relay/internal/domain"

	"github.com/google/uuid"
)

// Session is one authenticated live connection. The registry owns its
// lifecycle; the connection pumps only drain Outbound.
type Session struct {
	ID        string
	Identity  domain.Identity
	CreatedAt time.Time

	mu     sync.Mutex
	groups map[Group]struct{}
	send   chan []byte
	closed bool
}

func New(identity domain.Identity, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Session{
		ID:        uuid.New().String(),
		Identity:  identity,
		CreatedAt: time.Now(),
		groups:    make(map[Group]struct{}),
		send:      make(chan []byte, queueSize),
	}
}

// Enqueue never blocks. It returns false when the session is closed or its
// outbound queue is full.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound is closed once the session has been unregistered.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make([]Group, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	return groups
}

func (s *Session) InGroup(g Group) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[g]
	return ok
}

func (s *Session) addGroup(g Group) {
	s.mu.Lock()
	s.groups[g] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) removeGroup(g Group) {
	s.mu.Lock()
	delete(s.groups, g)
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
