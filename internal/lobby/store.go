package lobby

import (
	"errors"
	"sync"

	"github.com/fitlobby/fitlobby/internal/bus"
)

// ErrCorruptSession is returned when a session fails its consistency check
// (initiator not present in the member list).
var ErrCorruptSession = errors.New("lobby: session initiator is not a member")

// Store is the canonical in-memory representation of one active lobby.
// It is the only place lobby fields are written. All mutations increment a
// monotonic version counter so consumers can detect stale reads; the counter
// carries no ordering meaning across network round-trips — the authoritative
// broadcast always wins over locally advisory values.
type Store struct {
	mu      sync.RWMutex
	session *Session
	version uint64
	bus     *bus.Bus
}

// NewStore creates an empty store. The bus may be nil in tests.
func NewStore(b *bus.Bus) *Store {
	return &Store{bus: b}
}

// SetSession replaces state wholesale. Used on every authoritative broadcast
// and on the initial fetch. A corrupt session is rejected and leaves the
// current state untouched.
func (s *Store) SetSession(session *Session) error {
	if session == nil || !session.Valid() {
		return ErrCorruptSession
	}
	cp := session.Clone()
	s.mu.Lock()
	s.session = cp
	s.version++
	s.mu.Unlock()
	s.emit()
	return nil
}

// UpdateMemberStatus is a local advisory mutation reflecting the current
// user's own optimistic toggle until the authoritative broadcast arrives.
// Returns false if no session is held or the member is unknown.
func (s *Store) UpdateMemberStatus(userID string, status MemberStatus) bool {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return false
	}
	updated := false
	for i := range s.session.Members {
		if s.session.Members[i].UserID == userID {
			s.session.Members[i].Status = status
			updated = true
			break
		}
	}
	if updated {
		s.version++
	}
	s.mu.Unlock()
	if updated {
		s.emit()
	}
	return updated
}

// AddMember is an escape hatch for the narrow case where a fine-grained
// event must update state before the coarser authoritative broadcast lands.
// Duplicate user ids are ignored.
func (s *Store) AddMember(m Member) bool {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return false
	}
	if _, exists := s.session.FindMember(m.UserID); exists {
		s.mu.Unlock()
		return false
	}
	s.session.Members = append(s.session.Members, m)
	s.version++
	s.mu.Unlock()
	s.emit()
	return true
}

// RemoveMember removes a member by id. See AddMember.
func (s *Store) RemoveMember(userID string) bool {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return false
	}
	removed := false
	members := s.session.Members[:0]
	for _, m := range s.session.Members {
		if m.UserID == userID {
			removed = true
			continue
		}
		members = append(members, m)
	}
	if removed {
		s.session.Members = members
		s.version++
	}
	s.mu.Unlock()
	if removed {
		s.emit()
	}
	return removed
}

// Clear discards all session state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.session = nil
	s.version++
	s.mu.Unlock()
}

// Snapshot returns a consistent deep copy of the current session, or false
// when no session is held.
func (s *Store) Snapshot() (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, false
	}
	return s.session.Clone(), true
}

// Version returns the monotonic mutation counter.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) emit() {
	if s.bus == nil {
		return
	}
	if snap, ok := s.Snapshot(); ok {
		s.bus.Emit(bus.KindLobbyState, snap)
	}
}
