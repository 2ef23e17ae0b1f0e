// Package presence maintains who is currently online, per scope. The three
// scopes are fed by independent signals and are deliberately never merged:
// invite eligibility reads the group scope, lobby member badges read the
// global scope, "viewing this lobby" reads the lobby scope.
package presence

import (
	"sort"
	"sync"

	"github.com/fitlobby/fitlobby/internal/bus"
)

// Scope is the boundary within which an "online" signal is meaningful.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeLobby  Scope = "lobby"
	ScopeGroup  Scope = "group"
)

// Tracker holds one online set per scope.
type Tracker struct {
	mu   sync.RWMutex
	sets map[Scope]map[string]struct{}
	bus  *bus.Bus
}

// NewTracker creates a tracker with all scopes empty. bus may be nil.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		sets: map[Scope]map[string]struct{}{
			ScopeGlobal: {},
			ScopeLobby:  {},
			ScopeGroup:  {},
		},
		bus: b,
	}
}

// ApplyHere replaces a scope's set wholesale (full resync).
func (t *Tracker) ApplyHere(scope Scope, userIDs []string) {
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	t.mu.Lock()
	t.sets[scope] = set
	t.mu.Unlock()
	t.emit(scope)
}

// ApplyJoining adds one user to a scope.
func (t *Tracker) ApplyJoining(scope Scope, userID string) {
	t.mu.Lock()
	if t.sets[scope] == nil {
		t.sets[scope] = make(map[string]struct{})
	}
	t.sets[scope][userID] = struct{}{}
	t.mu.Unlock()
	t.emit(scope)
}

// ApplyLeaving removes one user from a scope.
func (t *Tracker) ApplyLeaving(scope Scope, userID string) {
	t.mu.Lock()
	delete(t.sets[scope], userID)
	t.mu.Unlock()
	t.emit(scope)
}

// Online reports whether the user is online within the scope.
func (t *Tracker) Online(scope Scope, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sets[scope][userID]
	return ok
}

// OnlineIDs returns the scope's user ids, sorted for stable rendering.
func (t *Tracker) OnlineIDs(scope Scope) []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.sets[scope]))
	for id := range t.sets[scope] {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Reset empties a scope, used when its subscription is torn down.
func (t *Tracker) Reset(scope Scope) {
	t.mu.Lock()
	t.sets[scope] = make(map[string]struct{})
	t.mu.Unlock()
	t.emit(scope)
}

func (t *Tracker) emit(scope Scope) {
	if t.bus != nil {
		t.bus.Emit(bus.KindPresenceChanged, string(scope))
	}
}
