// Package invite tracks outstanding lobby invitations so re-opening the
// invite list or retrying "invite all" never re-sends to a user with a live
// invite — the backend rate-limits and rejects those duplicates.
package invite

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time; injected for tests.
type Clock func() time.Time

// Tracker is a TTL cache of "invitation already sent" facts, keyed by
// (session id, user id). At most one live entry exists per pair. Entries
// past the TTL are treated as absent even before the sweeper runs.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     Clock
	pending map[string]map[string]time.Time // sessionID -> userID -> expiresAt
}

// NewTracker creates a tracker. The TTL should match the backend's own
// invite expiry. A nil clock uses time.Now.
func NewTracker(ttl time.Duration, now Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		ttl:     ttl,
		now:     now,
		pending: make(map[string]map[string]time.Time),
	}
}

// TrackInvite records that an invite exists for the user. Called after both
// a success and an "already pending" response, since both imply one.
func (t *Tracker) TrackInvite(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byUser, ok := t.pending[sessionID]
	if !ok {
		byUser = make(map[string]time.Time)
		t.pending[sessionID] = byUser
	}
	byUser[userID] = t.now().Add(t.ttl)
}

// ClearInviteForUser forgets a user's invite, called when their join is
// observed. Without this, a later leave would keep them uninvitable.
func (t *Tracker) ClearInviteForUser(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if byUser, ok := t.pending[sessionID]; ok {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(t.pending, sessionID)
		}
	}
}

// ClearSession forgets all invites of a session. Called on lobby deletion,
// initiator leave and session start.
func (t *Tracker) ClearSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, sessionID)
}

// PendingUserIDs returns the ids with a live invite for the session.
// Expired entries are skipped regardless of whether the sweep has run.
func (t *Tracker) PendingUserIDs(sessionID string) map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make(map[string]struct{})
	now := t.now()
	for userID, expiresAt := range t.pending[sessionID] {
		if expiresAt.After(now) {
			ids[userID] = struct{}{}
		}
	}
	return ids
}

// SweepExpired removes expired entries across all sessions and returns how
// many were dropped.
func (t *Tracker) SweepExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	dropped := 0
	for sessionID, byUser := range t.pending {
		for userID, expiresAt := range byUser {
			if !expiresAt.After(now) {
				delete(byUser, userID)
				dropped++
			}
		}
		if len(byUser) == 0 {
			delete(t.pending, sessionID)
		}
	}
	return dropped
}

// StartSweeper runs SweepExpired on the given interval until ctx is done.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.SweepExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}
