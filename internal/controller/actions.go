package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitlobby/fitlobby/internal/api"
	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"github.com/fitlobby/fitlobby/internal/presence"
	"go.uber.org/zap"
)

// ToggleReady flips the current user's readiness. The local store gets an
// advisory update so the UI reacts immediately; the authoritative broadcast
// corrects it either way.
func (c *Controller) ToggleReady(ctx context.Context, ready bool) error {
	c.mu.Lock()
	sessionID := c.sessionID
	active := c.phase == PhaseActive
	c.mu.Unlock()
	if !active || sessionID == "" {
		return ErrNoSession
	}

	status := lobby.StatusWaiting
	if ready {
		status = lobby.StatusReady
	}
	c.p.Store.UpdateMemberStatus(c.p.SelfID, status)

	if err := c.p.Backend.UpdateMemberStatus(ctx, sessionID, status); err != nil {
		// Non-fatal: the next broadcast restores the true value.
		c.p.Logger.Warn("status update failed", zap.Error(err))
		return err
	}

	c.evaluateAutoGeneration(ctx)
	return nil
}

// StartWorkout asks the backend to start the session. Initiator only. The
// actual transition arrives later as a WorkoutStarted event.
func (c *Controller) StartWorkout(ctx context.Context) error {
	sessionID, err := c.requireInitiator()
	if err != nil {
		return err
	}
	return c.p.Backend.StartWorkout(ctx, sessionID)
}

// KickMember removes a member. Initiator only, checked against the latest
// authoritative value since the initiator can change at runtime. The member
// list is never mutated locally: correctness depends entirely on the next
// authoritative broadcast.
func (c *Controller) KickMember(ctx context.Context, userID string) error {
	sessionID, err := c.requireInitiator()
	if err != nil {
		return err
	}
	if userID == c.p.SelfID {
		return fmt.Errorf("controller: cannot kick yourself, leave instead")
	}
	return c.p.Backend.KickMember(ctx, sessionID, userID)
}

// TransferInitiator hands the role to another member. Same rules as kick:
// fire-and-forget, no local mutation, the broadcast is the only truth.
func (c *Controller) TransferInitiator(ctx context.Context, userID string) error {
	sessionID, err := c.requireInitiator()
	if err != nil {
		return err
	}
	snap, ok := c.p.Store.Snapshot()
	if !ok {
		return ErrNoSession
	}
	if _, member := snap.FindMember(userID); !member {
		return fmt.Errorf("controller: %s is not a member", userID)
	}
	return c.p.Backend.TransferInitiator(ctx, sessionID, userID)
}

// InviteMember invites a user to the active lobby. Both an ack and an
// "already pending" rejection mean an invite now exists, so both are
// tracked; any other failure is returned untracked.
func (c *Controller) InviteMember(ctx context.Context, userID string) error {
	c.mu.Lock()
	sessionID := c.sessionID
	groupID := c.groupID
	active := c.phase == PhaseActive
	c.mu.Unlock()
	if !active || sessionID == "" {
		return ErrNoSession
	}

	var workout lobby.WorkoutData
	if snap, ok := c.p.Store.Snapshot(); ok {
		workout = snap.Workout
	}

	err := c.p.Backend.InviteMember(ctx, sessionID, userID, groupID, workout)
	if err != nil && !errors.Is(err, api.ErrAlreadyPending) {
		return err
	}
	c.p.Invites.TrackInvite(sessionID, userID)
	c.p.Bus.Emit(bus.KindInviteTracked, userID)
	return nil
}

// InviteCandidates returns the group-scope online users who are neither
// lobby members nor holders of a live invite. Invite eligibility reads the
// group presence scope, never the global one.
func (c *Controller) InviteCandidates() []string {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	members := make(map[string]struct{})
	if snap, ok := c.p.Store.Snapshot(); ok {
		for _, m := range snap.Members {
			members[m.UserID] = struct{}{}
		}
	}
	pending := c.p.Invites.PendingUserIDs(sessionID)

	var candidates []string
	for _, id := range c.p.Presence.OnlineIDs(presence.ScopeGroup) {
		if _, isMember := members[id]; isMember {
			continue
		}
		if _, invited := pending[id]; invited {
			continue
		}
		candidates = append(candidates, id)
	}
	return candidates
}

// InviteAll invites every current candidate. Individual failures are logged
// and skipped so one rejection doesn't abort the batch.
func (c *Controller) InviteAll(ctx context.Context) {
	for _, id := range c.InviteCandidates() {
		if err := c.InviteMember(ctx, id); err != nil {
			c.p.Logger.Warn("invite failed", zap.Error(err), zap.String("user", id))
		}
	}
}

// requireInitiator returns the session id when the current user is the
// initiator per the latest authoritative snapshot. Client-side gate only;
// the backend checks again (defense in depth).
func (c *Controller) requireInitiator() (string, error) {
	snap, ok := c.p.Store.Snapshot()
	if !ok {
		return "", ErrNoSession
	}
	if snap.InitiatorID != c.p.SelfID {
		return "", ErrNotInitiator
	}
	return snap.SessionID, nil
}
