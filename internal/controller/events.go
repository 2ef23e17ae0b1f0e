package controller

import (
	"context"
	"fmt"

	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/event"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"github.com/fitlobby/fitlobby/internal/presence"
	"go.uber.org/zap"
)

// handleLobbyEvent applies one normalized transport event. The switch is
// exhaustive over the event union; anything unexpected is logged, never
// dropped silently.
func (c *Controller) handleLobbyEvent(evt event.Event) {
	ctx := context.Background()

	switch e := evt.(type) {
	case event.StateChanged:
		c.applyAuthoritative(ctx, e.Session)

	case event.MemberJoined:
		// Fine-grained events synthesize system chat lines only; membership
		// truth arrives with the next StateChanged.
		c.systemLine(fmt.Sprintf("%s joined the lobby", displayName(e.DisplayName, e.UserID)))
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		// Their invite is consumed; a later leave makes them invitable again.
		c.p.Invites.ClearInviteForUser(sessionID, e.UserID)

	case event.MemberLeft:
		c.systemLine(fmt.Sprintf("%s left the lobby", displayName(e.DisplayName, e.UserID)))

	case event.MemberStatusUpdated:
		if e.Status == lobby.StatusReady {
			c.systemLine(fmt.Sprintf("%s is ready", displayName(e.DisplayName, e.UserID)))
		} else {
			c.systemLine(fmt.Sprintf("%s is not ready", displayName(e.DisplayName, e.UserID)))
		}

	case event.MessageSent:
		if ch := c.Chat(); ch != nil {
			ch.Apply(e)
		}

	case event.WorkoutStarted:
		c.handleWorkoutStarted(e)

	case event.LobbyDeleted:
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		c.p.Invites.ClearSession(sessionID)
		c.p.Bus.Emit(bus.KindLobbyDeleted, sessionID)
		// The session is gone server-side; no leave call needed.
		c.cleanup(ctx, false)

	case event.MemberKicked:
		c.systemLine(fmt.Sprintf("%s was removed from the lobby", displayName(e.DisplayName, e.UserID)))

	case event.RoleTransferred:
		// State comes only from the next StateChanged broadcast.
		c.systemLine(fmt.Sprintf("%s is now the initiator", displayName(e.DisplayName, e.NewInitiatorID)))

	case event.KickedPersonally:
		c.p.Logger.Info("kicked from lobby", zap.String("session", e.SessionID))
		c.cleanup(ctx, false)

	case event.PresenceHere, event.PresenceJoining, event.PresenceLeaving, event.InviteReceived:
		// Presence and invite frames belong to their own channels.
		c.p.Logger.Warn("presence/notify event on lobby channel", zap.Any("event", evt))

	default:
		c.p.Logger.Warn("unhandled lobby event", zap.Any("event", evt))
	}
}

// applyAuthoritative replaces the store wholesale with a broadcast session.
// A corrupt payload forces a full re-fetch, never a partial repair.
func (c *Controller) applyAuthoritative(ctx context.Context, sess lobby.Session) {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	if sess.SessionID != sessionID {
		c.p.Logger.Warn("broadcast for a different session ignored",
			zap.String("got", sess.SessionID), zap.String("want", sessionID))
		return
	}

	if err := c.p.Store.SetSession(&sess); err != nil {
		c.p.Logger.Error("corrupt session broadcast, re-fetching", zap.Error(err))
		c.p.Bus.Emit(bus.KindLobbyCorrupt, sessionID)
		c.refetch(ctx, sessionID)
		return
	}

	c.afterAuthoritative(ctx)
}

// refetch discards and reloads the session after a corrupt broadcast.
func (c *Controller) refetch(ctx context.Context, sessionID string) {
	fetched, err := c.p.Backend.GetLobbyState(ctx, sessionID)
	if err != nil {
		c.p.Logger.Error("re-fetch failed", zap.Error(err))
		return
	}
	if err := c.p.Store.SetSession(fetched); err != nil {
		c.p.Logger.Error("session corrupt even after re-fetch, discarding", zap.Error(err))
		c.p.Store.Clear()
		return
	}
	c.afterAuthoritative(ctx)
}

// afterAuthoritative runs the reactive effects that follow every applied
// broadcast: membership-drop safety and the ready-check trigger.
func (c *Controller) afterAuthoritative(ctx context.Context) {
	c.checkMembershipDrop(ctx)
	c.evaluateAutoGeneration(ctx)
}

// checkMembershipDrop clears a plan sized for a bigger group once the member
// count falls below two. Initiator-only, like the generation that made it.
func (c *Controller) checkMembershipDrop(ctx context.Context) {
	snap, ok := c.p.Store.Snapshot()
	if !ok || len(snap.Members) >= 2 || !snap.Workout.HasPlan() {
		return
	}
	if snap.InitiatorID != c.p.SelfID {
		return
	}

	cleared := snap.Clone()
	cleared.Workout = lobby.WorkoutData{}
	if err := c.p.Store.SetSession(cleared); err != nil {
		c.p.Logger.Warn("local plan clear failed", zap.Error(err))
	}
	if err := c.p.Backend.UpdateWorkoutData(ctx, snap.SessionID, lobby.WorkoutData{}); err != nil {
		c.p.Logger.Warn("remote plan clear failed", zap.Error(err))
	} else {
		c.p.Logger.Info("cleared stale plan after membership drop", zap.Int("members", len(snap.Members)))
	}
}

// handleWorkoutStarted transitions into the activity. A payload missing the
// plan falls back to the latest authoritative session; missing both is a
// recoverable error, not a crash.
func (c *Controller) handleWorkoutStarted(e event.WorkoutStarted) {
	var plan lobby.WorkoutData
	if e.Workout != nil && e.Workout.HasPlan() {
		plan = *e.Workout
	} else if snap, ok := c.p.Store.Snapshot(); ok && snap.Workout.HasPlan() {
		plan = snap.Workout
	} else {
		c.p.Logger.Error("workout started without a plan in payload or session")
		c.p.Bus.Emit(bus.KindLobbyWarning, "workout started but no plan is available yet, retrying on next update")
		return
	}

	c.mu.Lock()
	c.started = true
	sessionID := c.sessionID
	c.mu.Unlock()

	c.p.Invites.ClearSession(sessionID)
	c.p.Bus.Emit(bus.KindLobbyStarted, plan)
}

// handlePersonalEvent serves the per-user channel: the kick notification the
// removed user receives directly.
func (c *Controller) handlePersonalEvent(evt event.Event) {
	switch e := evt.(type) {
	case event.KickedPersonally:
		c.mu.Lock()
		match := c.sessionID == e.SessionID
		c.mu.Unlock()
		if match {
			c.p.Logger.Info("removed from lobby", zap.String("session", e.SessionID))
			c.cleanup(context.Background(), false)
		}
	default:
		c.p.Logger.Warn("unhandled personal event", zap.Any("event", evt))
	}
}

// handleGroupNotifyEvent serves the group channel that delivers invites
// while the user is not in a lobby.
func (c *Controller) handleGroupNotifyEvent(evt event.Event) {
	switch e := evt.(type) {
	case event.InviteReceived:
		c.p.Bus.Emit(bus.KindInviteReceived, e)
	default:
		c.p.Logger.Warn("unhandled group notification", zap.Any("event", evt))
	}
}

func (c *Controller) presenceHandler(scope presence.Scope) func(event.Event) {
	return func(evt event.Event) {
		switch e := evt.(type) {
		case event.PresenceHere:
			c.p.Presence.ApplyHere(scope, e.UserIDs)
		case event.PresenceJoining:
			c.p.Presence.ApplyJoining(scope, e.UserID)
		case event.PresenceLeaving:
			c.p.Presence.ApplyLeaving(scope, e.UserID)
		default:
			c.p.Logger.Warn("unhandled presence event", zap.Any("event", evt), zap.String("scope", string(scope)))
		}
	}
}

func (c *Controller) systemLine(text string) {
	if ch := c.Chat(); ch != nil {
		ch.AddSystemLine(text)
	}
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
