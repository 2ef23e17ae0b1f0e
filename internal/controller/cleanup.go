package controller

import (
	"context"

	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/presence"
	"go.uber.org/zap"
)

// Leave is the explicit leave action: issue the remote leave, then clean up.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	needLeave := c.phase == PhaseActive && !c.leaveIssued && !c.started
	if needLeave {
		c.leaveIssued = true
	}
	c.mu.Unlock()

	if sessionID == "" {
		return ErrNoSession
	}
	if needLeave {
		if err := c.p.Backend.LeaveLobby(ctx, sessionID); err != nil {
			// Cleanup proceeds regardless; the backend will expire us.
			c.p.Logger.Warn("remote leave failed", zap.Error(err))
		}
	}
	c.cleanup(ctx, false)
	return nil
}

// Close is the teardown path (process exit / screen unmount). It must issue
// the remote leave if an explicit Leave has not already done so, otherwise
// the authoritative session keeps believing the user is present.
func (c *Controller) Close(ctx context.Context) {
	c.cleanup(ctx, true)
}

// cleanup runs the teardown steps in order, each independent of the others'
// success. The phase flag is the re-entrancy guard: a second concurrent call
// is a no-op.
func (c *Controller) cleanup(ctx context.Context, issueLeave bool) {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseCleaning

	sessionID := c.sessionID
	needLeave := issueLeave && !c.leaveIssued && !c.started
	if needLeave {
		c.leaveIssued = true
	}

	stopLobby := c.stopLobby
	stopLobbyPresence := c.stopLobbyPresence
	stopGroupPresence := c.stopGroupPresence
	stopPersonal := c.stopPersonal
	c.stopLobby = nil
	c.stopLobbyPresence = nil
	c.stopGroupPresence = nil
	c.stopPersonal = nil
	c.chat = nil
	c.sessionID = ""
	c.groupID = ""
	c.mu.Unlock()

	c.p.Bus.Emit(bus.KindLobbyCleanup, string(PhaseCleaning))

	// 1. The resume record goes first so a crash mid-cleanup never points
	// back into a lobby we are leaving.
	if err := c.p.Resume.ClearActive(); err != nil {
		c.p.Logger.Warn("clearing resume record failed", zap.Error(err))
	}

	// 2-5. Subscriptions, one by one.
	if stopLobby != nil {
		stopLobby()
	}
	if stopLobbyPresence != nil {
		stopLobbyPresence()
		c.p.Presence.Reset(presence.ScopeLobby)
	}
	if stopGroupPresence != nil {
		stopGroupPresence()
		c.p.Presence.Reset(presence.ScopeGroup)
	}
	if stopPersonal != nil {
		stopPersonal()
	}

	// 6. In-memory session state, including this session's invite cache:
	// an initiator's leave dissolves the lobby's outstanding invites.
	c.p.Store.Clear()
	c.p.Invites.ClearSession(sessionID)

	// 7. Remote leave, when nothing issued it yet.
	if needLeave && sessionID != "" {
		if err := c.p.Backend.LeaveLobby(ctx, sessionID); err != nil {
			c.p.Logger.Warn("remote leave during cleanup failed", zap.Error(err))
		}
	}

	// 8. Back on the group notification channel so new invites arrive
	// immediately after leaving.
	c.subscribeGroupNotify()

	c.mu.Lock()
	c.phase = PhaseCleaned
	c.mu.Unlock()
	c.p.Bus.Emit(bus.KindLobbyCleanup, string(PhaseCleaned))
	c.p.Logger.Info("lobby cleanup complete", zap.String("session", sessionID))
}
