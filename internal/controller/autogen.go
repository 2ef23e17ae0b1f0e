package controller

import (
	"context"

	"github.com/fitlobby/fitlobby/internal/bus"
	"go.uber.org/zap"
)

// evaluateAutoGeneration is the ready-check trigger: edge-triggered,
// initiator-only, fires when members >= 2, all ready, no exercises yet, and
// no generation in flight. The armed flag makes it fire on the transition
// into the condition, not on every tick the condition holds.
func (c *Controller) evaluateAutoGeneration(ctx context.Context) {
	snap, ok := c.p.Store.Snapshot()

	condition := ok &&
		len(snap.Members) >= 2 &&
		snap.AllReady() &&
		!snap.Workout.HasPlan() &&
		snap.InitiatorID == c.p.SelfID

	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	if !condition {
		c.genArmed = true
		c.mu.Unlock()
		return
	}
	if !c.genArmed || c.generating {
		c.mu.Unlock()
		return
	}
	c.generating = true
	c.genArmed = false
	c.mu.Unlock()

	memberIDs := make([]string, 0, len(snap.Members))
	for _, m := range snap.Members {
		memberIDs = append(memberIDs, m.UserID)
	}

	c.p.Logger.Info("all members ready, generating plan", zap.Int("members", len(memberIDs)))

	plan, err := c.p.Backend.GenerateWorkout(ctx, memberIDs)
	if err != nil {
		// Non-fatal: re-arm so the trigger may fire again once conditions
		// are re-evaluated.
		c.p.Logger.Warn("plan generation failed", zap.Error(err))
		c.p.Bus.Emit(bus.KindLobbyWarning, "could not generate a workout plan, will retry")
		c.mu.Lock()
		c.generating = false
		c.genArmed = true
		c.mu.Unlock()
		return
	}

	// The generation call suspended us; the lobby may have been torn down
	// meanwhile. Never commit a plan into a dead session.
	c.mu.Lock()
	alive := c.phase == PhaseActive && c.sessionID == snap.SessionID
	c.mu.Unlock()
	if !alive {
		c.p.Logger.Info("discarding generated plan, session no longer active")
		c.mu.Lock()
		c.generating = false
		c.mu.Unlock()
		return
	}

	if err := c.p.Backend.UpdateWorkoutData(ctx, snap.SessionID, *plan); err != nil {
		c.p.Logger.Warn("committing generated plan failed", zap.Error(err))
		c.p.Bus.Emit(bus.KindLobbyWarning, "could not attach the generated plan, will retry")
		c.mu.Lock()
		c.generating = false
		c.genArmed = true
		c.mu.Unlock()
		return
	}

	// Local advisory copy so the UI shows the plan before the broadcast.
	applied := snap.Clone()
	applied.Workout = *plan
	if err := c.p.Store.SetSession(applied); err != nil {
		c.p.Logger.Warn("local plan apply failed", zap.Error(err))
	}

	c.mu.Lock()
	c.generating = false
	c.mu.Unlock()
	c.p.Logger.Info("plan attached", zap.Int("exercises", len(plan.Exercises)))
}
