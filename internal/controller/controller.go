// Package controller orchestrates one lobby membership end to end: it wires
// transport events into store mutations, runs the ready-check plan
// generation, enforces initiator-only actions, and drives the leave/cleanup
// lifecycle exactly once.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fitlobby/fitlobby/internal/api"
	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/chat"
	"github.com/fitlobby/fitlobby/internal/event"
	"github.com/fitlobby/fitlobby/internal/invite"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"github.com/fitlobby/fitlobby/internal/presence"
	"github.com/fitlobby/fitlobby/internal/transport"
	"go.uber.org/zap"
)

// Errors surfaced to the rendering layer.
var (
	ErrNoSession    = errors.New("controller: no active lobby session")
	ErrNotInitiator = errors.New("controller: action requires the initiator role")
)

// Backend is the remote command surface (see internal/api for the real one).
type Backend interface {
	CreateLobby(ctx context.Context, groupID string, initial lobby.WorkoutData) (*lobby.Session, error)
	JoinLobby(ctx context.Context, sessionID string) (*lobby.Session, error)
	LeaveLobby(ctx context.Context, sessionID string) error
	GetLobbyState(ctx context.Context, sessionID string) (*lobby.Session, error)
	UpdateMemberStatus(ctx context.Context, sessionID string, status lobby.MemberStatus) error
	UpdateWorkoutData(ctx context.Context, sessionID string, w lobby.WorkoutData) error
	StartWorkout(ctx context.Context, sessionID string) error
	InviteMember(ctx context.Context, sessionID, userID, groupID string, w lobby.WorkoutData) error
	KickMember(ctx context.Context, sessionID, userID string) error
	TransferInitiator(ctx context.Context, sessionID, userID string) error
	GenerateWorkout(ctx context.Context, memberIDs []string) (*lobby.WorkoutData, error)

	chat.Backend
}

// LobbyTransport is the hybrid push/poll subscription for the lobby channel.
type LobbyTransport interface {
	Subscribe(sessionID string, h transport.Handlers) func()
}

// ChannelTransport opens push-only subscriptions (presence, personal and
// group notification channels). Missing one of these is recoverable: the
// next lobby broadcast or invite-list refresh catches the client up.
type ChannelTransport interface {
	Subscribe(channel string, onEvent func(event.Event), onError func(error)) (func(), error)
}

// ResumeStore persists the "resume this lobby" record.
type ResumeStore interface {
	SaveActive(sessionID, groupID string) error
	LoadActiveSessionID() (string, error)
	ClearActive() error
}

// Phase is the cleanup lifecycle state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseCleaning Phase = "cleaning"
	PhaseCleaned  Phase = "cleaned"
)

// Params carries the controller's collaborators.
type Params struct {
	SelfID   string
	SelfName string

	Backend   Backend
	Transport LobbyTransport
	Channels  ChannelTransport
	Store     *lobby.Store
	Presence  *presence.Tracker
	Invites   *invite.Tracker
	Resume    ResumeStore
	Bus       *bus.Bus
	Logger    *zap.Logger

	ChatOptions chat.Options
}

// Controller coordinates one lobby at a time.
type Controller struct {
	p Params

	mu          sync.Mutex
	phase       Phase
	sessionID   string
	groupID     string
	homeGroupID string
	chat        *chat.Subsystem
	generating  bool
	genArmed    bool
	leaveIssued bool
	started     bool

	stopLobby         func()
	stopLobbyPresence func()
	stopGroupPresence func()
	stopPersonal      func()
	stopGroupNotify   func()
}

// New creates a controller. Call Start once, then Create/Join.
func New(p Params) *Controller {
	return &Controller{p: p, phase: PhaseIdle}
}

// Start opens the subscriptions that exist outside any lobby: the global
// presence feed and the group invitation-notification channel.
func (c *Controller) Start(homeGroupID string) {
	c.mu.Lock()
	c.homeGroupID = homeGroupID
	c.mu.Unlock()

	if stop, err := c.p.Channels.Subscribe("presence:global", c.presenceHandler(presence.ScopeGlobal), nil); err == nil {
		_ = stop // global presence lives for the whole process
	} else {
		c.p.Logger.Warn("global presence subscribe failed", zap.Error(err))
	}
	c.subscribeGroupNotify()
}

// CreateLobby creates a lobby for the group and activates it.
func (c *Controller) CreateLobby(ctx context.Context, groupID string, initial lobby.WorkoutData) error {
	sess, err := c.p.Backend.CreateLobby(ctx, groupID, initial)
	if err != nil {
		return fmt.Errorf("create lobby: %w", err)
	}
	return c.activate(ctx, sess)
}

// JoinLobby joins a lobby. A stale-membership conflict triggers a forced
// cleanup of the remembered lobby and exactly one retry; a second failure
// surfaces to the caller.
func (c *Controller) JoinLobby(ctx context.Context, sessionID string) error {
	sess, err := c.p.Backend.JoinLobby(ctx, sessionID)
	if errors.Is(err, api.ErrAlreadyInLobby) {
		c.p.Logger.Warn("stale lobby membership, forcing cleanup and retrying once",
			zap.String("session", sessionID))
		c.forceCleanupStale(ctx)
		sess, err = c.p.Backend.JoinLobby(ctx, sessionID)
	}
	if err != nil {
		return fmt.Errorf("join lobby: %w", err)
	}
	return c.activate(ctx, sess)
}

// forceCleanupStale leaves whatever lobby the backend still has us in and
// clears the local resume record. Best effort; the retry decides success.
func (c *Controller) forceCleanupStale(ctx context.Context) {
	c.mu.Lock()
	staleID := c.sessionID
	c.mu.Unlock()
	if staleID == "" {
		// Fresh start: the stale membership can only be the remembered lobby.
		if remembered, err := c.p.Resume.LoadActiveSessionID(); err == nil {
			staleID = remembered
		}
	}
	if staleID != "" {
		if err := c.p.Backend.LeaveLobby(ctx, staleID); err != nil {
			c.p.Logger.Warn("forced leave failed", zap.Error(err), zap.String("session", staleID))
		}
	}
	if err := c.p.Resume.ClearActive(); err != nil {
		c.p.Logger.Warn("clearing resume record failed", zap.Error(err))
	}
}

// activate installs a session: store, resume record, chat, and all
// lobby-scoped subscriptions.
func (c *Controller) activate(ctx context.Context, sess *lobby.Session) error {
	if err := c.p.Store.SetSession(sess); err != nil {
		// Corrupt payload from create/join: re-fetch once, then give up.
		fetched, ferr := c.p.Backend.GetLobbyState(ctx, sess.SessionID)
		if ferr != nil {
			return fmt.Errorf("re-fetch after corrupt session: %w", ferr)
		}
		if err := c.p.Store.SetSession(fetched); err != nil {
			return fmt.Errorf("session still corrupt after re-fetch: %w", err)
		}
		sess = fetched
	}

	chatOpts := c.p.ChatOptions
	if chatOpts.ResolveName == nil {
		// Sender labels come from the roster; the wire message carries ids only.
		chatOpts.ResolveName = func(userID string) string {
			if snap, ok := c.p.Store.Snapshot(); ok {
				if m, found := snap.FindMember(userID); found {
					return m.DisplayName
				}
			}
			return ""
		}
	}

	c.mu.Lock()
	c.phase = PhaseActive
	c.sessionID = sess.SessionID
	c.groupID = sess.GroupID
	c.generating = false
	c.genArmed = true
	c.leaveIssued = false
	c.started = false
	c.chat = chat.New(sess.SessionID, c.p.SelfID, c.p.SelfName, c.p.Backend, c.p.Bus, c.p.Logger, chatOpts)
	// Inside a lobby we don't need group invite notifications.
	stopNotify := c.stopGroupNotify
	c.stopGroupNotify = nil
	c.mu.Unlock()

	if stopNotify != nil {
		stopNotify()
	}

	if err := c.p.Resume.SaveActive(sess.SessionID, sess.GroupID); err != nil {
		c.p.Logger.Warn("saving resume record failed", zap.Error(err))
	}

	stopLobby := c.p.Transport.Subscribe(sess.SessionID, transport.Handlers{
		OnEvent: c.handleLobbyEvent,
		OnError: func(err error) {
			c.p.Logger.Error("lobby transport degraded", zap.Error(err))
			c.p.Bus.Emit(bus.KindTransportError, err.Error())
		},
	})

	stopLobbyPresence := c.subscribeChannel("presence:lobby:"+sess.SessionID, c.presenceHandler(presence.ScopeLobby))
	stopGroupPresence := c.subscribeChannel("presence:group:"+sess.GroupID, c.presenceHandler(presence.ScopeGroup))
	stopPersonal := c.subscribeChannel("user:"+c.p.SelfID, c.handlePersonalEvent)

	c.mu.Lock()
	c.stopLobby = stopLobby
	c.stopLobbyPresence = stopLobbyPresence
	c.stopGroupPresence = stopGroupPresence
	c.stopPersonal = stopPersonal
	c.mu.Unlock()

	c.evaluateAutoGeneration(ctx)
	return nil
}

func (c *Controller) subscribeChannel(channel string, handler func(event.Event)) func() {
	stop, err := c.p.Channels.Subscribe(channel, handler, nil)
	if err != nil {
		c.p.Logger.Warn("channel subscribe failed", zap.Error(err), zap.String("channel", channel))
		return nil
	}
	return stop
}

func (c *Controller) subscribeGroupNotify() {
	c.mu.Lock()
	groupID := c.homeGroupID
	already := c.stopGroupNotify != nil
	c.mu.Unlock()
	if groupID == "" || already {
		return
	}
	stop := c.subscribeChannel("notify:group:"+groupID, c.handleGroupNotifyEvent)
	c.mu.Lock()
	c.stopGroupNotify = stop
	c.mu.Unlock()
}

// Chat returns the active chat subsystem, or nil outside a lobby.
func (c *Controller) Chat() *chat.Subsystem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// JoinLink returns the shareable deep link for the active lobby.
func (c *Controller) JoinLink() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return "", ErrNoSession
	}
	return "fitlobby://join/" + c.sessionID, nil
}
