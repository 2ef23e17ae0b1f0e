// Package transport owns exactly one of {push subscription, poll loop} per
// lobby session and switches between them automatically: push until the
// reconnect threshold is exhausted, then polling the full authoritative
// state each tick, back to push when the socket reports connected again.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/event"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"go.uber.org/zap"
)

// PushTransport is the push side of the hybrid transport. Subscribe opens a
// data subscription; WatchState registers a connection-state callback that
// is invoked immediately with the current state and on every change.
type PushTransport interface {
	Subscribe(channel string, onEvent func(event.Event), onError func(error)) (stop func(), err error)
	WatchState(fn func(connected bool)) (stop func())
}

// StateFetcher re-derives the full authoritative session. The poll fallback
// cannot assume ordered delivery the way a push stream can, so every tick
// fetches full state, never a diff.
type StateFetcher interface {
	GetLobbyState(ctx context.Context, sessionID string) (*lobby.Session, error)
}

// Handlers receive the subscription's output. OnEvent is required; the
// others may be nil.
type Handlers struct {
	OnEvent      func(event.Event)
	OnModeChange func(ModeChange)
	OnError      func(error)
}

// Config holds the transport tunables.
type Config struct {
	PollInterval    time.Duration
	PushMaxRetries  int
	PollMaxFailures int
	AutoFallback    bool
}

// Manager creates hybrid subscriptions.
type Manager struct {
	push   PushTransport
	fetch  StateFetcher
	bus    *bus.Bus
	logger *zap.Logger
	cfg    Config
}

// NewManager creates a transport manager.
func NewManager(push PushTransport, fetch StateFetcher, b *bus.Bus, logger *zap.Logger, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PushMaxRetries <= 0 {
		cfg.PushMaxRetries = 5
	}
	if cfg.PollMaxFailures <= 0 {
		cfg.PollMaxFailures = 5
	}
	return &Manager{push: push, fetch: fetch, bus: b, logger: logger, cfg: cfg}
}

// Subscribe opens a hybrid subscription for the session's lobby channel and
// returns an unsubscribe function. Unsubscribe is idempotent.
func (m *Manager) Subscribe(sessionID string, h Handlers) func() {
	s := &subscription{
		mgr:       m,
		sessionID: sessionID,
		handlers:  h,
		mode:      ModeDisconnected,
	}
	s.stopWatch = m.push.WatchState(s.onConnState)
	return s.unsubscribe
}

type subscription struct {
	mgr       *Manager
	sessionID string
	handlers  Handlers

	mu           sync.Mutex
	mode         Mode
	pushFailures int
	stopPush     func()
	stopPoll     context.CancelFunc
	stopWatch    func()
	closed       bool
}

// onConnState is the connection-state signal from the push transport.
func (s *subscription) onConnState(connected bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if connected {
		s.pushFailures = 0
		if s.mode == ModePush {
			s.mu.Unlock()
			return
		}
		// disconnected or poll: move to push.
		s.mu.Unlock()
		s.startPush()
		return
	}

	s.pushFailures++
	fallBack := s.mode != ModePoll && s.pushFailures >= s.mgr.cfg.PushMaxRetries && s.mgr.cfg.AutoFallback
	s.mu.Unlock()
	if fallBack {
		s.startPoll()
	}
}

// startPush tears down any active transport, then opens the push data
// subscription. Never runs both transports concurrently.
func (s *subscription) startPush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.teardownActiveLocked()

	stop, err := s.mgr.push.Subscribe("lobby:"+s.sessionID, s.deliver, s.onPushError)
	if err != nil {
		s.pushFailures++
		// The active transport was already torn down; leave the mode in
		// disconnected so the poll fallback is not refused, and fall back
		// immediately if we were polling before (no transport may stay dead).
		wasPolling := s.mode == ModePoll
		s.setModeLocked(ModeDisconnected)
		fallBack := s.mgr.cfg.AutoFallback &&
			(wasPolling || s.pushFailures >= s.mgr.cfg.PushMaxRetries)
		s.mu.Unlock()
		if s.mgr.logger != nil {
			s.mgr.logger.Warn("push subscribe failed", zap.Error(err), zap.String("session", s.sessionID))
		}
		if fallBack {
			s.startPoll()
		}
		return
	}
	s.stopPush = stop
	s.setModeLocked(ModePush)
	s.mu.Unlock()
}

// startPoll tears down the push subscription and starts the poll loop.
func (s *subscription) startPoll() {
	s.mu.Lock()
	if s.closed || s.mode == ModePoll {
		s.mu.Unlock()
		return
	}
	s.teardownActiveLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.stopPoll = cancel
	s.setModeLocked(ModePoll)
	s.mu.Unlock()

	go s.pollLoop(ctx)
}

func (s *subscription) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.mgr.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ticker.C:
			sess, err := s.mgr.fetch.GetLobbyState(ctx, s.sessionID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				if s.mgr.logger != nil {
					s.mgr.logger.Warn("poll tick failed", zap.Error(err), zap.Int("failures", failures))
				}
				if failures >= s.mgr.cfg.PollMaxFailures {
					failures = 0
					if s.handlers.OnError != nil {
						s.handlers.OnError(err)
					}
				}
				continue
			}
			failures = 0
			s.deliver(event.StateChanged{Session: *sess})
		case <-ctx.Done():
			return
		}
	}
}

// onPushError: push transport errors are non-fatal; they trigger mode
// evaluation via the connection-state signal, not propagation.
func (s *subscription) onPushError(err error) {
	if s.mgr.logger != nil {
		s.mgr.logger.Warn("push transport error", zap.Error(err), zap.String("session", s.sessionID))
	}
}

func (s *subscription) deliver(evt event.Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if s.handlers.OnEvent != nil {
		s.handlers.OnEvent(evt)
	}
}

// teardownActiveLocked fully stops whichever transport is running.
func (s *subscription) teardownActiveLocked() {
	if s.stopPush != nil {
		s.stopPush()
		s.stopPush = nil
	}
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
}

func (s *subscription) setModeLocked(to Mode) {
	if s.mode == to || !canTransition(s.mode, to) {
		return
	}
	change := ModeChange{From: s.mode, To: to}
	s.mode = to
	if s.mgr.logger != nil {
		s.mgr.logger.Info("transport mode changed", zap.String("change", change.String()), zap.String("session", s.sessionID))
	}
	if s.mgr.bus != nil {
		s.mgr.bus.Emit(bus.KindTransportMode, change)
	}
	if s.handlers.OnModeChange != nil {
		s.handlers.OnModeChange(change)
	}
}

func (s *subscription) unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.teardownActiveLocked()
	s.setModeLocked(ModeDisconnected)
	stopWatch := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()
	if stopWatch != nil {
		stopWatch()
	}
}
