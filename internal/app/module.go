// Package app composes the client: config, logging, profile lock, resume
// store, API client, transports, trackers, controller and TUI.
package app

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fitlobby/fitlobby/internal/api"
	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/chat"
	"github.com/fitlobby/fitlobby/internal/config"
	"github.com/fitlobby/fitlobby/internal/controller"
	"github.com/fitlobby/fitlobby/internal/invite"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"github.com/fitlobby/fitlobby/internal/logging"
	"github.com/fitlobby/fitlobby/internal/presence"
	"github.com/fitlobby/fitlobby/internal/profile"
	"github.com/fitlobby/fitlobby/internal/resume"
	"github.com/fitlobby/fitlobby/internal/transport"
	"github.com/fitlobby/fitlobby/internal/tui"
)

// Params holds the resolved command-line intent passed to the fx module.
type Params struct {
	Profile string
	Create  bool
	Group   string // overrides the configured group for --create
	Join    string // session id or fitlobby:// link, empty = resume
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideResumeStore,
			provideClient,
			provideSocket,
			provideManager,
			provideLobbyStore,
			providePresence,
			provideInvites,
			provideController,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if cfg.ServerURL == "" {
		return nil, errors.New("app: server_url is not configured")
	}
	if cfg.UserID == "" {
		return nil, errors.New("app: user_id is not configured (set FITLOBBY_USER_ID or config.toml)")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := profile.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideResumeStore(p Params, logger *zap.Logger) (*resume.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := resume.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("resume store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.ServerURL, cfg.Token, api.Options{
		MaxRetries:  3,
		BaseBackoff: cfg.RetryBaseBackoff.Duration,
	}, logger)
}

func provideSocket(client *api.Client, logger *zap.Logger) *transport.Socket {
	return transport.NewSocket(client.WebsocketURL(), client.Token(), logger)
}

func provideManager(socket *transport.Socket, client *api.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *transport.Manager {
	return transport.NewManager(socket, client, b, logger, transport.Config{
		PollInterval:    cfg.PollInterval.Duration,
		PushMaxRetries:  cfg.PushMaxRetries,
		PollMaxFailures: cfg.PollMaxFailures,
		AutoFallback:    true,
	})
}

func provideLobbyStore(b *bus.Bus) *lobby.Store {
	return lobby.NewStore(b)
}

func providePresence(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideInvites(cfg *config.Config) *invite.Tracker {
	return invite.NewTracker(cfg.InviteTTL.Duration, nil)
}

func provideController(cfg *config.Config, client *api.Client, mgr *transport.Manager, socket *transport.Socket, store *lobby.Store, pres *presence.Tracker, invites *invite.Tracker, db *resume.DB, b *bus.Bus, logger *zap.Logger) *controller.Controller {
	return controller.New(controller.Params{
		SelfID:    cfg.UserID,
		SelfName:  cfg.DisplayName,
		Backend:   client,
		Transport: mgr,
		Channels:  socket,
		Store:     store,
		Presence:  pres,
		Invites:   invites,
		Resume:    db,
		Bus:       b,
		Logger:    logger,
		ChatOptions: chat.Options{
			EchoWindow: cfg.ChatEchoWindow.Duration,
			PageSize:   cfg.ChatPageSize,
		},
	})
}

func provideTUI(ctrl *controller.Controller, store *lobby.Store, pres *presence.Tracker, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *tui.App {
	return tui.NewApp(ctrl, store, pres, b, cfg.UserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, p Params, cfg *config.Config, socket *transport.Socket, invites *invite.Tracker, ctrl *controller.Controller, ui *tui.App, db *resume.DB, lk *profile.Lock, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			socket.Start(runCtx)
			invites.StartSweeper(runCtx, cfg.InviteSweepInterval.Duration)

			group := cfg.GroupID
			if p.Group != "" {
				group = p.Group
			}
			ctrl.Start(group)

			go func() {
				if err := enterLobby(runCtx, p, group, ctrl, db, logger); err != nil {
					logger.Error("entering lobby failed", zap.Error(err))
				}
			}()

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui exited with error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			ui.Stop()
			ctrl.Close(ctx)
			cancel()
			socket.Close()
			if err := db.Close(); err != nil {
				logger.Warn("closing resume store failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("releasing profile lock failed", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}

// enterLobby resolves the startup intent: an explicit join target wins, then
// an explicit create, then resuming the remembered lobby, then creating a
// fresh one for the group.
func enterLobby(ctx context.Context, p Params, group string, ctrl *controller.Controller, db *resume.DB, logger *zap.Logger) error {
	if p.Join != "" {
		return ctrl.JoinLobby(ctx, p.Join)
	}
	if p.Create {
		return ctrl.CreateLobby(ctx, group, lobby.WorkoutData{})
	}

	rec, err := db.LoadActive()
	if err != nil {
		logger.Warn("reading resume record failed", zap.Error(err))
	}
	if rec != nil {
		logger.Info("resuming lobby", zap.String("session", rec.SessionID))
		if err := ctrl.JoinLobby(ctx, rec.SessionID); err == nil {
			return nil
		}
		// Resume failed: the lobby is likely gone. Fall through to create.
		logger.Warn("resume failed, creating a new lobby", zap.String("session", rec.SessionID))
		if err := db.ClearActive(); err != nil {
			logger.Warn("clearing stale resume record failed", zap.Error(err))
		}
	}
	if group == "" {
		return errors.New("app: no group configured, pass --group or set group_id")
	}
	return ctrl.CreateLobby(ctx, group, lobby.WorkoutData{})
}
