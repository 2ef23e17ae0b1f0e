// Package tui renders the lobby: roster, chat, invite screen and the status
// bar. It owns no state of its own; every redraw reads the store, presence
// tracker and chat subsystem, reacting to bus events.
package tui

import (
	"context"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/controller"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"github.com/fitlobby/fitlobby/internal/presence"
	"github.com/fitlobby/fitlobby/internal/transport"
	"github.com/fitlobby/fitlobby/internal/tui/views"
)

// flash is a short-lived status message.
type flash struct {
	mu       sync.Mutex
	msg      string
	deadline time.Time
}

func (f *flash) Set(msg string, ttl time.Duration) {
	f.mu.Lock()
	f.msg = msg
	f.deadline = time.Now().Add(ttl)
	f.mu.Unlock()
}

func (f *flash) Get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Now().After(f.deadline) {
		return ""
	}
	return f.msg
}

// App is the main TUI application shell.
type App struct {
	app   *tview.Application
	pages *tview.Pages

	ctrl     *controller.Controller
	store    *lobby.Store
	presence *presence.Tracker
	bus      *bus.Bus
	selfID   string
	logger   *zap.Logger
	flash    *flash

	statusBar  *views.StatusBar
	memberList *views.MemberList
	chatView   *views.ChatView
	composer   *views.Composer
	inviteView *views.InviteView

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(ctrl *controller.Controller, store *lobby.Store, pres *presence.Tracker, b *bus.Bus, selfID string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:        tview.NewApplication(),
		pages:      tview.NewPages(),
		ctrl:       ctrl,
		store:      store,
		presence:   pres,
		bus:        b,
		selfID:     selfID,
		logger:     logger,
		flash:      &flash{},
		statusBar:  views.NewStatusBar(),
		memberList: views.NewMemberList(selfID),
		chatView:   views.NewChatView(),
		composer:   views.NewComposer(),
		inviteView: views.NewInviteView(),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.composer.SetOnSend(func(text string) {
		ch := a.ctrl.Chat()
		if ch == nil {
			return
		}
		go func() {
			if err := ch.Send(a.ctx, text); err != nil {
				a.flash.Set("Send failed: "+err.Error(), 5*time.Second)
				a.queueRefresh()
			}
		}()
	})
}

func (a *App) setupLayout() {
	lobbyFlex := tview.NewFlex().
		AddItem(a.memberList, 0, 1, true).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(a.chatView, 0, 1, false).
			AddItem(a.composer, 1, 0, false), 0, 2, false)

	a.pages.AddPage("lobby", lobbyFlex, true, true)
	a.pages.AddPage("invite", a.inviteView, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "invite" {
			a.pages.SwitchToPage("lobby")
			a.app.SetFocus(a.memberList)
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() != tcell.KeyRune {
			return event
		}

		switch event.Rune() {
		case 'q':
			a.Stop()
			return nil
		case 'i':
			a.app.SetFocus(a.composer.InputField)
			return nil
		case 'r':
			a.toggleReady()
			return nil
		case 's':
			a.startWorkout()
			return nil
		case 'k':
			a.kickSelected()
			return nil
		case 't':
			a.transferSelected()
			return nil
		case 'o':
			a.loadOlder()
			return nil
		case 'v':
			a.showInvite()
			return nil
		case 'a':
			if currentPage == "invite" {
				go func() {
					a.ctrl.InviteAll(a.ctx)
					a.queueRefresh()
				}()
				return nil
			}
		}

		return event
	})
}

func (a *App) toggleReady() {
	snap, ok := a.store.Snapshot()
	if !ok {
		return
	}
	self, found := snap.FindMember(a.selfID)
	if !found {
		return
	}
	ready := self.Status != lobby.StatusReady
	go func() {
		if err := a.ctrl.ToggleReady(a.ctx, ready); err != nil {
			a.flash.Set("Ready toggle failed: "+err.Error(), 5*time.Second)
			a.queueRefresh()
		}
	}()
}

func (a *App) startWorkout() {
	go func() {
		if err := a.ctrl.StartWorkout(a.ctx); err != nil {
			a.flash.Set("Start failed: "+err.Error(), 5*time.Second)
			a.queueRefresh()
		}
	}()
}

func (a *App) kickSelected() {
	userID := a.memberList.SelectedUserID()
	if userID == "" {
		return
	}
	go func() {
		if err := a.ctrl.KickMember(a.ctx, userID); err != nil {
			a.flash.Set("Kick failed: "+err.Error(), 5*time.Second)
			a.queueRefresh()
		}
	}()
}

func (a *App) transferSelected() {
	userID := a.memberList.SelectedUserID()
	if userID == "" {
		return
	}
	go func() {
		if err := a.ctrl.TransferInitiator(a.ctx, userID); err != nil {
			a.flash.Set("Transfer failed: "+err.Error(), 5*time.Second)
			a.queueRefresh()
		}
	}()
}

func (a *App) loadOlder() {
	ch := a.ctrl.Chat()
	if ch == nil {
		return
	}
	go func() {
		if err := ch.LoadMore(a.ctx); err != nil {
			a.flash.Set("History load failed: "+err.Error(), 5*time.Second)
		}
		a.queueRefresh()
	}()
}

func (a *App) showInvite() {
	link, err := a.ctrl.JoinLink()
	if err != nil {
		return
	}
	a.inviteView.Update(link, a.ctrl.InviteCandidates())
	a.pages.SwitchToPage("invite")
}

// Run starts the TUI application and blocks until it stops.
func (a *App) Run() error {
	a.logger.Info("tui starting")
	go a.eventLoop()
	a.queueRefresh()
	return a.app.Run()
}

// eventLoop reacts to bus events with targeted redraws. The empty prefix
// matches every kind.
func (a *App) eventLoop() {
	events, unsubscribe := a.bus.Subscribe("", 64)
	defer unsubscribe()

	for {
		select {
		case evt := <-events:
			a.handleBusEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleBusEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatSendFailed:
		text, _ := evt.Payload.(string)
		a.flash.Set("Message not sent", 5*time.Second)
		a.app.QueueUpdateDraw(func() {
			a.composer.Restore(text)
			a.refresh()
		})
		return

	case bus.KindTransportMode:
		if change, ok := evt.Payload.(transport.ModeChange); ok {
			a.statusBar.SetMode(string(change.To))
			if change.To == transport.ModePoll {
				a.flash.Set("Connection degraded, polling", 5*time.Second)
			}
		}

	case bus.KindLobbyStarted:
		a.flash.Set("Workout started!", 5*time.Second)

	case bus.KindLobbyDeleted:
		a.flash.Set("The lobby was closed", 5*time.Second)

	case bus.KindLobbyWarning:
		if msg, ok := evt.Payload.(string); ok {
			a.flash.Set(msg, 5*time.Second)
		}

	case bus.KindTransportError:
		if msg, ok := evt.Payload.(string); ok {
			a.flash.Set(msg, 5*time.Second)
		}

	case bus.KindInviteReceived:
		a.flash.Set("You have a new lobby invite", 10*time.Second)
	}

	a.queueRefresh()
}

func (a *App) queueRefresh() {
	a.app.QueueUpdateDraw(a.refresh)
}

// refresh re-reads all state and redraws. Must run on the UI goroutine.
func (a *App) refresh() {
	snap, ok := a.store.Snapshot()
	if ok {
		a.statusBar.SetSession(snap.SessionID)
		a.memberList.Update(snap, func(id string) bool {
			return a.presence.Online(presence.ScopeGlobal, id)
		})
	} else {
		a.statusBar.SetSession("no lobby")
		a.memberList.Update(nil, nil)
	}

	if ch := a.ctrl.Chat(); ch != nil {
		a.chatView.Update(ch.Messages(), ch.HasMore())
	} else {
		a.chatView.Update(nil, false)
	}

	if page, _ := a.pages.GetFrontPage(); page == "invite" {
		if link, err := a.ctrl.JoinLink(); err == nil {
			a.inviteView.Update(link, a.ctrl.InviteCandidates())
		}
	}

	a.statusBar.SetFlash(a.flash.Get())
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
