package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fitlobby/fitlobby/internal/api"
	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/chat"
	"github.com/fitlobby/fitlobby/internal/event"
	"github.com/fitlobby/fitlobby/internal/invite"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"github.com/fitlobby/fitlobby/internal/presence"
	"github.com/fitlobby/fitlobby/internal/transport"
)

type fakeBackend struct {
	mu sync.Mutex

	joinErrs    []error
	sessions    map[string]*lobby.Session
	generated   *lobby.WorkoutData
	generateErr error
	inviteErr   error

	joinCalls     int
	leaveCalls    []string
	generateCalls int
	updateWorkout []lobby.WorkoutData
	statusCalls   []lobby.MemberStatus
	kicked        []string
	transferred   []string
	invited       []string
	started       []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]*lobby.Session)}
}

func (f *fakeBackend) CreateLobby(ctx context.Context, groupID string, initial lobby.WorkoutData) (*lobby.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := &lobby.Session{
		SessionID:   "sess-1",
		GroupID:     groupID,
		InitiatorID: "me",
		Status:      lobby.SessionOpen,
		Workout:     initial,
		Members:     []lobby.Member{{UserID: "me", DisplayName: "Me", Status: lobby.StatusWaiting}},
	}
	f.sessions[sess.SessionID] = sess
	return sess.Clone(), nil
}

func (f *fakeBackend) JoinLobby(ctx context.Context, sessionID string) (*lobby.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if len(f.joinErrs) > 0 {
		err := f.joinErrs[0]
		f.joinErrs = f.joinErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if sess, ok := f.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}
	return nil, api.ErrNotFound
}

func (f *fakeBackend) LeaveLobby(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls = append(f.leaveCalls, sessionID)
	return nil
}

func (f *fakeBackend) GetLobbyState(ctx context.Context, sessionID string) (*lobby.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}
	return nil, api.ErrNotFound
}

func (f *fakeBackend) UpdateMemberStatus(ctx context.Context, sessionID string, status lobby.MemberStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, status)
	return nil
}

func (f *fakeBackend) UpdateWorkoutData(ctx context.Context, sessionID string, w lobby.WorkoutData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateWorkout = append(f.updateWorkout, w)
	return nil
}

func (f *fakeBackend) StartWorkout(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID)
	return nil
}

func (f *fakeBackend) InviteMember(ctx context.Context, sessionID, userID, groupID string, w lobby.WorkoutData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invited = append(f.invited, userID)
	return f.inviteErr
}

func (f *fakeBackend) KickMember(ctx context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, userID)
	return nil
}

func (f *fakeBackend) TransferInitiator(ctx context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferred = append(f.transferred, userID)
	return nil
}

func (f *fakeBackend) GenerateWorkout(ctx context.Context, memberIDs []string) (*lobby.WorkoutData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	if f.generated != nil {
		cp := *f.generated
		return &cp, nil
	}
	return &lobby.WorkoutData{Title: "Generated", Exercises: []lobby.Exercise{{Name: "Squats", Sets: 3, Reps: 12}}}, nil
}

func (f *fakeBackend) SendChatMessage(ctx context.Context, sessionID, text string) error {
	return nil
}

func (f *fakeBackend) GetChatMessages(ctx context.Context, sessionID string, limit int, before int64) (*api.ChatPage, error) {
	return &api.ChatPage{}, nil
}

func (f *fakeBackend) leaves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.leaveCalls...)
}

func (f *fakeBackend) generations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

func (f *fakeBackend) workoutUpdates() []lobby.WorkoutData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lobby.WorkoutData(nil), f.updateWorkout...)
}

type fakeLobbyTransport struct {
	mu       sync.Mutex
	handlers transport.Handlers
	subs     int
	stops    int
}

func (f *fakeLobbyTransport) Subscribe(sessionID string, h transport.Handlers) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
	f.subs++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stops++
	}
}

func (f *fakeLobbyTransport) deliver(evt event.Event) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	h.OnEvent(evt)
}

func (f *fakeLobbyTransport) stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeChannels struct {
	mu       sync.Mutex
	handlers map[string]func(event.Event)
	stops    map[string]int
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{
		handlers: make(map[string]func(event.Event)),
		stops:    make(map[string]int),
	}
}

func (f *fakeChannels) Subscribe(channel string, onEvent func(event.Event), onError func(error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[channel] = onEvent
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stops[channel]++
	}, nil
}

func (f *fakeChannels) deliver(channel string, evt event.Event) {
	f.mu.Lock()
	h := f.handlers[channel]
	f.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (f *fakeChannels) subscribed(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[channel]
	return ok
}

type fakeResume struct {
	mu     sync.Mutex
	active string
	saves  int
	clears int
}

func (f *fakeResume) SaveActive(sessionID, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = sessionID
	f.saves++
	return nil
}

func (f *fakeResume) LoadActiveSessionID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeResume) ClearActive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = ""
	f.clears++
	return nil
}

type harness struct {
	backend  *fakeBackend
	lobbyT   *fakeLobbyTransport
	channels *fakeChannels
	resume   *fakeResume
	store    *lobby.Store
	presence *presence.Tracker
	invites  *invite.Tracker
	bus      *bus.Bus
	ctrl     *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.New()
	h := &harness{
		backend:  newFakeBackend(),
		lobbyT:   &fakeLobbyTransport{},
		channels: newFakeChannels(),
		resume:   &fakeResume{},
		store:    lobby.NewStore(b),
		presence: presence.NewTracker(b),
		invites:  invite.NewTracker(5*time.Minute, time.Now),
		bus:      b,
	}
	h.ctrl = New(Params{
		SelfID:      "me",
		SelfName:    "Me",
		Backend:     h.backend,
		Transport:   h.lobbyT,
		Channels:    h.channels,
		Store:       h.store,
		Presence:    h.presence,
		Invites:     h.invites,
		Resume:      h.resume,
		Bus:         b,
		Logger:      zap.NewNop(),
		ChatOptions: chat.Options{EchoWindow: 5 * time.Second, PageSize: 50},
	})
	h.ctrl.Start("group-1")
	return h
}

func session(members ...lobby.Member) *lobby.Session {
	return &lobby.Session{
		SessionID:   "sess-1",
		GroupID:     "group-1",
		InitiatorID: "me",
		Status:      lobby.SessionOpen,
		Members:     members,
	}
}

func member(id string, status lobby.MemberStatus) lobby.Member {
	return lobby.Member{UserID: id, DisplayName: id, Status: status}
}

func TestAutoGenerationFiresOnceWhenAllReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	// Second member joins, then both go ready.
	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusWaiting), member("u2", lobby.StatusWaiting))})
	require.Equal(t, 0, h.backend.generations())

	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusReady), member("u2", lobby.StatusReady))})
	require.Equal(t, 1, h.backend.generations())

	updates := h.backend.workoutUpdates()
	require.Len(t, updates, 1)
	assert.True(t, updates[0].HasPlan())

	// The local store already shows the plan before any broadcast echoes it.
	snap, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.True(t, snap.Workout.HasPlan())

	// A duplicate all-ready broadcast without the plan must not re-fire: the
	// trigger is edge-triggered and was consumed.
	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusReady), member("u2", lobby.StatusReady))})
	assert.Equal(t, 1, h.backend.generations())
}

func TestAutoGenerationDoesNotRefireWithPlanPresent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusReady), member("u2", lobby.StatusReady))})
	require.Equal(t, 1, h.backend.generations())

	// The broadcast now carries the plan; a member toggles not-ready and
	// ready again. The plan exists, so the condition never becomes true and
	// no second generation happens.
	withPlan := session(member("me", lobby.StatusReady), member("u2", lobby.StatusWaiting))
	withPlan.Workout = lobby.WorkoutData{Exercises: []lobby.Exercise{{Name: "Squats"}}}
	h.lobbyT.deliver(event.StateChanged{Session: *withPlan})

	ready := session(member("me", lobby.StatusReady), member("u2", lobby.StatusReady))
	ready.Workout = withPlan.Workout
	h.lobbyT.deliver(event.StateChanged{Session: *ready})

	assert.Equal(t, 1, h.backend.generations())
}

func TestAutoGenerationRearmsAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	h.backend.mu.Lock()
	h.backend.generateErr = errors.New("llm unavailable")
	h.backend.mu.Unlock()

	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusReady), member("u2", lobby.StatusReady))})
	require.Equal(t, 1, h.backend.generations())

	h.backend.mu.Lock()
	h.backend.generateErr = nil
	h.backend.mu.Unlock()

	// The failure re-armed the trigger; the next broadcast retries.
	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusReady), member("u2", lobby.StatusReady))})
	assert.Equal(t, 2, h.backend.generations())
}

func TestAutoGenerationSkippedForNonInitiator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := session(member("u2", lobby.StatusReady), member("me", lobby.StatusReady))
	sess.InitiatorID = "u2"
	h.backend.sessions["sess-1"] = sess
	require.NoError(t, h.ctrl.JoinLobby(ctx, "sess-1"))

	h.lobbyT.deliver(event.StateChanged{Session: *sess.Clone()})
	assert.Equal(t, 0, h.backend.generations())
}

func TestMembershipDropClearsPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	withPlan := session(
		member("me", lobby.StatusReady), member("u2", lobby.StatusReady), member("u3", lobby.StatusReady))
	withPlan.Workout = lobby.WorkoutData{Exercises: []lobby.Exercise{{Name: "Burpees"}}}
	h.lobbyT.deliver(event.StateChanged{Session: *withPlan})
	require.Empty(t, h.backend.workoutUpdates())

	// Everyone but the initiator leaves; the plan was sized for three.
	alone := session(member("me", lobby.StatusReady))
	alone.Workout = withPlan.Workout
	h.lobbyT.deliver(event.StateChanged{Session: *alone})

	updates := h.backend.workoutUpdates()
	require.Len(t, updates, 1)
	assert.False(t, updates[0].HasPlan())

	snap, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.False(t, snap.Workout.HasPlan())

	// No generation either: a single member never satisfies the trigger.
	assert.Equal(t, 0, h.backend.generations())
}

func TestCleanupIdempotentWithSingleLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))
	require.Equal(t, PhaseActive, h.ctrl.Phase())

	require.NoError(t, h.ctrl.Leave(ctx))
	assert.Equal(t, PhaseCleaned, h.ctrl.Phase())

	// Unmount after an explicit leave must not issue a second remote leave
	// or re-run the teardown steps.
	h.ctrl.Close(ctx)
	h.ctrl.Close(ctx)

	assert.Equal(t, []string{"sess-1"}, h.backend.leaves())
	assert.Equal(t, 1, h.lobbyT.stopped())
	h.resume.mu.Lock()
	assert.Equal(t, 1, h.resume.clears)
	h.resume.mu.Unlock()

	_, ok := h.store.Snapshot()
	assert.False(t, ok)

	// Back on the group notification channel for future invites.
	assert.True(t, h.channels.subscribed("notify:group:group-1"))
}

func TestLeaveClearsSessionInvites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	h.presence.ApplyHere(presence.ScopeGroup, []string{"me", "u2"})
	require.NoError(t, h.ctrl.InviteMember(ctx, "u2"))
	require.Len(t, h.invites.PendingUserIDs("sess-1"), 1)

	// Leaving dissolves the lobby's pending invites immediately, not via the
	// TTL sweep.
	require.NoError(t, h.ctrl.Leave(ctx))
	assert.Empty(t, h.invites.PendingUserIDs("sess-1"))
}

func TestCloseAfterStartSkipsLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	plan := &lobby.WorkoutData{Exercises: []lobby.Exercise{{Name: "Plank"}}}
	h.lobbyT.deliver(event.WorkoutStarted{Workout: plan})

	// The workout started: leaving the lobby session is the backend's job now.
	h.ctrl.Close(ctx)
	assert.Empty(t, h.backend.leaves())
	assert.Equal(t, PhaseCleaned, h.ctrl.Phase())
}

func TestLobbyDeletedTriggersCleanupWithoutLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	h.lobbyT.deliver(event.LobbyDeleted{})

	assert.Equal(t, PhaseCleaned, h.ctrl.Phase())
	assert.Empty(t, h.backend.leaves())
}

func TestTransferVisibleOnlyThroughBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))
	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusWaiting), member("u2", lobby.StatusWaiting))})

	require.NoError(t, h.ctrl.TransferInitiator(ctx, "u2"))

	// The command was sent but the local initiator is unchanged until the
	// broadcast confirms it.
	snap, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "me", snap.InitiatorID)

	transferred := session(member("me", lobby.StatusWaiting), member("u2", lobby.StatusWaiting))
	transferred.InitiatorID = "u2"
	h.lobbyT.deliver(event.StateChanged{Session: *transferred})

	snap, ok = h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "u2", snap.InitiatorID)

	// Initiator-only actions now fail locally.
	assert.ErrorIs(t, h.ctrl.KickMember(ctx, "u2"), ErrNotInitiator)
}

func TestInviteAlreadyPendingStillTracked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	h.presence.ApplyHere(presence.ScopeGroup, []string{"me", "u2", "u3"})
	require.ElementsMatch(t, []string{"u2", "u3"}, h.ctrl.InviteCandidates())

	h.backend.mu.Lock()
	h.backend.inviteErr = &api.Error{StatusCode: 409, Code: "already_pending"}
	h.backend.mu.Unlock()

	// The rejection still means an invite exists, so u2 is tracked and
	// filtered out of the candidate list.
	require.NoError(t, h.ctrl.InviteMember(ctx, "u2"))
	assert.ElementsMatch(t, []string{"u3"}, h.ctrl.InviteCandidates())
}

func TestMemberJoinedConsumesInvite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	h.presence.ApplyHere(presence.ScopeGroup, []string{"me", "u2"})
	require.NoError(t, h.ctrl.InviteMember(ctx, "u2"))
	require.Empty(t, h.ctrl.InviteCandidates())

	h.lobbyT.deliver(event.MemberJoined{UserID: "u2", DisplayName: "U2"})
	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusWaiting), member("u2", lobby.StatusWaiting))})

	// u2 is now a member, so still not a candidate; but once they leave the
	// consumed invite does not shadow them.
	require.Empty(t, h.ctrl.InviteCandidates())
	h.lobbyT.deliver(event.StateChanged{Session: *session(member("me", lobby.StatusWaiting))})
	assert.ElementsMatch(t, []string{"u2"}, h.ctrl.InviteCandidates())
}

func TestCorruptBroadcastForcesRefetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	good := session(member("me", lobby.StatusWaiting), member("u2", lobby.StatusWaiting))
	h.backend.mu.Lock()
	h.backend.sessions["sess-1"] = good
	h.backend.mu.Unlock()

	// Initiator not in the member list: invalid, must be discarded wholesale.
	corrupt := session(member("u2", lobby.StatusWaiting))
	h.lobbyT.deliver(event.StateChanged{Session: *corrupt})

	snap, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.Members, 2)
}

func TestJoinRetriesOnceAfterStaleMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backend.sessions["sess-1"] = session(
		member("u2", lobby.StatusWaiting), member("me", lobby.StatusWaiting))
	h.backend.sessions["sess-1"].InitiatorID = "u2"
	h.backend.joinErrs = []error{&api.Error{StatusCode: 409, Code: "already_in_lobby"}}

	// The backend still believes we are in a previous lobby remembered in
	// the resume record.
	h.resume.active = "sess-0"

	require.NoError(t, h.ctrl.JoinLobby(ctx, "sess-1"))
	assert.Equal(t, 2, h.backend.joinCalls)
	assert.Equal(t, []string{"sess-0"}, h.backend.leaves())
	h.resume.mu.Lock()
	clears := h.resume.clears
	h.resume.mu.Unlock()
	assert.Equal(t, 1, clears)
	assert.Equal(t, PhaseActive, h.ctrl.Phase())
}

func TestJoinFailsAfterSecondConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conflict := &api.Error{StatusCode: 409, Code: "already_in_lobby"}
	h.backend.joinErrs = []error{conflict, conflict}

	err := h.ctrl.JoinLobby(ctx, "sess-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrAlreadyInLobby)
	assert.Equal(t, 2, h.backend.joinCalls)
}

func TestWorkoutStartedFallsBackToSessionPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	started, done := h.bus.Subscribe(bus.KindLobbyStarted, 4)
	defer done()

	withPlan := session(member("me", lobby.StatusReady), member("u2", lobby.StatusReady))
	withPlan.Workout = lobby.WorkoutData{Exercises: []lobby.Exercise{{Name: "Rows"}}}
	h.lobbyT.deliver(event.StateChanged{Session: *withPlan})

	// Payload carries no plan; the session snapshot supplies it.
	h.lobbyT.deliver(event.WorkoutStarted{})

	select {
	case evt := <-started:
		plan, ok := evt.Payload.(lobby.WorkoutData)
		require.True(t, ok)
		assert.True(t, plan.HasPlan())
	default:
		t.Fatal("expected a started event")
	}
}

func TestWorkoutStartedWithoutAnyPlanIsRecoverable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	warnings, done := h.bus.Subscribe(bus.KindLobbyWarning, 4)
	defer done()

	h.lobbyT.deliver(event.WorkoutStarted{})

	select {
	case <-warnings:
	default:
		t.Fatal("expected a recoverable warning")
	}

	// The lobby survives: a later event with the plan completes the start.
	assert.Equal(t, PhaseActive, h.ctrl.Phase())
	plan := &lobby.WorkoutData{Exercises: []lobby.Exercise{{Name: "Lunges"}}}
	h.lobbyT.deliver(event.WorkoutStarted{Workout: plan})
	h.ctrl.Close(ctx)
	assert.Empty(t, h.backend.leaves())
}

func TestKickedPersonallyCleansUpMatchingSessionOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	// A kick notification for some other session is ignored.
	h.channels.deliver("user:me", event.KickedPersonally{SessionID: "sess-other"})
	require.Equal(t, PhaseActive, h.ctrl.Phase())

	h.channels.deliver("user:me", event.KickedPersonally{SessionID: "sess-1"})
	assert.Equal(t, PhaseCleaned, h.ctrl.Phase())
	assert.Empty(t, h.backend.leaves())
}

func TestBroadcastForOtherSessionIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	other := session(member("me", lobby.StatusReady), member("u2", lobby.StatusReady))
	other.SessionID = "sess-2"
	h.lobbyT.deliver(event.StateChanged{Session: *other})

	snap, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "sess-1", snap.SessionID)
	assert.Equal(t, 0, h.backend.generations())
}

func TestPresenceScopesStayIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	h.channels.deliver("presence:global", event.PresenceHere{UserIDs: []string{"me", "u2", "u9"}})
	h.channels.deliver("presence:group:group-1", event.PresenceHere{UserIDs: []string{"me", "u2"}})
	h.channels.deliver("presence:lobby:sess-1", event.PresenceHere{UserIDs: []string{"me"}})

	assert.True(t, h.presence.Online(presence.ScopeGlobal, "u9"))
	assert.False(t, h.presence.Online(presence.ScopeGroup, "u9"))
	assert.False(t, h.presence.Online(presence.ScopeLobby, "u2"))

	// u9 is online globally but not in the group, so never a candidate.
	assert.ElementsMatch(t, []string{"u2"}, h.ctrl.InviteCandidates())
}

func TestInviteReceivedWhileIdleReachesBus(t *testing.T) {
	h := newHarness(t)

	received, done := h.bus.Subscribe(bus.KindInviteReceived, 4)
	defer done()

	h.channels.deliver("notify:group:group-1", event.InviteReceived{
		SessionID: "sess-9", GroupID: "group-1", InviterID: "u2",
	})

	select {
	case evt := <-received:
		inv, ok := evt.Payload.(event.InviteReceived)
		require.True(t, ok)
		assert.Equal(t, "sess-9", inv.SessionID)
	default:
		t.Fatal("expected an invite on the bus")
	}
}

func TestChatSenderResolvedFromRoster(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))

	sess := session(member("me", lobby.StatusWaiting),
		lobby.Member{UserID: "u2", DisplayName: "Bruno", Status: lobby.StatusWaiting})
	h.lobbyT.deliver(event.StateChanged{Session: *sess})

	h.lobbyT.deliver(event.MessageSent{MessageID: "m1", UserID: "u2", Text: "yo", Timestamp: 100})

	msgs := h.ctrl.Chat().Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Bruno", msgs[len(msgs)-1].Sender)
}

func TestToggleReadyAdvisoryThenAuthoritative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.CreateLobby(ctx, "group-1", lobby.WorkoutData{}))
	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusWaiting), member("u2", lobby.StatusWaiting))})

	require.NoError(t, h.ctrl.ToggleReady(ctx, true))

	snap, ok := h.store.Snapshot()
	require.True(t, ok)
	m, found := snap.FindMember("me")
	require.True(t, found)
	assert.Equal(t, lobby.StatusReady, m.Status)

	// The authoritative broadcast wins even when it contradicts the
	// advisory value.
	h.lobbyT.deliver(event.StateChanged{Session: *session(
		member("me", lobby.StatusWaiting), member("u2", lobby.StatusWaiting))})
	snap, _ = h.store.Snapshot()
	m, _ = snap.FindMember("me")
	assert.Equal(t, lobby.StatusWaiting, m.Status)
}
