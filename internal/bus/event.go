package bus

import "time"

// Kind identifies an event type. Kinds are dot-namespaced so subscribers
// can listen to a whole family with a prefix (e.g. "lobby.").
type Kind string

// Event kinds published across the client.
const (
	// Lobby state.
	KindLobbyState   Kind = "lobby.state"   // payload lobby.Session (authoritative snapshot applied)
	KindLobbyCorrupt Kind = "lobby.corrupt" // payload string (session id)
	KindLobbyDeleted Kind = "lobby.deleted" // payload string (session id)
	KindLobbyStarted Kind = "lobby.started" // payload lobby.WorkoutData
	KindLobbyCleanup Kind = "lobby.cleanup" // payload cleanup phase string
	KindLobbyWarning Kind = "lobby.warning" // payload string, non-fatal, user-visible

	// Chat.
	KindChatUpdated    Kind = "chat.updated"     // log changed, payload nil
	KindChatSendFailed Kind = "chat.send_failed" // payload string (restored input text)

	// Presence.
	KindPresenceChanged Kind = "presence.changed" // payload presence scope name

	// Transport.
	KindTransportMode  Kind = "transport.mode"  // payload transport.ModeChange
	KindTransportError Kind = "transport.error" // payload error string

	// Invites.
	KindInviteReceived Kind = "invite.received" // payload event.InviteReceived
	KindInviteTracked  Kind = "invite.tracked"  // payload string (user id)
)

// Event is a notification published on the bus.
type Event struct {
	Kind    Kind
	At      time.Time
	Payload any
}
