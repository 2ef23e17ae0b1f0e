// Package event defines the closed set of events the lobby backend delivers
// over its push and poll transports, as a tagged union rather than string
// dispatch: adding a kind is a compile-time-checked change everywhere an
// exhaustive switch consumes Event.
package event

import "github.com/fitlobby/fitlobby/internal/lobby"

// Event is the sealed union of backend events.
type Event interface{ isEvent() }

// StateChanged carries the full authoritative session. It is the single
// source of truth for all state transitions.
type StateChanged struct {
	Session lobby.Session `json:"session"`
}

// MemberJoined, MemberLeft and MemberStatusUpdated are used only to
// synthesize system chat lines (and invite bookkeeping), never to mutate
// lobby state directly.
type MemberJoined struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type MemberLeft struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type MemberStatusUpdated struct {
	UserID      string             `json:"userId"`
	DisplayName string             `json:"displayName"`
	Status      lobby.MemberStatus `json:"status"`
}

// MessageSent is an authoritative chat message.
type MessageSent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestampSeconds"`
	IsSystem  bool   `json:"isSystem"`
}

// WorkoutStarted signals the transition into the activity. The payload may
// omit the plan; consumers must fall back to the latest authoritative
// session's plan.
type WorkoutStarted struct {
	Workout *lobby.WorkoutData `json:"workoutData,omitempty"`
}

// LobbyDeleted signals the session no longer exists.
type LobbyDeleted struct {
	SessionID string `json:"sessionId"`
}

// MemberKicked is observed by the remaining members, not the kicked user.
type MemberKicked struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// RoleTransferred announces a new initiator. State still comes only from the
// next StateChanged broadcast.
type RoleTransferred struct {
	NewInitiatorID string `json:"newInitiatorId"`
	DisplayName    string `json:"displayName"`
}

// KickedPersonally is delivered on the removed user's personal channel.
type KickedPersonally struct {
	SessionID string `json:"sessionId"`
}

// InviteReceived is delivered on the group notification channel.
type InviteReceived struct {
	SessionID string `json:"sessionId"`
	GroupID   string `json:"groupId"`
	InviterID string `json:"inviterId"`
}

// PresenceHere is a full resync of a presence scope; it replaces the set
// wholesale.
type PresenceHere struct {
	UserIDs []string `json:"userIds"`
}

// PresenceJoining and PresenceLeaving are additive deltas.
type PresenceJoining struct {
	UserID string `json:"userId"`
}

type PresenceLeaving struct {
	UserID string `json:"userId"`
}

func (StateChanged) isEvent()        {}
func (MemberJoined) isEvent()        {}
func (MemberLeft) isEvent()          {}
func (MemberStatusUpdated) isEvent() {}
func (MessageSent) isEvent()         {}
func (WorkoutStarted) isEvent()      {}
func (LobbyDeleted) isEvent()        {}
func (MemberKicked) isEvent()        {}
func (RoleTransferred) isEvent()     {}
func (KickedPersonally) isEvent()    {}
func (InviteReceived) isEvent()      {}
func (PresenceHere) isEvent()        {}
func (PresenceJoining) isEvent()     {}
func (PresenceLeaving) isEvent()     {}
