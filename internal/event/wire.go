package event

import (
	"encoding/json"
	"fmt"
)

// Wire type names as emitted by the backend.
const (
	TypeLobbyStateChanged   = "LobbyStateChanged"
	TypeMemberJoined        = "MemberJoined"
	TypeMemberLeft          = "MemberLeft"
	TypeMemberStatusUpdated = "MemberStatusUpdated"
	TypeLobbyMessageSent    = "LobbyMessageSent"
	TypeWorkoutStarted      = "WorkoutStarted"
	TypeLobbyDeleted        = "LobbyDeleted"
	TypeMemberKicked        = "MemberKicked"
	TypeRoleTransferred     = "InitiatorRoleTransferred"
	TypeKicked              = "Kicked"
	TypeInviteReceived      = "InviteReceived"
	TypePresenceHere        = "here"
	TypePresenceJoining     = "joining"
	TypePresenceLeaving     = "leaving"
)

// Envelope is the frame format shared by every push channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode maps an envelope to its typed event. Unknown types are an error so
// callers can log them instead of dropping frames silently.
func Decode(env Envelope) (Event, error) {
	var (
		evt Event
		err error
	)
	switch env.Type {
	case TypeLobbyStateChanged:
		evt, err = unmarshal[StateChanged](env.Payload)
	case TypeMemberJoined:
		evt, err = unmarshal[MemberJoined](env.Payload)
	case TypeMemberLeft:
		evt, err = unmarshal[MemberLeft](env.Payload)
	case TypeMemberStatusUpdated:
		evt, err = unmarshal[MemberStatusUpdated](env.Payload)
	case TypeLobbyMessageSent:
		evt, err = unmarshal[MessageSent](env.Payload)
	case TypeWorkoutStarted:
		evt, err = unmarshal[WorkoutStarted](env.Payload)
	case TypeLobbyDeleted:
		evt, err = unmarshal[LobbyDeleted](env.Payload)
	case TypeMemberKicked:
		evt, err = unmarshal[MemberKicked](env.Payload)
	case TypeRoleTransferred:
		evt, err = unmarshal[RoleTransferred](env.Payload)
	case TypeKicked:
		evt, err = unmarshal[KickedPersonally](env.Payload)
	case TypeInviteReceived:
		evt, err = unmarshal[InviteReceived](env.Payload)
	case TypePresenceHere:
		evt, err = unmarshal[PresenceHere](env.Payload)
	case TypePresenceJoining:
		evt, err = unmarshal[PresenceJoining](env.Payload)
	case TypePresenceLeaving:
		evt, err = unmarshal[PresenceLeaving](env.Payload)
	default:
		return nil, fmt.Errorf("event: unknown type %q on channel %q", env.Type, env.Channel)
	}
	if err != nil {
		return nil, fmt.Errorf("event: decode %s: %w", env.Type, err)
	}
	return evt, nil
}

func unmarshal[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
