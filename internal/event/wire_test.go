package event

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, typ, payload string) Event {
	t.Helper()
	evt, err := Decode(Envelope{Channel: "lobby:s1", Type: typ, Payload: json.RawMessage(payload)})
	if err != nil {
		t.Fatalf("Decode(%s): %v", typ, err)
	}
	return evt
}

func TestDecodeStateChanged(t *testing.T) {
	payload := `{"session":{"sessionId":"s1","groupId":"g1","initiatorId":"u1","status":"open","members":[{"userId":"u1","displayName":"Ana","status":"waiting"}]}}`
	evt := decode(t, TypeLobbyStateChanged, payload)
	sc, ok := evt.(StateChanged)
	if !ok {
		t.Fatalf("got %T, want StateChanged", evt)
	}
	if sc.Session.SessionID != "s1" || sc.Session.InitiatorID != "u1" {
		t.Errorf("session = %+v", sc.Session)
	}
	if len(sc.Session.Members) != 1 {
		t.Errorf("members = %d, want 1", len(sc.Session.Members))
	}
}

func TestDecodeMessageSent(t *testing.T) {
	evt := decode(t, TypeLobbyMessageSent, `{"messageId":"m1","userId":"u2","text":"hi","timestampSeconds":1700000000}`)
	msg, ok := evt.(MessageSent)
	if !ok {
		t.Fatalf("got %T, want MessageSent", evt)
	}
	if msg.MessageID != "m1" || msg.Text != "hi" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestDecodeWorkoutStartedWithoutPlan(t *testing.T) {
	evt := decode(t, TypeWorkoutStarted, `{}`)
	ws, ok := evt.(WorkoutStarted)
	if !ok {
		t.Fatalf("got %T, want WorkoutStarted", evt)
	}
	if ws.Workout != nil {
		t.Errorf("workout = %+v, want nil (payload may omit the plan)", ws.Workout)
	}
}

func TestDecodePresence(t *testing.T) {
	evt := decode(t, TypePresenceHere, `{"userIds":["u1","u2"]}`)
	here, ok := evt.(PresenceHere)
	if !ok {
		t.Fatalf("got %T, want PresenceHere", evt)
	}
	if len(here.UserIDs) != 2 {
		t.Errorf("userIds = %v", here.UserIDs)
	}

	if _, ok := decode(t, TypePresenceJoining, `{"userId":"u3"}`).(PresenceJoining); !ok {
		t.Error("joining did not decode to PresenceJoining")
	}
	if _, ok := decode(t, TypePresenceLeaving, `{"userId":"u3"}`).(PresenceLeaving); !ok {
		t.Error("leaving did not decode to PresenceLeaving")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(Envelope{Channel: "lobby:s1", Type: "SomethingNew"})
	if err == nil {
		t.Fatal("unknown type must be an error, not silently dropped")
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	evt, err := Decode(Envelope{Channel: "user:u1", Type: TypeKicked})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := evt.(KickedPersonally); !ok {
		t.Fatalf("got %T, want KickedPersonally", evt)
	}
}
