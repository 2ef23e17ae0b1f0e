package lobby

import (
	"errors"
	"testing"
)

func validSession() *Session {
	return &Session{
		SessionID:   "s1",
		GroupID:     "g1",
		InitiatorID: "u1",
		Status:      SessionOpen,
		Members: []Member{
			{UserID: "u1", DisplayName: "Ana", Status: StatusWaiting},
			{UserID: "u2", DisplayName: "Bruno", Status: StatusWaiting},
		},
	}
}

func TestSetSessionRejectsCorrupt(t *testing.T) {
	s := NewStore(nil)
	corrupt := validSession()
	corrupt.InitiatorID = "ghost"

	if err := s.SetSession(corrupt); !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("SetSession error = %v, want ErrCorruptSession", err)
	}
	if _, ok := s.Snapshot(); ok {
		t.Error("corrupt session must not be stored")
	}
}

func TestSetSessionReplacesWholesale(t *testing.T) {
	s := NewStore(nil)
	if err := s.SetSession(validSession()); err != nil {
		t.Fatal(err)
	}
	// Advisory toggle, then an authoritative broadcast that disagrees.
	s.UpdateMemberStatus("u1", StatusReady)

	next := validSession()
	next.Members[0].Status = StatusWaiting
	if err := s.SetSession(next); err != nil {
		t.Fatal(err)
	}

	snap, _ := s.Snapshot()
	m, _ := snap.FindMember("u1")
	if m.Status != StatusWaiting {
		t.Errorf("status = %q, want authoritative %q to win", m.Status, StatusWaiting)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(nil)
	_ = s.SetSession(validSession())

	snap, _ := s.Snapshot()
	snap.Members[0].Status = StatusReady
	snap.Workout.Exercises = append(snap.Workout.Exercises, Exercise{Name: "squat"})

	again, _ := s.Snapshot()
	if again.Members[0].Status != StatusWaiting {
		t.Error("mutating a snapshot leaked into the store")
	}
	if again.Workout.HasPlan() {
		t.Error("appending to a snapshot's plan leaked into the store")
	}
}

func TestVersionIncrements(t *testing.T) {
	s := NewStore(nil)
	v0 := s.Version()
	_ = s.SetSession(validSession())
	if s.Version() <= v0 {
		t.Error("SetSession must increment version")
	}
	v1 := s.Version()
	s.UpdateMemberStatus("u2", StatusReady)
	if s.Version() <= v1 {
		t.Error("UpdateMemberStatus must increment version")
	}
}

func TestAddRemoveMember(t *testing.T) {
	s := NewStore(nil)
	_ = s.SetSession(validSession())

	if !s.AddMember(Member{UserID: "u3", DisplayName: "Caio"}) {
		t.Fatal("AddMember returned false")
	}
	if s.AddMember(Member{UserID: "u3"}) {
		t.Error("duplicate AddMember must be a no-op")
	}
	if !s.RemoveMember("u3") {
		t.Fatal("RemoveMember returned false")
	}
	if s.RemoveMember("u3") {
		t.Error("removing an absent member must return false")
	}

	snap, _ := s.Snapshot()
	if len(snap.Members) != 2 {
		t.Errorf("members = %d, want 2", len(snap.Members))
	}
}

func TestClear(t *testing.T) {
	s := NewStore(nil)
	_ = s.SetSession(validSession())
	s.Clear()
	if _, ok := s.Snapshot(); ok {
		t.Error("Clear must discard session state")
	}
	if s.UpdateMemberStatus("u1", StatusReady) {
		t.Error("advisory mutation after Clear must be a no-op")
	}
}

func TestAllReady(t *testing.T) {
	sess := validSession()
	if sess.AllReady() {
		t.Error("AllReady with waiting members should be false")
	}
	for i := range sess.Members {
		sess.Members[i].Status = StatusReady
	}
	if !sess.AllReady() {
		t.Error("AllReady with all ready should be true")
	}
	empty := &Session{SessionID: "s", InitiatorID: "x"}
	if empty.AllReady() {
		t.Error("AllReady on empty member list should be false")
	}
}
