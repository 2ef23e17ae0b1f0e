package lobby

// MemberStatus is a member's readiness within a lobby.
type MemberStatus string

const (
	StatusWaiting MemberStatus = "waiting"
	StatusReady   MemberStatus = "ready"
)

// Session statuses reported by the backend.
const (
	SessionOpen    = "open"
	SessionStarted = "started"
)

// Member is one participant of a lobby session. UserID is unique within a
// session.
type Member struct {
	UserID       string       `json:"userId"`
	DisplayName  string       `json:"displayName"`
	Status       MemberStatus `json:"status"`
	Role         string       `json:"role"`
	FitnessLevel string       `json:"fitnessLevel,omitempty"`
}

// Exercise is one entry of a generated workout plan.
type Exercise struct {
	Name     string `json:"name"`
	Sets     int    `json:"sets"`
	Reps     int    `json:"reps"`
	Duration int    `json:"durationSeconds,omitempty"`
}

// WorkoutData is the shared plan attached to a session. The client treats it
// as opaque apart from whether exercises exist yet.
type WorkoutData struct {
	Title     string     `json:"title,omitempty"`
	Exercises []Exercise `json:"exercises,omitempty"`
}

// HasPlan reports whether a plan has been generated.
func (w WorkoutData) HasPlan() bool {
	return len(w.Exercises) > 0
}

// Session is the authoritative lobby state. It is replaced wholesale on
// every broadcast, never patched field by field.
type Session struct {
	SessionID   string      `json:"sessionId"`
	GroupID     string      `json:"groupId"`
	InitiatorID string      `json:"initiatorId"`
	Status      string      `json:"status"`
	Workout     WorkoutData `json:"workoutData"`
	Members     []Member    `json:"members"`
}

// FindMember returns the member with the given id, if present.
func (s *Session) FindMember(userID string) (Member, bool) {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// Valid reports whether the session is internally consistent: the initiator
// must reference an existing member. An invalid session must be discarded
// and re-fetched, never rendered as partially valid.
func (s *Session) Valid() bool {
	if s.SessionID == "" {
		return false
	}
	_, ok := s.FindMember(s.InitiatorID)
	return ok
}

// AllReady reports whether every member has toggled ready.
func (s *Session) AllReady() bool {
	if len(s.Members) == 0 {
		return false
	}
	for _, m := range s.Members {
		if m.Status != StatusReady {
			return false
		}
	}
	return true
}

// Clone returns a deep copy, so readers never alias store-owned slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Members = append([]Member(nil), s.Members...)
	cp.Workout.Exercises = append([]Exercise(nil), s.Workout.Exercises...)
	return &cp
}
