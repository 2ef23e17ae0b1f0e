package transport

import (
	"fmt"
	"slices"
)

// Mode is which transport currently feeds a lobby subscription. Transitions
// are driven by connection-state signals and retry thresholds, never set
// directly by UI code.
type Mode string

const (
	ModeDisconnected Mode = "disconnected"
	ModePush         Mode = "push"
	ModePoll         Mode = "poll"
)

// validTransitions defines allowed mode changes. disconnected → poll covers
// the case where the push transport never connects at all.
var validTransitions = map[Mode][]Mode{
	ModeDisconnected: {ModePush, ModePoll},
	ModePush:         {ModePoll, ModeDisconnected},
	ModePoll:         {ModePush, ModeDisconnected},
}

// ModeChange is reported to subscribers when the transport switches.
type ModeChange struct {
	From Mode
	To   Mode
}

func (c ModeChange) String() string {
	return fmt.Sprintf("%s -> %s", c.From, c.To)
}

func canTransition(from, to Mode) bool {
	return slices.Contains(validTransitions[from], to)
}
