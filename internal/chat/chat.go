// Package chat keeps the ordered message log of one lobby: optimistic local
// echo for sends, reconciliation against the authoritative stream, and
// keyset pagination backwards through history.
package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fitlobby/fitlobby/internal/api"
	"github.com/fitlobby/fitlobby/internal/bus"
	"github.com/fitlobby/fitlobby/internal/event"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TempIDPrefix marks an unconfirmed, locally originated message. The server
// never issues ids with this prefix, so temp ids cannot collide with
// authoritative ones.
const TempIDPrefix = "tmp-"

// Message is one entry of the log. Authoritative messages are append-only
// and never mutated; temporary ones are removed (not mutated) when
// superseded or failed.
type Message struct {
	MessageID string
	UserID    string // empty for system lines
	Sender    string
	Text      string
	Timestamp int64 // unix seconds
	IsSystem  bool

	createdAt time.Time // local wall time for temp entries
}

// Pending reports whether this is an unconfirmed local echo.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.MessageID, TempIDPrefix)
}

// Backend is the remote chat surface the subsystem needs.
type Backend interface {
	SendChatMessage(ctx context.Context, sessionID, text string) error
	GetChatMessages(ctx context.Context, sessionID string, limit int, before int64) (*api.ChatPage, error)
}

// Subsystem manages the log for one session.
type Subsystem struct {
	sessionID   string
	selfID      string
	selfName    string
	backend     Backend
	bus         *bus.Bus
	logger      *zap.Logger
	now         func() time.Time
	echoWindow  time.Duration
	pageSize    int
	resolveName func(userID string) string

	mu       sync.Mutex
	messages []Message
	seen     map[string]struct{}
	noMore   bool
}

// Options tune the reconciliation heuristic and page size.
type Options struct {
	// EchoWindow is how long after creation a temp message may be
	// superseded by an authoritative same-sender message. A heuristic,
	// not a correctness guarantee: clock skew or slow delivery can make
	// it under- or over-match.
	EchoWindow time.Duration
	PageSize   int
	Now        func() time.Time

	// ResolveName maps a member's user id to their display name for sender
	// labels. May be nil or return ""; the raw id is the fallback.
	ResolveName func(userID string) string
}

// New creates the chat subsystem for a session.
func New(sessionID, selfID, selfName string, backend Backend, b *bus.Bus, logger *zap.Logger, opts Options) *Subsystem {
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = 5 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Subsystem{
		sessionID:   sessionID,
		selfID:      selfID,
		selfName:    selfName,
		backend:     backend,
		bus:         b,
		logger:      logger,
		now:         opts.Now,
		echoWindow:  opts.EchoWindow,
		pageSize:    opts.PageSize,
		resolveName: opts.ResolveName,
		seen:        make(map[string]struct{}),
	}
}

// Send inserts an optimistic echo, then issues the remote send. On failure
// the echo is removed and the text is handed back via chat.send_failed so
// the input can be restored for a retry. On success nothing further happens
// locally: supersession is detected reactively in Apply.
func (s *Subsystem) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	temp := Message{
		MessageID: TempIDPrefix + uuid.NewString(),
		UserID:    s.selfID,
		Sender:    s.selfName,
		Text:      text,
		Timestamp: s.now().Unix(),
		createdAt: s.now(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, temp)
	s.mu.Unlock()
	s.emitUpdated()

	if err := s.backend.SendChatMessage(ctx, s.sessionID, text); err != nil {
		s.removeByID(temp.MessageID)
		s.emitUpdated()
		if s.bus != nil {
			s.bus.Emit(bus.KindChatSendFailed, text)
		}
		if s.logger != nil {
			s.logger.Warn("chat send failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// Apply ingests an authoritative message from the stream. Duplicates (by
// message id) are ignored. An authoritative message from the current user
// supersedes the oldest outstanding temp echo created within the echo window.
func (s *Subsystem) Apply(msg event.MessageSent) {
	s.mu.Lock()
	if _, dup := s.seen[msg.MessageID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[msg.MessageID] = struct{}{}

	if msg.UserID == s.selfID && !msg.IsSystem {
		s.dropSupersededTempLocked()
	}

	s.messages = append(s.messages, Message{
		MessageID: msg.MessageID,
		UserID:    msg.UserID,
		Sender:    s.senderLabel(msg),
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		IsSystem:  msg.IsSystem,
	})
	s.sortLocked()
	s.mu.Unlock()
	s.emitUpdated()
}

// AddSystemLine appends a locally synthesized system message (joins, leaves,
// status toggles, role transfers).
func (s *Subsystem) AddSystemLine(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, Message{
		MessageID: "sys-" + uuid.NewString(),
		Text:      text,
		Timestamp: s.now().Unix(),
		IsSystem:  true,
	})
	s.sortLocked()
	s.mu.Unlock()
	s.emitUpdated()
}

// LoadMore fetches the page older than the oldest held authoritative
// message. Sets the terminal "no more" flag when the server says so or
// returns zero rows.
func (s *Subsystem) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.noMore {
		s.mu.Unlock()
		return nil
	}
	before := s.oldestAuthoritativeLocked()
	limit := s.pageSize
	s.mu.Unlock()

	page, err := s.backend.GetChatMessages(ctx, s.sessionID, limit, before)
	if err != nil {
		return err
	}

	s.mu.Lock()
	added := 0
	for _, msg := range page.Messages {
		if _, dup := s.seen[msg.MessageID]; dup {
			continue
		}
		s.seen[msg.MessageID] = struct{}{}
		s.messages = append(s.messages, Message{
			MessageID: msg.MessageID,
			UserID:    msg.UserID,
			Sender:    s.senderLabel(msg),
			Text:      msg.Text,
			Timestamp: msg.Timestamp,
			IsSystem:  msg.IsSystem,
		})
		added++
	}
	if !page.HasMore || len(page.Messages) == 0 {
		s.noMore = true
	}
	s.sortLocked()
	s.mu.Unlock()

	if added > 0 {
		s.emitUpdated()
	}
	return nil
}

// Messages returns a copy of the log, oldest first.
func (s *Subsystem) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// HasMore reports whether older pages may exist.
func (s *Subsystem) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.noMore
}

func (s *Subsystem) senderLabel(msg event.MessageSent) string {
	if msg.IsSystem {
		return ""
	}
	if msg.UserID == s.selfID {
		return s.selfName
	}
	if s.resolveName != nil {
		if name := s.resolveName(msg.UserID); name != "" {
			return name
		}
	}
	return msg.UserID
}

func (s *Subsystem) oldestAuthoritativeLocked() int64 {
	for _, m := range s.messages {
		if !m.Pending() && !strings.HasPrefix(m.MessageID, "sys-") {
			return m.Timestamp
		}
	}
	return 0
}

func (s *Subsystem) dropSupersededTempLocked() {
	cutoff := s.now().Add(-s.echoWindow)
	for i, m := range s.messages {
		if m.Pending() && m.UserID == s.selfID && m.createdAt.After(cutoff) {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Subsystem) removeByID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.MessageID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Subsystem) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Timestamp < s.messages[j].Timestamp
	})
}

func (s *Subsystem) emitUpdated() {
	if s.bus != nil {
		s.bus.Emit(bus.KindChatUpdated, nil)
	}
}
