package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fitlobby/fitlobby/internal/event"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Socket is the process-wide push connection: one websocket multiplexing all
// channels (lobby, presence, personal, group notifications) via
// subscribe/unsubscribe frames. Channel subscriptions survive redials; the
// run loop re-announces them after every reconnect.
type Socket struct {
	url    string
	token  string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[string]*channelSub
	watchers  map[int]func(bool)
	nextWatch int
	cancel    context.CancelFunc
}

type channelSub struct {
	onEvent func(event.Event)
	onError func(error)
}

// clientFrame is what the client sends to manage channel subscriptions.
type clientFrame struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	Channel string `json:"channel"`
	Token   string `json:"token,omitempty"`
}

// NewSocket creates a socket client for the given ws(s) URL.
func NewSocket(url, token string, logger *zap.Logger) *Socket {
	return &Socket{
		url:      url,
		token:    token,
		logger:   logger,
		subs:     make(map[string]*channelSub),
		watchers: make(map[int]func(bool)),
	}
}

// Start runs the dial/read/redial loop until ctx is done. Reconnection is
// unbounded here; the transport manager counts the disconnect signals and
// decides when to fall back to polling.
func (s *Socket) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Close stops the socket and closes the connection.
func (s *Socket) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
}

// Subscribe implements PushTransport. The stop function sends an
// unsubscribe frame and removes the handler.
func (s *Socket) Subscribe(channel string, onEvent func(event.Event), onError func(error)) (func(), error) {
	s.mu.Lock()
	s.subs[channel] = &channelSub{onEvent: onEvent, onError: onError}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.send(conn, clientFrame{Action: "subscribe", Channel: channel})
	}

	return func() {
		s.mu.Lock()
		delete(s.subs, channel)
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			s.send(conn, clientFrame{Action: "unsubscribe", Channel: channel})
		}
	}, nil
}

// WatchState implements PushTransport. The callback fires immediately with
// the current state, then on every change.
func (s *Socket) WatchState(fn func(connected bool)) func() {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	connected := s.connected
	s.mu.Unlock()

	fn(connected)

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Socket) run(ctx context.Context) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for ctx.Err() == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.logger != nil {
				s.logger.Warn("socket dial failed", zap.Error(err))
			}
			s.notify(false)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 500 * time.Millisecond

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		channels := make([]string, 0, len(s.subs))
		for ch := range s.subs {
			channels = append(channels, ch)
		}
		s.mu.Unlock()
		s.notify(true)

		// Re-announce every live subscription after a redial.
		for _, ch := range channels {
			s.send(conn, clientFrame{Action: "subscribe", Channel: ch})
		}

		s.readLoop(ctx, conn)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connected = false
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusAbnormalClosure, "read loop ended")
		s.notify(false)
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPHeader: header})
	return conn, err
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env event.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ctx.Err() == nil && s.logger != nil {
				s.logger.Warn("socket read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(env)
	}
}

func (s *Socket) dispatch(env event.Envelope) {
	s.mu.Lock()
	sub := s.subs[env.Channel]
	s.mu.Unlock()
	if sub == nil {
		return
	}

	evt, err := event.Decode(env)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("undecodable frame", zap.Error(err), zap.String("channel", env.Channel))
		}
		if sub.onError != nil {
			sub.onError(err)
		}
		return
	}
	sub.onEvent(evt)
}

func (s *Socket) send(conn *websocket.Conn, frame clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil && s.logger != nil {
		s.logger.Warn("socket write failed", zap.Error(err), zap.String("action", frame.Action), zap.String("channel", frame.Channel))
	}
}

func (s *Socket) notify(connected bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}
