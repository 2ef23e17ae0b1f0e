// Package api is the HTTP client for the lobby backend's command surface.
// Transient failures and rate limits are retried here with bounded backoff
// so they stay invisible to the controller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fitlobby/fitlobby/internal/event"
	"github.com/fitlobby/fitlobby/internal/lobby"
	"go.uber.org/zap"
)

// Client talks to the lobby backend.
type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	logger      *zap.Logger
	maxRetries  int
	baseBackoff time.Duration
}

// Options tune the client's retry behavior.
type Options struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// NewClient creates a backend client. baseURL is the http(s) origin.
func NewClient(baseURL, token string, opts Options, logger *zap.Logger) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		http:        &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
	}
}

// WebsocketURL returns the push transport endpoint derived from the base URL.
func (c *Client) WebsocketURL() string {
	u := c.baseURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/v1/ws"
}

// Token returns the auth token, used by the websocket dialer.
func (c *Client) Token() string { return c.token }

// CreateLobby creates a new lobby for the group and returns the session.
func (c *Client) CreateLobby(ctx context.Context, groupID string, initial lobby.WorkoutData) (*lobby.Session, error) {
	var sess lobby.Session
	body := map[string]any{"groupId": groupID, "workoutData": initial}
	if err := c.do(ctx, http.MethodPost, "/v1/lobbies", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// JoinLobby joins an existing lobby and returns the session.
func (c *Client) JoinLobby(ctx context.Context, sessionID string) (*lobby.Session, error) {
	var sess lobby.Session
	if err := c.do(ctx, http.MethodPost, "/v1/lobbies/"+sessionID+"/join", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// LeaveLobby removes the current user from the lobby.
func (c *Client) LeaveLobby(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/lobbies/"+sessionID+"/leave", nil, nil)
}

// GetLobbyState fetches the full authoritative session.
func (c *Client) GetLobbyState(ctx context.Context, sessionID string) (*lobby.Session, error) {
	var sess lobby.Session
	if err := c.do(ctx, http.MethodGet, "/v1/lobbies/"+sessionID, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateMemberStatus sets the current user's readiness.
func (c *Client) UpdateMemberStatus(ctx context.Context, sessionID string, status lobby.MemberStatus) error {
	return c.do(ctx, http.MethodPut, "/v1/lobbies/"+sessionID+"/status", map[string]any{"status": status}, nil)
}

// UpdateWorkoutData replaces the session's shared plan.
func (c *Client) UpdateWorkoutData(ctx context.Context, sessionID string, w lobby.WorkoutData) error {
	return c.do(ctx, http.MethodPut, "/v1/lobbies/"+sessionID+"/workout", map[string]any{"workoutData": w}, nil)
}

// StartWorkout asks the backend to start the session. The transition arrives
// later as a WorkoutStarted event, not in this response.
func (c *Client) StartWorkout(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/lobbies/"+sessionID+"/start", nil, nil)
}

// SendChatMessage sends a chat message.
func (c *Client) SendChatMessage(ctx context.Context, sessionID, text string) error {
	return c.do(ctx, http.MethodPost, "/v1/lobbies/"+sessionID+"/messages", map[string]any{"text": text}, nil)
}

// ChatPage is one page of chat history.
type ChatPage struct {
	Messages []event.MessageSent `json:"messages"`
	HasMore  bool                `json:"hasMore"`
}

// GetChatMessages fetches up to limit messages strictly older than before
// (unix seconds). before <= 0 means newest page.
func (c *Client) GetChatMessages(ctx context.Context, sessionID string, limit int, before int64) (*ChatPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	var page ChatPage
	if err := c.do(ctx, http.MethodGet, "/v1/lobbies/"+sessionID+"/messages?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// InviteMember invites a user. Returns ErrAlreadyPending (via errors.Is)
// when an invite is already outstanding; callers track both outcomes alike.
func (c *Client) InviteMember(ctx context.Context, sessionID, userID, groupID string, w lobby.WorkoutData) error {
	body := map[string]any{"userId": userID, "groupId": groupID, "workoutData": w}
	return c.do(ctx, http.MethodPost, "/v1/lobbies/"+sessionID+"/invites", body, nil)
}

// KickMember removes a member. Initiator only; server re-checks.
func (c *Client) KickMember(ctx context.Context, sessionID, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/lobbies/"+sessionID+"/kick", map[string]any{"userId": userID}, nil)
}

// TransferInitiator hands the initiator role to another member.
func (c *Client) TransferInitiator(ctx context.Context, sessionID, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/lobbies/"+sessionID+"/transfer", map[string]any{"userId": userID}, nil)
}

// GenerateWorkout calls the recommendation collaborator with all member ids
// and returns the generated plan. The computation itself is opaque.
func (c *Client) GenerateWorkout(ctx context.Context, memberIDs []string) (*lobby.WorkoutData, error) {
	var w lobby.WorkoutData
	if err := c.do(ctx, http.MethodPost, "/v1/recommendations", map[string]any{"memberIds": memberIDs}, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// do performs one JSON request with bounded retries. Responses with a 2xx
// status decode into out (when non-nil); everything else becomes *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		apiErr, err := c.once(ctx, method, path, payload, out)
		if err == nil && apiErr == nil {
			return nil
		}
		if apiErr != nil {
			if !retryable(apiErr.StatusCode) {
				return apiErr
			}
			lastErr = apiErr
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		}
		if c.logger != nil {
			c.logger.Warn("request failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) (*Error, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	}

	apiErr := &Error{StatusCode: resp.StatusCode}
	var wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err == nil {
		apiErr.Code = wire.Code
		apiErr.Message = wire.Message
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr, nil
}

// backoff doubles per attempt, honoring a server-provided retry hint when
// one was present on the last rejection.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	if apiErr, ok := lastErr.(*Error); ok && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return c.baseBackoff << (attempt - 1)
}
