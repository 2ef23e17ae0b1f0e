package api

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel conditions the controller branches on.
var (
	// ErrAlreadyPending: the invited user already has an outstanding invite.
	// Both this and a plain ack mean an invite now exists.
	ErrAlreadyPending = errors.New("api: invite already pending")

	// ErrAlreadyInLobby: the backend believes the user is still in another
	// lobby (stale-invitation conflict). Recovered by a forced cleanup and
	// a single retry.
	ErrAlreadyInLobby = errors.New("api: user already in another lobby")

	// ErrNotFound: the session no longer exists.
	ErrNotFound = errors.New("api: not found")
)

// Error is a structured backend rejection.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api: status %d %s", e.StatusCode, e.Code)
}

// Unwrap maps well-known backend codes onto the sentinels so callers can use
// errors.Is without inspecting codes themselves.
func (e *Error) Unwrap() error {
	switch e.Code {
	case "already_pending":
		return ErrAlreadyPending
	case "already_in_lobby":
		return ErrAlreadyInLobby
	case "not_found":
		return ErrNotFound
	}
	return nil
}

// retryable reports whether a request should be retried: transient network
// failures, server errors and rate limits. 4xx apart from 429 are final.
func retryable(statusCode int) bool {
	return statusCode == 429 || statusCode >= 500
}
