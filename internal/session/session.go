// Package session manages conversation sessions: turn history, expiry and
// per-session serialization of in-flight queries.
package session

import (
	"errors"
	"time"
)

var (
	// ErrInvalidConfig indicates invalid manager configuration.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrSessionExpired indicates the session does not exist or was
	// swept after its inactivity window. The caller creates a new one.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionBusy indicates another turn is in flight on the session.
	ErrSessionBusy = errors.New("session busy")
)

// Confidence marks how a turn's answer was produced.
type Confidence string

const (
	// ConfidenceNormal means the answer came from the model as asked.
	ConfidenceNormal Confidence = "normal"
	// ConfidenceDegraded means a fallback substituted for a failed
	// generation.
	ConfidenceDegraded Confidence = "degraded"
	// ConfidenceCancelled means the caller disconnected mid-answer.
	ConfidenceCancelled Confidence = "cancelled"
)

// Citation references a source document used in an answer.
type Citation struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
}

// Turn is one message in a conversation.
type Turn struct {
	// Role is "user" or "assistant".
	Role       string     `json:"role"`
	Text       string     `json:"text"`
	Timestamp  time.Time  `json:"timestamp"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`

	// Groundable records, on assistant turns, whether retrieval found
	// supporting context for the query this turn answered.
	Groundable bool `json:"groundable,omitempty"`
}

// Session is one conversation with ordered turns.
type Session struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Language   string    `json:"language"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Turns      []Turn    `json:"turns"`
}
