// Package history mirrors voice conversation turns to a durable transcript
// store. Mirroring is an auxiliary concern: the pipeline records turns
// best-effort and never blocks on or surfaces history failures.
package history

import (
	"context"
	"time"
)

// Roles recorded for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one recorded conversation turn.
type Entry struct {
	SessionKey string
	Role       string
	Content    string
	CreatedAt  time.Time
}

// SearchOpts narrows a full-text search over recorded turns.
type SearchOpts struct {
	// SessionKey restricts results to one session when non-empty.
	SessionKey string
	// After and Before bound the time range when non-zero.
	After  time.Time
	Before time.Time
	// Limit caps the number of results when positive.
	Limit int
}

// Store persists conversation turns. All methods are safe for concurrent
// use.
type Store interface {
	// Record appends one turn to the session transcript.
	Record(ctx context.Context, sessionKey, role, content string) error
	// Recent returns the newest turns for sessionKey, oldest first, at most
	// limit entries.
	Recent(ctx context.Context, sessionKey string, limit int) ([]Entry, error)
	// Search performs a full-text search over recorded turns.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)
	// Close releases underlying resources.
	Close()
}
