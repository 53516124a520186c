// Package queue implements the durable work queue that decouples "a request
// was dispatched" from "a response is ready to be heard". Items move forward
// through pending → ready → heard and the whole store is serialized to a
// single JSON file after every mutation, so a process restart loses at most
// the in-flight call.
//
// The store assumes a single writer process. Concurrent writers from multiple
// processes would require an external locking layer.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle stage of a queue item. Transitions only move
// forward: pending → ready → heard.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusHeard   Status = "heard"
)

// Mode controls whether a dispatched request blocks the session (wait) or is
// queued for later pickup while the session stays free (queue).
type Mode string

const (
	ModeWait  Mode = "wait"
	ModeQueue Mode = "queue"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeWait || m == ModeQueue
}

// ErrNotFound is returned when an item id does not exist in the store.
var ErrNotFound = errors.New("queue item not found")

// Item is a unit of dispatched work awaiting an eventual spoken response.
type Item struct {
	// ID is an opaque unique token generated at enqueue time.
	ID string `json:"id"`

	// Channel is the logical destination identifier.
	Channel string `json:"channel"`

	// DisplayName is a human-readable label for the channel.
	DisplayName string `json:"displayName"`

	// SessionKey routes the request to the correct remote conversation.
	SessionKey string `json:"sessionKey"`

	// UserMessage is the original request text.
	UserMessage string `json:"userMessage"`

	Status Status `json:"status"`

	// CreatedAt is the enqueue timestamp. It never changes after creation.
	CreatedAt time.Time `json:"createdAt"`

	// Summary is a short spoken synopsis, present once the item is ready.
	Summary string `json:"summary,omitempty"`

	// ResponseText is the full response text, present once the item is ready.
	ResponseText string `json:"responseText,omitempty"`
}

// fileState is the on-disk shape: a single JSON document holding the mode
// scalar and all items.
type fileState struct {
	Mode  Mode   `json:"mode"`
	Items []Item `json:"items"`
}

// Store is a durable, crash-recoverable queue of dispatched work items.
// All exported methods are safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	path  string
	mode  Mode
	items []Item
}

// Open loads the store at path, creating parent directories as needed.
// A missing file is equivalent to an empty store in wait mode.
func Open(path string) (*Store, error) {
	s := &Store{path: path, mode: ModeWait}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read %q: %w", path, err)
	}

	var state fileState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("queue: parse %q: %w", path, err)
	}
	if state.Mode.IsValid() {
		s.mode = state.Mode
	}
	// Items are reconstructed as-is: a pending item found at load time stays
	// pending until externally resolved.
	s.items = state.Items
	return s, nil
}

// Enqueue creates a new pending item, persists the store, and returns a copy
// of the item.
func (s *Store) Enqueue(channel, displayName, sessionKey, userMessage string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := Item{
		ID:          uuid.NewString(),
		Channel:     channel,
		DisplayName: displayName,
		SessionKey:  sessionKey,
		UserMessage: userMessage,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.items = append(s.items, item)
	if err := s.persistLocked(); err != nil {
		// Roll back the in-memory append so memory and disk stay consistent.
		s.items = s.items[:len(s.items)-1]
		return Item{}, err
	}
	return item, nil
}

// MarkReady transitions an item from pending to ready, filling in the spoken
// summary and full response text. Returns an error if the item does not exist
// or is not pending; the store is never mutated on error.
func (s *Store) MarkReady(id, summary, responseText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("queue: mark ready %q: %w", id, ErrNotFound)
	}
	if s.items[idx].Status != StatusPending {
		return fmt.Errorf("queue: mark ready %q: item is %q, want pending", id, s.items[idx].Status)
	}

	prev := s.items[idx]
	s.items[idx].Status = StatusReady
	s.items[idx].Summary = summary
	s.items[idx].ResponseText = responseText
	if err := s.persistLocked(); err != nil {
		s.items[idx] = prev
		return err
	}
	return nil
}

// MarkHeard transitions an item from ready to heard and removes it from the
// store. Returns an error if the item does not exist or is not ready.
func (s *Store) MarkHeard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("queue: mark heard %q: %w", id, ErrNotFound)
	}
	if s.items[idx].Status != StatusReady {
		return fmt.Errorf("queue: mark heard %q: item is %q, want ready", id, s.items[idx].Status)
	}

	prev := make([]Item, len(s.items))
	copy(prev, s.items)
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	if err := s.persistLocked(); err != nil {
		s.items = prev
		return err
	}
	return nil
}

// Pending returns all pending items ordered by CreatedAt ascending.
func (s *Store) Pending() []Item {
	return s.byStatus(StatusPending)
}

// Ready returns all ready items ordered by CreatedAt ascending.
func (s *Store) Ready() []Item {
	return s.byStatus(StatusReady)
}

// NextReady returns the oldest ready item. ok is false when none exists.
func (s *Store) NextReady() (item Item, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.Status != StatusReady {
			continue
		}
		if !ok || it.CreatedAt.Before(item.CreatedAt) {
			item, ok = it, true
		}
	}
	return item, ok
}

// ReadyByChannel returns the oldest ready item matching channel.
// ok is false when no ready item matches.
func (s *Store) ReadyByChannel(channel string) (item Item, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.Status != StatusReady || it.Channel != channel {
			continue
		}
		if !ok || it.CreatedAt.Before(item.CreatedAt) {
			item, ok = it, true
		}
	}
	return item, ok
}

// SetMode persists the wait/queue mode. Invalid modes are rejected.
func (s *Store) SetMode(mode Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("queue: set mode %q: invalid mode", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.mode
	s.mode = mode
	if err := s.persistLocked(); err != nil {
		s.mode = prev
		return err
	}
	return nil
}

// Mode returns the persisted wait/queue mode.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Len returns the total number of items currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) byStatus(status Status) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Item
	for _, it := range s.items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	// Insertion order already follows CreatedAt for items created by this
	// process, but a reloaded file makes no such promise.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// indexLocked returns the index of the item with the given id, or -1.
// Must be called with s.mu held.
func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked serializes the entire store to the backing file via a
// temp-file rename so a crash mid-write never truncates committed state.
// Must be called with s.mu held.
func (s *Store) persistLocked() error {
	state := fileState{Mode: s.mode, Items: s.items}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("queue: mkdir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("queue: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("queue: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queue: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queue: rename: %w", err)
	}
	return nil
}
