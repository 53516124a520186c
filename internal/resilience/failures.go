package resilience

import (
	"strings"
	"sync"
	"time"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
)

// FailureRecord aggregates repeated occurrences of one backend failure
// signature. Records are diagnostics only: they never influence routing
// beyond the primary unavailability window.
type FailureRecord struct {
	Backend     tts.Backend
	Message     string
	Count       int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// failureTracker deduplicates backend failures by a normalized
// backend-plus-error-text key.
type failureTracker struct {
	mu      sync.Mutex
	records map[string]*FailureRecord
}

func newFailureTracker() *failureTracker {
	return &failureTracker{records: make(map[string]*FailureRecord)}
}

// Record counts one failure occurrence under its normalized signature.
func (t *failureTracker) Record(backend tts.Backend, err error) {
	msg := normalizeError(err)
	key := string(backend) + "|" + msg
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	if !ok {
		t.records[key] = &FailureRecord{
			Backend:     backend,
			Message:     msg,
			Count:       1,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		return
	}
	rec.Count++
	rec.LastSeenAt = now
}

// Snapshot returns a copy of all records.
func (t *failureTracker) Snapshot() []FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FailureRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	return out
}

// normalizeError lowers and trims the error text so transient decorations
// (casing, padding) do not split one signature into many.
func normalizeError(err error) string {
	if err == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(err.Error()))
}
