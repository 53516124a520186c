package pipeline

import "time"

// ChoiceKind identifies which choice prompt, if any, is awaiting an answer.
type ChoiceKind int

const (
	// ChoiceNone means no prompt is pending.
	ChoiceNone ChoiceKind = iota
	// ChoiceQueue means the "queue, wait, silent or cancel?" prompt is
	// pending; PendingRequest holds the request the answer applies to.
	ChoiceQueue
	// ChoiceSwitch means the "read it, new question or cancel?" prompt is
	// pending; NotifyItemID holds the ready item the answer applies to.
	ChoiceSwitch
)

// SessionState is the transient per-voice-session record. It is never
// persisted and has no internal locking: all reads and writes happen on the
// orchestrator's control goroutine. Cooldown and grace fields are single
// future timestamps evaluated lazily at the point of use; "active" means now
// is before the deadline.
type SessionState struct {
	// Playback tracking.
	LastSpokenShort string
	LastSpokenFull  string
	WasSummary      bool
	LastPlaybackEnd time.Time

	// Wait/queue disposition.
	SilentWait     bool
	PendingChoice  ChoiceKind
	PendingRequest string
	WaitItemID     string
	NotifyItemID   string
	PrefetchItemID string

	// Grace deadlines.
	ChoiceGraceUntil time.Time
	WakeGraceUntil   time.Time

	// Cooldown deadlines.
	RepromptCooldownUntil   time.Time
	FailedWakeCooldownUntil time.Time
	// AlertCooldownUntil suppresses repeated audible dependency alerts,
	// keyed independently per dependency ("stt", "tts").
	AlertCooldownUntil map[string]time.Time

	// In-flight guards for single-shot asynchronous flows.
	Reprompting     bool
	MissedWakeCheck bool
	IdleNotify      bool
}

// NewSessionState returns a zeroed session state.
func NewSessionState() *SessionState {
	return &SessionState{AlertCooldownUntil: make(map[string]time.Time)}
}

// Reset restores every field to its initial value in one step. Timer handles
// that schedule state changes are owned by the orchestrator and must be
// cancelled separately.
func (s *SessionState) Reset() {
	*s = SessionState{AlertCooldownUntil: make(map[string]time.Time)}
}

// ChoiceActive reports whether a choice prompt of the given kind is pending
// and its grace window has not elapsed.
func (s *SessionState) ChoiceActive(kind ChoiceKind, now time.Time) bool {
	return s.PendingChoice == kind && now.Before(s.ChoiceGraceUntil)
}

// ClearChoice drops any pending choice prompt and its associations.
func (s *SessionState) ClearChoice() {
	s.PendingChoice = ChoiceNone
	s.PendingRequest = ""
	s.NotifyItemID = ""
	s.ChoiceGraceUntil = time.Time{}
}

// AlertAllowed reports whether an audible alert for the given dependency is
// outside its cooldown window.
func (s *SessionState) AlertAllowed(dependency string, now time.Time) bool {
	return !now.Before(s.AlertCooldownUntil[dependency])
}
