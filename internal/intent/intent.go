// Package intent classifies normalized utterance transcripts into the small
// set of tags the orchestration layer branches on: wake phrases, cancel
// requests, answers to a pending queue or switch prompt, and everything else.
//
// Classification is homophone tolerant. Wake phrase and choice vocabulary
// matching combines Double Metaphone phonetic encoding with Jaro-Winkler
// string similarity, so "hay marvin" still wakes a bot listening for
// "hey marvin". The classifier additionally detects near-miss wake attempts:
// utterances
// whose leading words sound close to the wake phrase but not close enough to
// accept, used to drive a corrective audio cue.
//
// The Classifier is read-only after construction and safe for concurrent use.
package intent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Kind is the coarse classification of one transcript.
type Kind string

const (
	// KindNone marks an utterance with no recognized control meaning. Outside
	// grace periods it is ignored; inside them it may be a new request.
	KindNone Kind = "none"

	// KindWake marks an utterance that starts with the wake phrase. The
	// remainder after the phrase is the user's request.
	KindWake Kind = "wake"

	// KindCancel marks an explicit cancellation ("cancel", "never mind").
	KindCancel Kind = "cancel"

	// KindQueueChoice marks an answer to the "queue, wait, silent or cancel?"
	// prompt.
	KindQueueChoice Kind = "queue-choice"

	// KindSwitchChoice marks an answer to the "read it, new question or
	// cancel?" prompt.
	KindSwitchChoice Kind = "switch-choice"
)

// QueueChoice is the user's answer to the queue prompt.
type QueueChoice string

const (
	QueueChoiceQueue  QueueChoice = "queue"
	QueueChoiceWait   QueueChoice = "wait"
	QueueChoiceSilent QueueChoice = "silent"
	QueueChoiceCancel QueueChoice = "cancel"
)

// SwitchChoice is the user's answer to the ready-response switch prompt.
type SwitchChoice string

const (
	SwitchChoiceRead   SwitchChoice = "read"
	SwitchChoicePrompt SwitchChoice = "prompt"
	SwitchChoiceCancel SwitchChoice = "cancel"
)

// Result is the outcome of classifying one transcript.
type Result struct {
	Kind Kind

	// Request is the user's request text with the wake phrase stripped.
	// Only set when Kind is KindWake.
	Request string

	// Queue is set when Kind is KindQueueChoice.
	Queue QueueChoice

	// Switch is set when Kind is KindSwitchChoice.
	Switch SwitchChoice
}

const (
	// defaultWakeThreshold is the minimum Jaro-Winkler score for a phonetic
	// candidate to count as the wake phrase.
	defaultWakeThreshold = 0.80

	// defaultNearMissFloor is the score above which a rejected wake candidate
	// still counts as a near miss worth a corrective cue.
	defaultNearMissFloor = 0.62

	// maxChoiceTokens bounds how long an utterance may be and still count as
	// a one-word choice answer. Longer utterances are new requests.
	maxChoiceTokens = 4
)

// Option is a functional option for configuring a [Classifier].
type Option func(*Classifier)

// WithWakeThreshold sets the minimum similarity score for accepting a wake
// phrase match. Default: 0.80.
func WithWakeThreshold(threshold float64) Option {
	return func(c *Classifier) {
		c.wakeThreshold = threshold
	}
}

// WithNearMissFloor sets the score floor for failed-wake detection. Rejected
// wake candidates scoring at or above the floor count as near misses.
// Default: 0.62.
func WithNearMissFloor(floor float64) Option {
	return func(c *Classifier) {
		c.nearMissFloor = floor
	}
}

// Classifier maps transcripts to intents for one configured wake phrase.
type Classifier struct {
	wakeTokens    []string
	wakeThreshold float64
	nearMissFloor float64
}

// New returns a Classifier for the given wake phrase (e.g., "hey glyphox").
func New(wakePhrase string, opts ...Option) *Classifier {
	c := &Classifier{
		wakeTokens:    strings.Fields(strings.ToLower(strings.TrimSpace(wakePhrase))),
		wakeThreshold: defaultWakeThreshold,
		nearMissFloor: defaultNearMissFloor,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// cancelPhrases are standalone cancellation utterances. Matched phonetically
// so "cancle" and "never mind" variants are tolerated.
var cancelPhrases = []string{"cancel", "cancel that", "never mind", "nevermind", "forget", "forget it", "stop"}

// queueVocab maps answer words for the queue prompt to their choice.
var queueVocab = map[string]QueueChoice{
	"queue":   QueueChoiceQueue,
	"cue":     QueueChoiceQueue,
	"q":       QueueChoiceQueue,
	"wait":    QueueChoiceWait,
	"silent":  QueueChoiceSilent,
	"silence": QueueChoiceSilent,
	"quiet":   QueueChoiceSilent,
}

// switchVocab maps answer words for the ready-response switch prompt to their
// choice.
var switchVocab = map[string]SwitchChoice{
	"read":     SwitchChoiceRead,
	"reed":     SwitchChoiceRead,
	"prompt":   SwitchChoicePrompt,
	"question": SwitchChoicePrompt,
	"new":      SwitchChoicePrompt,
}

// fillerWords are dropped before choice and cancel matching.
var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "erm": {}, "hmm": {},
	"please": {}, "it": {}, "that": {}, "the": {},
	"yes": {}, "yeah": {}, "okay": {}, "ok": {}, "just": {},
}

// Classify maps one transcript to its intent tag. It is a pure function of
// the input text and the classifier configuration.
//
// Choice tags are returned whenever the utterance is a short answer from the
// respective vocabulary; the caller decides whether a choice prompt is
// actually pending and treats the tag as KindNone otherwise.
func (c *Classifier) Classify(text string) Result {
	norm := normalize(text)
	if norm == "" {
		return Result{Kind: KindNone}
	}
	tokens := strings.Fields(norm)

	if rest, ok := c.stripWake(tokens); ok {
		return Result{Kind: KindWake, Request: rest}
	}

	if len(tokens) <= maxChoiceTokens {
		meaningful := dropFillers(tokens)

		if isCancel(meaningful) {
			return Result{Kind: KindCancel}
		}
		for _, t := range meaningful {
			if choice, ok := matchVocab(t, queueVocab); ok {
				return Result{Kind: KindQueueChoice, Queue: choice}
			}
		}
		for _, t := range meaningful {
			if choice, ok := matchVocab(t, switchVocab); ok {
				return Result{Kind: KindSwitchChoice, Switch: choice}
			}
		}
	}

	return Result{Kind: KindNone}
}

// NearMissWake reports whether the utterance looks like a failed wake
// attempt: its leading words score close to the wake phrase but below the
// accept threshold.
func (c *Classifier) NearMissWake(text string) bool {
	if len(c.wakeTokens) == 0 {
		return false
	}
	tokens := strings.Fields(normalize(text))
	if len(tokens) == 0 {
		return false
	}
	score := c.wakeScore(tokens)
	return score >= c.nearMissFloor && score < c.wakeThreshold
}

// NonSpeech reports whether the transcript is a pure non-speech annotation
// such as "[BLANK_AUDIO]", "(music)" or "*coughs*", with no lexical content
// outside the markers.
func NonSpeech(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	for len(trimmed) > 0 {
		var closer string
		switch trimmed[0] {
		case '[':
			closer = "]"
		case '(':
			closer = ")"
		case '*':
			closer = "*"
		default:
			return false
		}
		end := strings.Index(trimmed[1:], closer)
		if end < 0 {
			return false
		}
		trimmed = strings.TrimSpace(trimmed[end+2:])
	}
	return true
}

// stripWake checks whether the leading tokens phonetically match the wake
// phrase and returns the remaining request text.
func (c *Classifier) stripWake(tokens []string) (string, bool) {
	n := len(c.wakeTokens)
	if n == 0 || len(tokens) < n {
		return "", false
	}
	if c.wakeScore(tokens) < c.wakeThreshold {
		return "", false
	}
	return strings.Join(tokens[n:], " "), true
}

// wakeScore scores the leading tokens of the utterance against the wake
// phrase, pairing tokens positionally and taking the weakest pair. Each pair
// combines Jaro-Winkler similarity with a Double Metaphone boost, so a
// homophone ("hay" for "hey") scores high while an unrelated name sharing
// only the leading "hey" stays low. Scoring the weakest token rather than the
// whole phrase keeps a matching greeting word from carrying a mismatched
// name.
func (c *Classifier) wakeScore(tokens []string) float64 {
	n := min(len(c.wakeTokens), len(tokens))
	score := 1.0
	for i := range n {
		s := matchr.JaroWinkler(tokens[i], c.wakeTokens[i], false)
		if codesOverlap(codesForTokens(tokens[i:i+1]), codesForTokens(c.wakeTokens[i:i+1])) {
			s += 0.15
			if s > 1 {
				s = 1
			}
		}
		if s < score {
			score = s
		}
	}
	return score
}

// isCancel reports whether the meaningful tokens form a cancel phrase.
func isCancel(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	joined := strings.Join(tokens, " ")
	for _, phrase := range cancelPhrases {
		if joined == phrase {
			return true
		}
		if matchr.JaroWinkler(joined, phrase, false) >= 0.92 {
			return true
		}
	}
	return false
}

// matchVocab matches one token against a vocabulary, first exactly, then by
// Double Metaphone code plus Jaro-Winkler ranking.
func matchVocab[T ~string](token string, vocab map[string]T) (T, bool) {
	if v, ok := vocab[token]; ok {
		return v, true
	}

	tokenCodes := codesForTokens([]string{token})
	var (
		best      T
		bestScore float64
		found     bool
	)
	for word, v := range vocab {
		if !codesOverlap(tokenCodes, codesForTokens([]string{word})) {
			continue
		}
		if s := matchr.JaroWinkler(token, word, false); s >= 0.80 && s > bestScore {
			best, bestScore, found = v, s, true
		}
	}
	return best, found
}

// dropFillers removes filler words, keeping order.
func dropFillers(tokens []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, skip := fillerWords[t]; !skip {
			out = append(out, t)
		}
	}
	return out
}

// normalize lowercases the text and strips punctuation so that STT output
// variations ("Cancel.", "cancel!") classify identically.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		case r == '-', r == '\t', r == '\n':
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
