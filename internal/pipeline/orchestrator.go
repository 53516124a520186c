// Package pipeline contains the interaction-orchestration core: the
// per-session state record, the dispatcher to the remote reasoning gateway,
// and the orchestrator that turns utterances into dispatched requests and
// spoken responses.
//
// The orchestrator enforces the session's concurrency discipline: at most
// one utterance is processed at a time, utterances arriving during speech
// playback interrupt it, and utterances arriving during processing are
// dropped. Requests dispatch either synchronously, with a looping waiting
// tone, or fire-and-forget through the durable work queue depending on the
// store's operating mode.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/intent"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/observe"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/queue"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/audio"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/stt"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
)

// Recorder mirrors conversation turns to an external transcript store.
// Mirroring is best-effort; failures are logged, never surfaced.
type Recorder interface {
	Record(ctx context.Context, sessionKey, role, content string) error
}

// Fire-and-forget dispatch failures always surface to the user with this
// fixed message pair; the queue item is never left pending.
const (
	failureSummary  = "I couldn't get an answer to that request."
	failureResponse = "Something went wrong while getting your answer. Please try asking again."
)

// Spoken prompts for the two choice flows.
const (
	queuePrompt  = "I'm still working on your last request. Say queue, wait, silent, or cancel."
	notifyPrompt = "I have an answer ready. Say read it, new question, or cancel."
)

// Default timing policy. Every value is overridable with an Option.
const (
	defaultChoiceGrace        = 12 * time.Second
	defaultWakeGrace          = 8 * time.Second
	defaultFailedWakeCooldown = 30 * time.Second
	defaultAlertCooldown      = time.Minute
	defaultNotifyCooldown     = 45 * time.Second
	defaultNotifyInterval     = 3 * time.Second
	defaultDispatchTimeout    = 75 * time.Second
	defaultWatchdogTimeout    = 2 * time.Minute
)

// Config carries the orchestrator's collaborators and session identity.
// Store, Dispatcher, Classifier, STT, TTS and Player are required; Recorder
// and Metrics are optional.
type Config struct {
	Store      *queue.Store
	Dispatcher Dispatcher
	Classifier *intent.Classifier
	STT        stt.Provider
	TTS        tts.Provider
	Player     audio.Player
	Recorder   Recorder
	Metrics    *observe.Metrics

	// Channel is the logical destination identifier for queue items.
	Channel string
	// DisplayName is the human-readable label for the channel.
	DisplayName string
	// SessionKey routes requests to the correct remote conversation.
	SessionKey string
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithChoiceGrace sets the window during which a choice prompt accepts an
// answer without a wake phrase.
func WithChoiceGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.choiceGrace = d }
}

// WithWakeGrace sets the window after a bare wake during which the next
// utterance counts as the request.
func WithWakeGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.wakeGrace = d }
}

// WithFailedWakeCooldown sets the suppression window between corrective
// missed-wake cues.
func WithFailedWakeCooldown(d time.Duration) Option {
	return func(o *Orchestrator) { o.failedWakeCooldown = d }
}

// WithAlertCooldown sets the per-dependency suppression window between
// audible outage alerts.
func WithAlertCooldown(d time.Duration) Option {
	return func(o *Orchestrator) { o.alertCooldown = d }
}

// WithNotifyCooldown sets how long a declined or ignored ready notification
// waits before the same item is announced again.
func WithNotifyCooldown(d time.Duration) Option {
	return func(o *Orchestrator) { o.notifyCooldown = d }
}

// WithNotifyInterval sets the ready-item poll cadence of Run.
func WithNotifyInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.notifyInterval = d }
}

// WithDispatchTimeout bounds one gateway dispatch, sync or fire-and-forget.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.dispatchTimeout = d }
}

// WithWatchdogTimeout sets how long processing may run before the watchdog
// recovers the session.
func WithWatchdogTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.watchdogTimeout = d }
}

// Orchestrator is the per-session pipeline coordinator.
type Orchestrator struct {
	store      *queue.Store
	dispatcher Dispatcher
	classifier *intent.Classifier
	stt        stt.Provider
	tts        tts.Provider
	player     audio.Player
	recorder   Recorder
	metrics    *observe.Metrics

	channel     string
	displayName string
	sessionKey  string

	choiceGrace        time.Duration
	wakeGrace          time.Duration
	failedWakeCooldown time.Duration
	alertCooldown      time.Duration
	notifyCooldown     time.Duration
	notifyInterval     time.Duration
	dispatchTimeout    time.Duration
	watchdogTimeout    time.Duration

	// ctl serializes all session-state access: HandleUtterance, the ready
	// notifier and watchdog recovery all take it.
	ctl   sync.Mutex
	state *SessionState

	// processing is the re-entrancy guard: true while one utterance is being
	// handled. Checked before ctl so a concurrent utterance is dropped, not
	// queued behind the mutex.
	processing      atomic.Bool
	processingSince atomic.Int64

	readyCheck chan struct{}

	// now is stubbed in tests.
	now func() time.Time
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	err := errors.Join(
		requireDep(cfg.Store != nil, "store"),
		requireDep(cfg.Dispatcher != nil, "dispatcher"),
		requireDep(cfg.Classifier != nil, "classifier"),
		requireDep(cfg.STT != nil, "stt provider"),
		requireDep(cfg.TTS != nil, "tts provider"),
		requireDep(cfg.Player != nil, "player"),
		requireDep(cfg.Channel != "", "channel"),
		requireDep(cfg.SessionKey != "", "session key"),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		classifier: cfg.Classifier,
		stt:        cfg.STT,
		tts:        cfg.TTS,
		player:     cfg.Player,
		recorder:   cfg.Recorder,
		metrics:    metrics,

		channel:     cfg.Channel,
		displayName: cfg.DisplayName,
		sessionKey:  cfg.SessionKey,

		choiceGrace:        defaultChoiceGrace,
		wakeGrace:          defaultWakeGrace,
		failedWakeCooldown: defaultFailedWakeCooldown,
		alertCooldown:      defaultAlertCooldown,
		notifyCooldown:     defaultNotifyCooldown,
		notifyInterval:     defaultNotifyInterval,
		dispatchTimeout:    defaultDispatchTimeout,
		watchdogTimeout:    defaultWatchdogTimeout,

		state:      NewSessionState(),
		readyCheck: make(chan struct{}, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func requireDep(ok bool, name string) error {
	if ok {
		return nil
	}
	return errors.New(name + " is required")
}

// HandleUtterance processes one utterance of raw mono PCM for the session.
// It blocks for the duration of a synchronous dispatch; fire-and-forget
// dispatches return as soon as the queue item is created.
func (o *Orchestrator) HandleUtterance(ctx context.Context, speakerID string, pcm []byte, duration time.Duration) {
	// Speech playback is interrupted by the user talking; the waiting tone
	// is not.
	if o.player.IsPlaying() && !o.player.IsWaiting() {
		o.player.Stop()
	}

	if !o.processing.CompareAndSwap(false, true) {
		slog.Debug("pipeline: utterance dropped, session busy", "speaker", speakerID)
		o.metrics.RecordUtterance(ctx, "dropped")
		return
	}
	o.processingSince.Store(o.now().UnixNano())
	defer o.processing.Store(false)

	sttStart := o.now()
	text, err := o.stt.Transcribe(ctx, pcm)
	o.metrics.STTDuration.Record(ctx, o.now().Sub(sttStart).Seconds())
	if err != nil {
		slog.Warn("pipeline: transcription failed", "speaker", speakerID, "error", err)
		o.ctl.Lock()
		o.dependencyAlert(ctx, "stt")
		o.ctl.Unlock()
		return
	}
	if text == "" || intent.NonSpeech(text) {
		o.metrics.RecordUtterance(ctx, "discarded")
		return
	}

	o.ctl.Lock()
	defer o.ctl.Unlock()
	o.handleTranscript(ctx, speakerID, text)
}

// handleTranscript runs the classification branch under ctl.
func (o *Orchestrator) handleTranscript(ctx context.Context, speakerID, text string) {
	now := o.now()
	res := o.classifier.Classify(text)

	switch res.Kind {
	case intent.KindCancel:
		o.handleCancel(ctx)
		o.metrics.RecordUtterance(ctx, "cancelled")
		return

	case intent.KindQueueChoice:
		if o.state.ChoiceActive(ChoiceQueue, now) {
			o.resolveQueueChoice(ctx, res.Queue)
			o.metrics.RecordUtterance(ctx, "choice")
			return
		}

	case intent.KindSwitchChoice:
		if o.state.ChoiceActive(ChoiceSwitch, now) {
			o.resolveSwitchChoice(ctx, res.Switch)
			o.metrics.RecordUtterance(ctx, "choice")
			return
		}

	case intent.KindWake:
		o.handleWake(ctx, speakerID, res.Request)
		return
	}

	// No recognized control meaning. Inside the wake grace window the
	// utterance is the request; otherwise check for a missed wake attempt.
	if now.Before(o.state.WakeGraceUntil) {
		o.state.WakeGraceUntil = time.Time{}
		o.newRequest(ctx, speakerID, text)
		return
	}
	if o.classifier.NearMissWake(text) {
		o.failedWakeCue(ctx)
	}
	o.metrics.RecordUtterance(ctx, "ignored")
}

// handleWake processes a recognized wake phrase.
func (o *Orchestrator) handleWake(ctx context.Context, speakerID, request string) {
	if request != "" {
		o.newRequest(ctx, speakerID, request)
		return
	}

	// Bare wake. If a response is waiting, offer it; otherwise acknowledge
	// and open the grace window for the actual request.
	if item, ok := o.store.ReadyByChannel(o.channel); ok {
		o.offerReadyItem(ctx, item)
		o.metrics.RecordUtterance(ctx, "choice")
		return
	}
	o.playCue(ctx, audio.CueAcknowledge)
	o.state.WakeGraceUntil = o.now().Add(o.wakeGrace)
	o.metrics.RecordUtterance(ctx, "acknowledged")
}

// handleCancel clears every pending wait/queue association and confirms.
// An in-flight gateway call is not aborted; its eventual result still lands
// in the queue store and may be silently superseded.
func (o *Orchestrator) handleCancel(ctx context.Context) {
	o.state.ClearChoice()
	o.state.WaitItemID = ""
	o.state.PrefetchItemID = ""
	o.state.SilentWait = false
	o.state.WakeGraceUntil = time.Time{}
	o.playCue(ctx, audio.CueCancel)
}

// newRequest dispatches a fresh user request according to the store mode.
func (o *Orchestrator) newRequest(ctx context.Context, speakerID, text string) {
	o.record(ctx, "user", text)

	if o.store.Mode() == queue.ModeQueue {
		o.dispatchAsync(ctx, text, false)
		o.metrics.RecordUtterance(ctx, "queued")
		return
	}

	// Wait mode. A fire-and-forget item still pending means the session
	// must decide what to do with the new request.
	if o.hasPendingItem() {
		o.state.PendingChoice = ChoiceQueue
		o.state.PendingRequest = text
		o.state.ChoiceGraceUntil = o.now().Add(o.choiceGrace)
		if err := o.speak(ctx, queuePrompt, false); err != nil {
			slog.Warn("pipeline: queue prompt failed", "error", err)
		}
		o.metrics.RecordUtterance(ctx, "prompted")
		return
	}

	o.dispatchSync(ctx, text)
	o.metrics.RecordUtterance(ctx, "dispatched")
}

// dispatchSync blocks the session on the gateway call, playing the waiting
// tone. There is no preemption point once the call has started.
func (o *Orchestrator) dispatchSync(ctx context.Context, text string) {
	dctx, cancel := context.WithTimeout(ctx, o.dispatchTimeout)
	defer cancel()

	o.player.StartWaiting()
	start := o.now()
	resp, err := o.dispatcher.Dispatch(dctx, o.sessionKey, text)
	o.metrics.DispatchDuration.Record(ctx, o.now().Sub(start).Seconds())
	o.player.StopWaiting()

	if err != nil {
		slog.Warn("pipeline: sync dispatch failed", "error", err)
		o.metrics.RecordDispatchFailure(ctx)
		if speakErr := o.speak(ctx, failureResponse, false); speakErr != nil {
			slog.Warn("pipeline: failure response playback failed", "error", speakErr)
		}
		return
	}

	o.record(ctx, "assistant", resp)
	if err := o.speak(ctx, resp, false); err != nil {
		slog.Warn("pipeline: response playback failed", "error", err)
	}
}

// dispatchAsync creates the pending queue item and spawns the completion
// task. The session is free again as soon as this returns.
func (o *Orchestrator) dispatchAsync(ctx context.Context, text string, silent bool) {
	item, err := o.store.Enqueue(o.channel, o.displayName, o.sessionKey, text)
	if err != nil {
		slog.Error("pipeline: enqueue failed", "error", err)
		o.playCue(ctx, audio.CueError)
		return
	}
	o.metrics.QueueDepth.Add(ctx, 1)

	if silent {
		o.state.SilentWait = true
		o.state.WaitItemID = item.ID
	} else {
		o.playCue(ctx, audio.CueAcknowledge)
	}

	go o.completeDispatch(item.ID, text)
}

// completeDispatch resolves one fire-and-forget item. Failures become a
// ready item with the fixed failure message pair, never a forever-pending
// one.
func (o *Orchestrator) completeDispatch(itemID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.dispatchTimeout)
	defer cancel()

	start := o.now()
	resp, err := o.dispatcher.Dispatch(ctx, o.sessionKey, text)
	o.metrics.DispatchDuration.Record(ctx, o.now().Sub(start).Seconds())

	if err != nil {
		slog.Warn("pipeline: fire-and-forget dispatch failed", "item", itemID, "error", err)
		o.metrics.RecordDispatchFailure(ctx)
		if markErr := o.store.MarkReady(itemID, failureSummary, failureResponse); markErr != nil {
			slog.Error("pipeline: mark failed item ready", "item", itemID, "error", markErr)
		}
	} else {
		o.record(ctx, "assistant", resp)
		if markErr := o.store.MarkReady(itemID, Summarize(resp), resp); markErr != nil {
			slog.Error("pipeline: mark item ready", "item", itemID, "error", markErr)
		}
	}
	o.signalReady()
}

// resolveQueueChoice applies the user's answer to the queue prompt.
func (o *Orchestrator) resolveQueueChoice(ctx context.Context, choice intent.QueueChoice) {
	request := o.state.PendingRequest
	o.state.ClearChoice()

	switch choice {
	case intent.QueueChoiceQueue:
		o.dispatchAsync(ctx, request, false)
	case intent.QueueChoiceWait:
		o.dispatchSync(ctx, request)
	case intent.QueueChoiceSilent:
		o.dispatchAsync(ctx, request, true)
	case intent.QueueChoiceCancel:
		o.playCue(ctx, audio.CueCancel)
	}
}

// resolveSwitchChoice applies the user's answer to the ready-response
// prompt.
func (o *Orchestrator) resolveSwitchChoice(ctx context.Context, choice intent.SwitchChoice) {
	itemID := o.state.NotifyItemID
	o.state.ClearChoice()

	item, ok := o.store.ReadyByChannel(o.channel)
	if !ok || item.ID != itemID {
		o.playCue(ctx, audio.CueError)
		return
	}

	switch choice {
	case intent.SwitchChoiceRead:
		o.readItem(ctx, item)
	case intent.SwitchChoicePrompt:
		// Hold the item back and let the user ask something new right away.
		o.state.PrefetchItemID = item.ID
		o.state.RepromptCooldownUntil = o.now().Add(o.notifyCooldown)
		o.state.WakeGraceUntil = o.now().Add(o.wakeGrace)
		o.playCue(ctx, audio.CueAcknowledge)
	case intent.SwitchChoiceCancel:
		// Dismissed unheard; mark heard so it is not announced again.
		o.markHeard(ctx, item.ID)
		o.playCue(ctx, audio.CueCancel)
	}
}

// readItem speaks a ready item's response and retires it.
func (o *Orchestrator) readItem(ctx context.Context, item queue.Item) {
	if err := o.speak(ctx, item.ResponseText, false); err != nil {
		slog.Warn("pipeline: ready item playback failed", "item", item.ID, "error", err)
		return
	}
	o.state.LastSpokenShort = item.Summary
	o.markHeard(ctx, item.ID)
	if o.state.WaitItemID == item.ID {
		o.state.WaitItemID = ""
		o.state.SilentWait = false
	}
}

func (o *Orchestrator) markHeard(ctx context.Context, itemID string) {
	if err := o.store.MarkHeard(itemID); err != nil {
		slog.Error("pipeline: mark heard", "item", itemID, "error", err)
		return
	}
	o.metrics.QueueDepth.Add(ctx, -1)
}

// offerReadyItem announces a ready item and opens the switch-choice prompt.
func (o *Orchestrator) offerReadyItem(ctx context.Context, item queue.Item) {
	o.playCue(ctx, audio.CueNotify)
	if err := o.speak(ctx, notifyPrompt, false); err != nil {
		slog.Warn("pipeline: ready notification failed", "error", err)
	}
	o.state.PendingChoice = ChoiceSwitch
	o.state.NotifyItemID = item.ID
	o.state.ChoiceGraceUntil = o.now().Add(o.choiceGrace)
	o.state.PrefetchItemID = item.ID
	o.state.RepromptCooldownUntil = o.now().Add(o.notifyCooldown)
}

// Run drives the ready-item notifier and the watchdog until ctx is
// cancelled. Call it on its own goroutine.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.notifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.watchdog()
			o.maybeNotifyReady(ctx)
		case <-o.readyCheck:
			o.maybeNotifyReady(ctx)
		}
	}
}

// maybeNotifyReady announces the oldest ready item when the session is idle.
func (o *Orchestrator) maybeNotifyReady(ctx context.Context) {
	if o.processing.Load() || o.player.IsPlaying() {
		return
	}
	o.ctl.Lock()
	defer o.ctl.Unlock()

	if o.state.PendingChoice != ChoiceNone || o.state.IdleNotify {
		return
	}
	item, ok := o.store.ReadyByChannel(o.channel)
	if !ok {
		return
	}
	now := o.now()

	// Silent wait resolves by reading the awaited response directly.
	if o.state.SilentWait && item.ID == o.state.WaitItemID {
		o.readItem(ctx, item)
		return
	}

	// Re-announcing the same declined item waits out the cooldown.
	if item.ID == o.state.PrefetchItemID {
		if now.Before(o.state.RepromptCooldownUntil) || o.state.Reprompting {
			return
		}
		o.state.Reprompting = true
		o.offerReadyItem(ctx, item)
		o.state.Reprompting = false
		return
	}

	o.state.IdleNotify = true
	o.offerReadyItem(ctx, item)
	o.state.IdleNotify = false
}

// watchdog recovers a session stuck in processing longer than the timeout.
func (o *Orchestrator) watchdog() {
	if !o.processing.Load() {
		return
	}
	since := time.Unix(0, o.processingSince.Load())
	if o.now().Sub(since) < o.watchdogTimeout {
		return
	}
	slog.Error("pipeline: watchdog recovering stuck session",
		"channel", o.channel, "stuck_for", o.now().Sub(since))
	o.player.Stop()
	if o.ctl.TryLock() {
		o.state.Reset()
		o.ctl.Unlock()
	}
	o.processing.Store(false)
}

// SetClassifier swaps the intent classifier. The new classifier applies from
// the next utterance on.
func (o *Orchestrator) SetClassifier(c *intent.Classifier) {
	if c == nil {
		return
	}
	o.ctl.Lock()
	o.classifier = c
	o.ctl.Unlock()
}

// Reset hard-resets the session: stops playback and clears all transient
// state.
func (o *Orchestrator) Reset() {
	o.player.Stop()
	o.ctl.Lock()
	o.state.Reset()
	o.ctl.Unlock()
	o.processing.Store(false)
}

// signalReady nudges the notifier without blocking.
func (o *Orchestrator) signalReady() {
	select {
	case o.readyCheck <- struct{}{}:
	default:
	}
}

// speak synthesizes and plays one sentence, updating playback tracking.
func (o *Orchestrator) speak(ctx context.Context, text string, summary bool) error {
	start := o.now()
	stream, err := o.tts.Synthesize(ctx, text)
	o.metrics.TTSDuration.Record(ctx, o.now().Sub(start).Seconds())
	if err != nil {
		o.dependencyAlert(ctx, "tts")
		return fmt.Errorf("pipeline: synthesize: %w", err)
	}
	defer stream.Close()

	if err := o.player.PlayStream(ctx, stream); err != nil {
		return fmt.Errorf("pipeline: play: %w", err)
	}
	if summary {
		o.state.LastSpokenShort = text
	} else {
		o.state.LastSpokenFull = text
	}
	o.state.WasSummary = summary
	o.state.LastPlaybackEnd = o.now()
	return nil
}

// playCue plays a short cue, logging failures.
func (o *Orchestrator) playCue(ctx context.Context, cue audio.Cue) {
	if err := o.player.PlayCue(ctx, cue); err != nil {
		slog.Warn("pipeline: cue playback failed", "cue", cue.String(), "error", err)
	}
}

// failedWakeCue plays the corrective missed-wake cue, rate limited.
func (o *Orchestrator) failedWakeCue(ctx context.Context) {
	now := o.now()
	if now.Before(o.state.FailedWakeCooldownUntil) || o.state.MissedWakeCheck {
		return
	}
	o.state.MissedWakeCheck = true
	o.playCue(ctx, audio.CueMissedWake)
	o.state.FailedWakeCooldownUntil = now.Add(o.failedWakeCooldown)
	o.state.MissedWakeCheck = false
}

// dependencyAlert plays the error cue for a failing dependency, rate limited
// per dependency.
func (o *Orchestrator) dependencyAlert(ctx context.Context, dependency string) {
	now := o.now()
	if !o.state.AlertAllowed(dependency, now) {
		return
	}
	o.state.AlertCooldownUntil[dependency] = now.Add(o.alertCooldown)
	o.playCue(ctx, audio.CueError)
}

// record mirrors one conversation turn, best-effort.
func (o *Orchestrator) record(ctx context.Context, role, content string) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(ctx, o.sessionKey, role, content); err != nil {
		slog.Debug("pipeline: transcript mirror failed", "role", role, "error", err)
	}
}

// hasPendingItem reports whether a fire-and-forget item for this channel is
// still pending.
func (o *Orchestrator) hasPendingItem() bool {
	for _, item := range o.store.Pending() {
		if item.Channel == o.channel {
			return true
		}
	}
	return false
}
