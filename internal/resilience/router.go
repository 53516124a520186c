// Package resilience provides the speech-synthesis backend router: a
// stateless-per-call backend selector with cross-call failure memory.
//
// The central type is [Router]. It fails over between a configured primary
// and an optional fallback backend, remembers when the primary last failed so
// subsequent calls prefer the fallback while the primary's unavailability
// window is open, and recovers fast: a single primary success clears the
// window immediately.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/observe"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
)

// ErrNoBackend is returned when synthesis is attempted with no usable backend
// configured.
var ErrNoBackend = errors.New("no tts backend configured")

// minUnavailableWindow is the floor on how long a failed primary is
// considered unavailable; a configured longer duration wins.
const minUnavailableWindow = 3 * time.Second

// Option is a functional option for configuring a [Router].
type Option func(*Router)

// WithFallback registers the fallback backend tried when the primary fails or
// is inside its unavailability window.
func WithFallback(name tts.Backend, provider tts.Provider) Option {
	return func(r *Router) {
		r.fallbackName = name
		r.fallback = provider
	}
}

// WithUnavailableWindow sets how long a failed primary is considered
// unavailable. Durations below the 3s floor are raised to it.
func WithUnavailableWindow(d time.Duration) Option {
	return func(r *Router) {
		if d > minUnavailableWindow {
			r.window = d
		}
	}
}

// WithMetrics attaches the metrics instruments recording failover activity.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// Router selects a TTS backend per call and remembers primary failures
// across calls.
type Router struct {
	primaryName  tts.Backend
	primary      tts.Provider
	fallbackName tts.Backend
	fallback     tts.Provider
	window       time.Duration
	metrics      *observe.Metrics

	mu              sync.Mutex
	primaryDownTill time.Time
	override        tts.Backend
	failures        *failureTracker

	// now is stubbed in tests.
	now func() time.Time
}

// NewRouter creates a Router with primary as the preferred backend.
func NewRouter(primaryName tts.Backend, primary tts.Provider, opts ...Option) *Router {
	r := &Router{
		primaryName: primaryName,
		primary:     primary,
		window:      minUnavailableWindow,
		failures:    newFailureTracker(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetOverride forces every subsequent call to use the named backend,
// bypassing the primary/fallback ordering entirely, until cleared with an
// empty name.
func (r *Router) SetOverride(name tts.Backend) {
	r.mu.Lock()
	r.override = name
	r.mu.Unlock()
	if name != "" {
		slog.Info("tts router: backend override set", "backend", string(name))
	} else {
		slog.Info("tts router: backend override cleared")
	}
}

// Failures returns a snapshot of the deduplicated backend failure records,
// for diagnostics.
func (r *Router) Failures() []FailureRecord {
	return r.failures.Snapshot()
}

// Synthesize renders text through the first backend that succeeds, in the
// order decided by the selection algorithm. When every attempted backend
// fails, the last failure is surfaced rather than a silent empty result.
func (r *Router) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	attempts := r.plan()
	if len(attempts) == 0 {
		return nil, ErrNoBackend
	}

	var lastErr error
	for _, a := range attempts {
		stream, err := a.provider.Synthesize(ctx, text)
		if err == nil {
			r.recordSuccess(ctx, a.name)
			return stream, nil
		}
		lastErr = err
		r.recordFailure(a.name, err)
		slog.Warn("tts router: backend failed, trying next",
			"backend", string(a.name), "error", err)
	}
	return nil, fmt.Errorf("tts router: all backends failed: %w", lastErr)
}

type attempt struct {
	name     tts.Backend
	provider tts.Provider
}

// plan computes the ordered backend attempt list for one call.
func (r *Router) plan() []attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	primary := attempt{r.primaryName, r.primary}
	fallback := attempt{r.fallbackName, r.fallback}

	if r.override != "" {
		switch r.override {
		case r.primaryName:
			return []attempt{primary}
		case r.fallbackName:
			if r.fallback != nil {
				return []attempt{fallback}
			}
		}
		slog.Warn("tts router: override names an unconfigured backend, ignoring",
			"override", string(r.override))
	}

	if r.fallback == nil || r.fallbackName == r.primaryName {
		return []attempt{primary}
	}
	if r.now().Before(r.primaryDownTill) {
		// Primary failed recently: fallback first, then give the primary a
		// chance anyway should the fallback also be down.
		return []attempt{fallback, primary}
	}
	return []attempt{primary, fallback}
}

func (r *Router) recordFailure(name tts.Backend, err error) {
	r.failures.Record(name, err)

	if name != r.primaryName {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallback == nil {
		// No fallback to prefer; the window would change nothing.
		return
	}
	r.primaryDownTill = r.now().Add(r.window)
}

func (r *Router) recordSuccess(ctx context.Context, name tts.Backend) {
	if name == r.primaryName {
		r.mu.Lock()
		r.primaryDownTill = time.Time{}
		r.mu.Unlock()
		return
	}
	if r.metrics != nil {
		r.metrics.RecordTTSFailover(ctx, string(name))
	}
	slog.Warn("tts router: degraded operation, synthesis served by fallback",
		"backend", string(name), "primary", string(r.primaryName))
}
