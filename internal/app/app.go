// Package app wires all subsystems into a running voice assistant.
//
// The App struct owns the full lifecycle: New creates and connects the
// subsystems, Run joins the voice channel and drives the pipeline until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithDispatcher, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/config"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/discord"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/gateway"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/health"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/history"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/intent"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/observe"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/pipeline"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/queue"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/resilience"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/stt"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	store      *queue.Store
	historyDB  history.Store
	sttProv    stt.Provider
	ttsRouter  *resilience.Router
	gateway    *gateway.Client
	dispatcher pipeline.Dispatcher
	bot        *discord.Bot
	metrics    *observe.Metrics
	logLevel   *slog.LevelVar

	// orch is built in Run once the voice channel playback sink exists.
	mu   sync.Mutex
	orch *pipeline.Orchestrator

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the default provider registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithHistoryStore injects a transcript store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.historyDB = s }
}

// WithDispatcher injects a dispatcher instead of wiring the gateway client.
func WithDispatcher(d pipeline.Dispatcher) Option {
	return func(a *App) { a.dispatcher = d }
}

// WithSTT injects a transcription provider instead of creating one from
// config.
func WithSTT(p stt.Provider) Option {
	return func(a *App) { a.sttProv = p }
}

// WithLogLevel attaches the level var controlling the process logger so
// config reloads can adjust verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. The Discord session
// is opened here; the voice channel is joined in Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: DefaultRegistry(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initObserve(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}
	if err := a.initQueue(); err != nil {
		return nil, fmt.Errorf("app: init queue: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	a.initGateway()
	if err := a.initBot(); err != nil {
		return nil, fmt.Errorf("app: init discord: %w", err)
	}

	return a, nil
}

func (a *App) initObserve(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})
	a.metrics = observe.DefaultMetrics()
	return nil
}

func (a *App) initQueue() error {
	path := a.cfg.Queue.Path
	if path == "" {
		path = "queue.json"
	}
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	store, err := queue.Open(path)
	if err != nil {
		return err
	}
	a.store = store

	// The persisted mode wins over config on anything but a first start.
	if fresh && a.cfg.Queue.DefaultMode != "" {
		if err := store.SetMode(queue.Mode(a.cfg.Queue.DefaultMode)); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.historyDB != nil {
		return nil
	}
	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		store, err := history.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.historyDB = store
	} else {
		a.historyDB = history.NewMemoryStore()
	}
	a.closers = append(a.closers, func() error {
		a.historyDB.Close()
		return nil
	})
	return nil
}

func (a *App) initProviders() error {
	if a.sttProv == nil {
		p, err := a.registry.CreateSTT(a.cfg.STT)
		if err != nil {
			return fmt.Errorf("create stt provider %q: %w", a.cfg.STT.Name, err)
		}
		a.sttProv = p
	}

	primary, err := a.registry.CreateTTS(a.cfg.TTS.Primary)
	if err != nil {
		return fmt.Errorf("create tts provider %q: %w", a.cfg.TTS.Primary.Name, err)
	}
	routerOpts := []resilience.Option{resilience.WithMetrics(a.metrics)}
	if a.cfg.TTS.Fallback.Name != "" {
		fallback, err := a.registry.CreateTTS(a.cfg.TTS.Fallback)
		if err != nil {
			return fmt.Errorf("create tts provider %q: %w", a.cfg.TTS.Fallback.Name, err)
		}
		routerOpts = append(routerOpts, resilience.WithFallback(tts.Backend(a.cfg.TTS.Fallback.Name), fallback))
	}
	a.ttsRouter = resilience.NewRouter(tts.Backend(a.cfg.TTS.Primary.Name), primary, routerOpts...)
	a.ttsRouter.SetOverride(a.overrideBackend(a.cfg.TTS.Override))
	return nil
}

func (a *App) initGateway() {
	if a.dispatcher != nil {
		return
	}
	a.gateway = gateway.New(a.cfg.Gateway.URL, a.cfg.Gateway.Token,
		gateway.WithClientInfo("openclaw-voice", Version),
		gateway.WithMetrics(a.metrics))
	d := pipeline.NewGatewayDispatcher(a.gateway)
	a.dispatcher = d
	a.closers = append(a.closers, func() error {
		d.Close()
		a.gateway.Destroy()
		return nil
	})
}

func (a *App) initBot() error {
	bot, err := discord.New(discord.Config{
		Token:          a.cfg.Discord.Token,
		GuildID:        a.cfg.Discord.GuildID,
		VoiceChannelID: a.cfg.Discord.VoiceChannelID,
		TextChannelID:  a.cfg.Discord.TextChannelID,
	}, a.handleUtterance)
	if err != nil {
		return err
	}
	a.bot = bot
	a.closers = append(a.closers, bot.Close)
	return nil
}

// handleUtterance forwards captured utterances to the orchestrator. Captures
// arriving before Run has built the orchestrator are dropped.
func (a *App) handleUtterance(ctx context.Context, speakerID string, pcm []byte, duration time.Duration) {
	a.mu.Lock()
	orch := a.orch
	a.mu.Unlock()
	if orch == nil {
		slog.Debug("app: utterance before pipeline ready, dropped", "speaker", speakerID)
		return
	}
	orch.HandleUtterance(ctx, speakerID, pcm, duration)
}

// Run connects the gateway, joins the voice channel, builds the pipeline and
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.gateway != nil {
		if err := a.gateway.Connect(ctx); err != nil {
			// The client keeps reconnecting in the background; requests
			// made before it succeeds fail fast and surface as dispatch
			// failures.
			slog.Warn("app: initial gateway connect failed, retrying in background", "err", err)
		}
	}

	if err := a.bot.JoinVoice(ctx); err != nil {
		return err
	}

	recorder := a.buildRecorder()
	orch, err := pipeline.New(pipeline.Config{
		Store:       a.store,
		Dispatcher:  a.dispatcher,
		Classifier:  intent.New(a.cfg.Wake.Phrase),
		STT:         a.sttProv,
		TTS:         a.ttsRouter,
		Player:      a.bot.Player(),
		Recorder:    recorder,
		Metrics:     a.metrics,
		Channel:     a.cfg.Discord.VoiceChannelID,
		DisplayName: "voice",
		SessionKey:  a.cfg.Gateway.SessionKey,
	})
	if err != nil {
		return fmt.Errorf("app: build pipeline: %w", err)
	}
	a.mu.Lock()
	a.orch = orch
	a.mu.Unlock()
	a.metrics.ActiveSessions.Add(ctx, 1)
	defer a.metrics.ActiveSessions.Add(context.Background(), -1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := orch.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}

	slog.Info("app running",
		"guild", a.cfg.Discord.GuildID,
		"voice_channel", a.cfg.Discord.VoiceChannelID,
		"session_key", a.cfg.Gateway.SessionKey,
	)
	return g.Wait()
}

// serveHTTP exposes /metrics, /healthz and /readyz until ctx is cancelled.
func (a *App) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Checker{Name: "gateway", Check: a.checkGateway},
	).Register(mux)

	srv := &http.Server{Addr: a.cfg.Server.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

func (a *App) checkGateway(context.Context) error {
	if a.gateway == nil {
		return nil // injected dispatcher, nothing to probe
	}
	if state := a.gateway.State(); state != gateway.StateConnected {
		return fmt.Errorf("gateway is %s", state)
	}
	return nil
}

// buildRecorder combines the durable transcript store with the optional
// Discord text mirror.
func (a *App) buildRecorder() pipeline.Recorder {
	recorders := []pipeline.Recorder{a.historyDB}
	if mirror := a.bot.Mirror(); mirror != nil {
		recorders = append(recorders, mirror)
	}
	if len(recorders) == 1 {
		return recorders[0]
	}
	return multiRecorder(recorders)
}

// multiRecorder fans one turn out to several recorders.
type multiRecorder []pipeline.Recorder

func (m multiRecorder) Record(ctx context.Context, sessionKey, role, content string) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, sessionKey, role, content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyReload applies a config file change to the running application.
// Only hot-reloadable fields take effect; everything else needs a restart.
func (a *App) ApplyReload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.WakePhraseChanged {
		a.mu.Lock()
		orch := a.orch
		a.mu.Unlock()
		if orch != nil {
			orch.SetClassifier(intent.New(d.NewWakePhrase))
			slog.Info("app: wake phrase changed", "phrase", d.NewWakePhrase)
		}
	}
	if d.TTSOverrideChanged {
		a.ttsRouter.SetOverride(a.overrideBackend(d.NewTTSOverride))
	}
	if d.QueueModeChanged {
		if err := a.store.SetMode(queue.Mode(d.NewQueueMode)); err != nil {
			slog.Warn("app: queue mode change failed", "err", err)
		} else {
			slog.Info("app: queue mode changed", "mode", d.NewQueueMode)
		}
	}
}

// overrideBackend resolves the configured override to a concrete backend
// name.
func (a *App) overrideBackend(o config.RouteOverride) tts.Backend {
	switch o {
	case config.OverridePrimary:
		return tts.Backend(a.cfg.TTS.Primary.Name)
	case config.OverrideFallback:
		return tts.Backend(a.cfg.TTS.Fallback.Name)
	default:
		return ""
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// slogLevel maps a config log level to a slog level.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
