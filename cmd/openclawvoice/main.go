// Command openclawvoice runs the voice assistant: it joins a Discord voice
// channel, transcribes utterances, forwards them to the agent gateway and
// speaks the replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/app"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found, pass -config or create it", configPath)
		}
		return err
	}

	level := newLogger(cfg.Server.LogLevel)

	slog.Info("starting openclawvoice",
		"version", app.Version,
		"config", configPath,
		"wake_phrase", cfg.Wake.Phrase,
		"stt", cfg.STT.Name,
		"tts", cfg.TTS.Primary.Name,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(configPath, a.ApplyReload)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	runErr := a.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		slog.Warn("shutdown incomplete", "err", err)
	}

	return runErr
}

// newLogger installs the process-wide text logger and returns the level var
// so config reloads can adjust verbosity at runtime.
func newLogger(level config.LogLevel) *slog.LevelVar {
	lv := new(slog.LevelVar)
	switch level {
	case config.LogDebug:
		lv.Set(slog.LevelDebug)
	case config.LogWarn:
		lv.Set(slog.LevelWarn)
	case config.LogError:
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	slog.SetDefault(slog.New(handler))
	return lv
}
