// Soundboard server: matches finalized speech transcripts against trigger
// phrases and pushes play commands to connected clients.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Evman90/SoundBoard/internal/audio"
	"github.com/Evman90/SoundBoard/internal/config"
	"github.com/Evman90/SoundBoard/internal/engine"
	"github.com/Evman90/SoundBoard/internal/playback"
	"github.com/Evman90/SoundBoard/internal/profile"
	"github.com/Evman90/SoundBoard/internal/resilience"
	"github.com/Evman90/SoundBoard/internal/server"
	"github.com/Evman90/SoundBoard/internal/session"
	"github.com/Evman90/SoundBoard/internal/speech"
	"github.com/Evman90/SoundBoard/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	st, err := openStore(cfg.Storage)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	// The hub is always a playback sink; a local player joins it when
	// server-side audio output is enabled.
	hub := server.NewHub()
	sinks := []playback.Sink{hub}
	if cfg.Playback.Enabled {
		sinks = append(sinks, playback.NewLocal(st, cfg.Playback.Command))
	}

	eng := engine.New(st, playback.NewFanout(sinks...))
	profiles := profile.NewSerializer(st, eng)

	recognizer, newSource, err := speechProvider(cfg.Speech)
	if err != nil {
		slog.Error("failed to initialize speech provider", "provider", cfg.Speech.Provider, "error", err)
		os.Exit(1)
	}
	if recognizer != nil {
		defer func() { _ = recognizer.Close() }()
	}

	sessions := session.NewManager(session.Options{
		Matcher:    eng,
		Recognizer: recognizer,
		NewSource:  newSource,
		RestartPolicy: resilience.RestartPolicy{
			BaseDelay:   cfg.Session.RestartBackoffBase,
			MaxDelay:    cfg.Session.RestartBackoffMax,
			MaxFailures: cfg.Session.MaxRestartFailures,
		},
	})

	srv := server.New(st, sessions, profiles, hub, cfg)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("soundboard server starting", "addr", cfg.Server.Addr,
			"storage", cfg.Storage.Driver, "speech", cfg.Speech.Provider)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	sessions.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

func setupLogging(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	if cfg.Driver == "sqlite" {
		return store.OpenSQLite(cfg.Path)
	}
	return store.NewMemory(), nil
}

// speechProvider builds the recognizer and capture source for the configured
// provider. The external provider gets neither: clients run their own
// recognition and push transcripts over the websocket.
func speechProvider(cfg config.SpeechConfig) (speech.Recognizer, func() (session.Source, error), error) {
	if cfg.Provider != "google" {
		return nil, nil, nil
	}

	recognizer, err := speech.NewGoogle(context.Background(), speech.Config{
		Language:        cfg.Language,
		SampleRate:      cfg.SampleRate,
		CredentialsFile: cfg.CredentialsFile,
		Endpoint:        cfg.Endpoint,
		SilenceTimeout:  cfg.SilenceTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	newSource := func() (session.Source, error) {
		return audio.NewCapturer(cfg.SampleRate)
	}
	return recognizer, newSource, nil
}
