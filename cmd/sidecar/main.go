// The sidecar daemon keeps one collection/environment configuration fresh
// and serves flag evaluation to co-located processes over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagclient"
	"github.com/TimurManjosov/goflagclient/internal/config"
	"github.com/TimurManjosov/goflagclient/internal/telemetry"
)

func main() {
	bootLog := zerolog.New(os.Stderr)
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		bootLog.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("component", "sidecar").Logger()

	telemetry.Init()

	client, err := goflagclient.New(goflagclient.Options{
		Region:     cfg.Region,
		GUID:       cfg.GUID,
		APIKey:     cfg.APIKey,
		ServiceURL: cfg.ServiceURL,
		Logger:     log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client")
	}
	defer client.Close()

	ctx := context.Background()
	err = client.SetContext(ctx, cfg.CollectionID, cfg.EnvironmentID, goflagclient.ContextOptions{
		PersistentCacheDirectory: cfg.PersistentCacheDir,
		BootstrapFile:            cfg.BootstrapFile,
		LiveUpdateEnabled:        goflagclient.Bool(cfg.LiveUpdate),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     newRouter(client, log),
		ReadTimeout: 3 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("sidecar listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
