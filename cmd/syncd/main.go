package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waslni/shipsync/internal/config"
	"github.com/waslni/shipsync/internal/connectivity"
	"github.com/waslni/shipsync/internal/entity"
	"github.com/waslni/shipsync/internal/httpapi"
	"github.com/waslni/shipsync/internal/identity"
	"github.com/waslni/shipsync/internal/localstore"
	"github.com/waslni/shipsync/internal/queue"
	"github.com/waslni/shipsync/internal/remote"
	"github.com/waslni/shipsync/internal/syncengine"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "shipsync").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	actor, err := identity.ParseSession(cfg.SessionToken, cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve acting user from session token")
	}
	log.Info().Str("user_id", actor.UserID).Str("company_id", actor.CompanyID).Msg("session resolved")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer local.Close()

	// Opening the pool is lazy; startup succeeds with zero connectivity.
	rs, err := remote.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure remote store")
	}
	defer rs.Close()

	q := queue.New(local)
	services := entity.NewServices(rs, local, q)

	engine := syncengine.New(q, local)
	for _, svc := range services.All() {
		engine.Register(svc)
	}

	runSync := func(reason string) {
		syncCtx, cancelSync := context.WithTimeout(ctx, 5*time.Minute)
		defer cancelSync()
		if _, err := engine.Sync(syncCtx); err != nil {
			if err == syncengine.ErrSyncInProgress {
				log.Debug().Str("reason", reason).Msg("sync trigger coalesced")
				return
			}
			log.Warn().Err(err).Str("reason", reason).Msg("sync cycle failed, will retry")
		}
	}

	monitor := connectivity.NewMonitor(rs.Ping, connectivity.Config{
		Interval: cfg.ProbeInterval,
		Debounce: cfg.Debounce,
	})
	monitor.OnOnline = func() { go runSync("reconnect") }
	go monitor.Run(ctx)

	// Periodic safety net: picks up entries queued after a cycle started
	// Draining, which edge triggers alone would leave behind.
	if cfg.SyncInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if monitor.IsOnline() {
						runSync("periodic")
					}
				}
			}
		}()
	}

	api := &httpapi.Server{Engine: engine, Queue: q, Monitor: monitor}
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // trigger runs a full cycle inline
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting control API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control API failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API shutdown error")
	}

	log.Info().Msg("stopped")
}
