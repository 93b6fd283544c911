package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/saffronlab/loom/internal/adapters/http"
	wsig "github.com/saffronlab/loom/internal/adapters/signal"
	"github.com/saffronlab/loom/internal/config"
	"github.com/saffronlab/loom/internal/core"
	"github.com/saffronlab/loom/internal/export"
	"github.com/saffronlab/loom/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("backing store init failed")
	}
	defer backend.Close()

	gateway := store.NewGateway(backend, store.GuardConfig{
		ShrinkMinBytes:  cfg.Guard.ShrinkMinBytes,
		NegligibleBytes: cfg.Guard.NegligibleBytes,
	})
	rooms := core.NewRoomManager(core.Deps{
		Gateway: gateway,
		Limits: core.Limits{
			ProjectMaxBytes: cfg.Limits.ProjectMaxBytes,
			TotalMaxBytes:   cfg.Limits.TotalMaxBytes,
		},
		LogCapacity: cfg.UpdateLogCapacity,
		IdleTTL:     cfg.RoomIdleTTL,
	})
	rooms.StartJanitor(ctx)

	ctl := wsig.NewSessionController(rooms, cfg.ReadLimit, cfg.PingPeriod)
	handlers := &router.Handlers{
		Rooms:      rooms,
		Backend:    backend,
		Gateway:    gateway,
		Export:     export.NewService(),
		Signal:     ctl,
		AdminToken: cfg.AdminToken,
		MaxBody:    cfg.ReadLimit,
	}

	r := router.SetupRouter(ctx, cfg, ctl, handlers)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Loom hub started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func newBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return store.NewPostgresBackend(ctx, cfg.Store.DatabaseURL)
	case "redis", "":
		return store.NewRedisBackend(cfg.Store.RedisURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
