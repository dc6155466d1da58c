package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/meetrelay/internal/adapters/assistant"
	router "github.com/dkeye/meetrelay/internal/adapters/http"
	signaling "github.com/dkeye/meetrelay/internal/adapters/signal"
	"github.com/dkeye/meetrelay/internal/adapters/store"
	"github.com/dkeye/meetrelay/internal/app"
	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/app/orch"
	"github.com/dkeye/meetrelay/internal/config"
	"github.com/dkeye/meetrelay/internal/core"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	health := core.NewHealth(func(from, to core.HealthState) {
		log.Info().Str("module", "main").Stringer("from", from).Stringer("to", to).Msg("storage health changed")
	})
	fallback := store.NewMemoryStore(cfg.Fallback.MaxItems)

	var durable core.Store
	var redisStore *store.RedisStore
	if cfg.Redis.URL != "" {
		redisStore, err = store.NewRedisStore(cfg.Redis.URL, health)
		if err != nil {
			log.Error().Err(err).Msg("redis disabled, running on the in-process store only")
		} else {
			durable = redisStore
		}
	} else {
		log.Warn().Msg("no redis.url, running on the in-process store only")
	}
	facade := store.NewFacade(durable, fallback, health)

	repo := meeting.NewRepository(facade, meeting.WithTTL(cfg.Meeting.TTL))
	reg := app.NewRegistry()
	o := &orch.Orchestrator{
		Registry: reg,
		Repo:     repo,
		Policy:   app.SimplePolicy{},
	}

	var asst core.Assistant
	if cfg.Assistant.APIKey != "" {
		client, err := assistant.New(assistant.Config{
			BaseURL: cfg.Assistant.BaseURL,
			APIKey:  cfg.Assistant.APIKey,
			Model:   cfg.Assistant.Model,
			Timeout: cfg.Assistant.Timeout,
		})
		if err != nil {
			log.Error().Err(err).Msg("assistant disabled")
		} else {
			asst = client
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	ctl := signaling.NewSignalWSController(gctx, o, asst, signaling.Settings{
		ReadLimit:         cfg.ReadLimit,
		PingPeriod:        cfg.PingPeriod,
		HistoryOnJoin:     cfg.Meeting.HistoryOnJoin,
		AssistantTimeout:  cfg.Assistant.Timeout,
		ChatLimit:         cfg.Rate.ChatLimit,
		ChatInterval:      cfg.Rate.ChatInterval,
		AssistantLimit:    cfg.Rate.AssistantLimit,
		AssistantInterval: cfg.Rate.AssistantInterval,
	})
	sweeper := orch.NewSweeper(o, fallback, health, orch.SweeperConfig{
		FallbackInterval: cfg.Fallback.EvictInterval,
		Interval:         cfg.Sweeper.Interval,
		EmptyGrace:       cfg.Sweeper.EmptyGrace,
		MaxRoomAge:       cfg.Sweeper.MaxRoomAge,
		MaxRooms:         cfg.Sweeper.MaxRooms,
	})

	r := router.SetupRouter(cfg, o, ctl, facade, health)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("meetrelay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	if redisStore != nil {
		g.Go(func() error { return redisStore.Monitor(gctx, cfg.Redis.HealthInterval) })
	}
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return repo.DrainErrors(gctx) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	reg.Clear()
	fallback.Clear()
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	log.Info().Msg("Server exited gracefully")
}
