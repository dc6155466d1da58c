package orch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/core"
)

type SweeperConfig struct {
	FallbackInterval time.Duration
	Interval         time.Duration
	EmptyGrace       time.Duration
	MaxRoomAge       time.Duration
	MaxRooms         int
}

func (c *SweeperConfig) defaults() {
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = 5 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.EmptyGrace <= 0 {
		c.EmptyGrace = 30 * time.Minute
	}
	if c.MaxRoomAge <= 0 {
		c.MaxRoomAge = 12 * time.Hour
	}
	if c.MaxRooms <= 0 {
		c.MaxRooms = 500
	}
}

// Sweeper retires meetings and rooms on three independent schedules:
// fallback hygiene, expired meetings in the durable store and idle or
// oversized runtime rooms.
type Sweeper struct {
	orch     *Orchestrator
	fallback core.Evicter
	health   core.HealthReader
	cfg      SweeperConfig
	now      func() time.Time
}

func NewSweeper(o *Orchestrator, fallback core.Evicter, health core.HealthReader, cfg SweeperConfig) *Sweeper {
	cfg.defaults()
	return &Sweeper{orch: o, fallback: fallback, health: health, cfg: cfg, now: time.Now}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	fallbackTick := time.NewTicker(s.cfg.FallbackInterval)
	defer fallbackTick.Stop()
	expiredTick := time.NewTicker(s.cfg.Interval)
	defer expiredTick.Stop()
	roomsTick := time.NewTicker(s.cfg.Interval)
	defer roomsTick.Stop()

	log.Info().Str("module", "orch.sweeper").Dur("fallback_every", s.cfg.FallbackInterval).Dur("every", s.cfg.Interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fallbackTick.C:
			s.SweepFallback()
		case <-expiredTick.C:
			s.SweepExpired(ctx)
		case <-roomsTick.C:
			s.SweepRooms()
		}
	}
}

// SweepFallback evicts expired and oversized fallback entries regardless of
// durable store health. Runtime rooms of meetings it expired go too.
func (s *Sweeper) SweepFallback() core.EvictStats {
	if s.fallback == nil {
		return core.EvictStats{}
	}
	stats := s.fallback.Evict(s.now())
	for _, token := range stats.Expired {
		if s.orch.Registry.Has(token) {
			s.orch.EvictRoom(token, "expired")
		}
	}
	if len(stats.Expired) > 0 || stats.Trimmed > 0 {
		log.Info().Str("module", "orch.sweeper").Int("expired", len(stats.Expired)).Int("trimmed", stats.Trimmed).Msg("fallback hygiene")
	}
	return stats
}

// SweepExpired ends every durable meeting past its expiry. It does nothing
// while the durable store is not ready, since the active room set may then
// come from the fallback.
func (s *Sweeper) SweepExpired(ctx context.Context) int {
	if s.health == nil || !s.health.Ready() {
		return 0
	}
	tokens, err := s.orch.Repo.ActiveMeetings(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.sweeper").Msg("list active meetings")
		return 0
	}
	now := s.now()
	swept := 0
	for _, token := range tokens {
		m, err := s.orch.Repo.GetMeeting(ctx, token)
		switch {
		case errors.Is(err, meeting.ErrMeetingNotFound):
			// The durable TTL already took the hash; clear what is left.
			if err := s.orch.Repo.DeleteMeeting(ctx, token); err != nil {
				log.Error().Err(err).Str("module", "orch.sweeper").Str("token", string(token)).Msg("delete stale meeting")
				continue
			}
			if s.orch.Registry.Has(token) {
				s.orch.EvictRoom(token, "expired")
			}
			swept++
		case err != nil:
			log.Error().Err(err).Str("module", "orch.sweeper").Str("token", string(token)).Msg("read meeting")
		case m.Expired(now):
			if err := s.orch.EndMeeting(ctx, token, "expired"); err != nil {
				log.Error().Err(err).Str("module", "orch.sweeper").Str("token", string(token)).Msg("end expired meeting")
				continue
			}
			swept++
		}
	}
	if swept > 0 {
		log.Info().Str("module", "orch.sweeper").Int("swept", swept).Msg("expired meetings swept")
	}
	return swept
}

// SweepRooms drops runtime rooms empty for longer than the grace period or
// older than the absolute cap, then evicts the oldest beyond MaxRooms.
func (s *Sweeper) SweepRooms() int {
	now := s.now()
	rooms := s.orch.Registry.Rooms()
	kept := make([]int, 0, len(rooms))
	evicted := 0
	for i, info := range rooms {
		switch {
		case info.MemberCount == 0 && since(info.EmptySince, now) > s.cfg.EmptyGrace:
			s.orch.EvictRoom(info.Token, "idle")
			evicted++
		case since(info.CreatedAt, now) > s.cfg.MaxRoomAge:
			s.orch.EvictRoom(info.Token, "max-age")
			evicted++
		default:
			kept = append(kept, i)
		}
	}
	// rooms is oldest first.
	for over := len(kept) - s.cfg.MaxRooms; over > 0; over-- {
		s.orch.EvictRoom(rooms[kept[0]].Token, "capacity")
		kept = kept[1:]
		evicted++
	}
	if evicted > 0 {
		log.Info().Str("module", "orch.sweeper").Int("evicted", evicted).Int("rooms", len(kept)).Msg("runtime rooms swept")
	}
	return evicted
}
